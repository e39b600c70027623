package walker

import "strings"

// Class 元素分类
type Class int

const (
	// ClassStructural 结构元素，本身不构成可翻译上下文
	ClassStructural Class = iota
	// ClassContent 内容元素，其中的文本需要翻译
	ClassContent
	// ClassOpaque 不透明元素，整个子树原样保留
	ClassOpaque
	// ClassAttribute 只翻译属性的元素
	ClassAttribute
)

func (c Class) String() string {
	switch c {
	case ClassContent:
		return "content"
	case ClassOpaque:
		return "opaque"
	case ClassAttribute:
		return "attribute"
	default:
		return "structural"
	}
}

var defaultContentTags = []string{
	"body", "section", "article", "aside", "header", "footer", "nav", "div",
	"p", "blockquote", "li", "dt", "dd", "td", "th", "caption", "figcaption",
	"h1", "h2", "h3", "h4", "h5", "h6", "summary", "legend", "label", "button", "option",
	"span", "a", "em", "strong", "b", "i", "u", "s", "small", "big", "sup", "sub",
	"cite", "q", "abbr", "dfn", "mark", "ins", "del", "time", "ruby", "rb", "rt",
}

var defaultOpaqueTags = []string{
	"head", "script", "style", "code", "pre", "kbd", "samp", "var",
	"math", "svg", "textarea", "noscript", "template",
	"iframe", "noembed", "noframes", "xmp",
}

var defaultAttributeTags = []string{"img", "area", "input"}

// 空白也作为翻译单元的段落类元素
var paragraphTags = map[string]bool{
	"p": true, "li": true, "td": true, "th": true, "dt": true, "dd": true,
	"caption": true, "figcaption": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// 作为提示发送给翻译后端的块级元素
var hintTags = map[string]bool{
	"p": true, "li": true, "td": true, "th": true, "dt": true, "dd": true,
	"caption": true, "figcaption": true, "blockquote": true, "summary": true, "legend": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// XHTML 中无需结束标签的空元素
var voidTags = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "param": true,
	"source": true, "track": true, "wbr": true,
}

// Classifier 标签分类表
type Classifier struct {
	table map[string]Class
}

// DefaultClassifier 返回内置分类表
func DefaultClassifier() *Classifier {
	return NewClassifier(nil, nil, nil)
}

// NewClassifier 在内置分类表之上叠加自定义分类，后者优先
func NewClassifier(content, opaque, attribute []string) *Classifier {
	c := &Classifier{table: make(map[string]Class)}
	c.set(defaultContentTags, ClassContent)
	c.set(defaultAttributeTags, ClassAttribute)
	c.set(defaultOpaqueTags, ClassOpaque)
	c.set(content, ClassContent)
	c.set(attribute, ClassAttribute)
	c.set(opaque, ClassOpaque)
	return c
}

func (c *Classifier) set(tags []string, class Class) {
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			c.table[tag] = class
		}
	}
}

// Class 返回标签的分类，未知标签为结构元素
func (c *Classifier) Class(tag string) Class {
	if class, ok := c.table[strings.ToLower(tag)]; ok {
		return class
	}
	return ClassStructural
}
