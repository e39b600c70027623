package walker

import (
	"bytes"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/nerdneilsfield/go-epub-translator/internal/segment"
)

// Options 文档解析选项
type Options struct {
	// ContentTags/OpaqueTags/AttributeTags 叠加在内置分类表之上
	ContentTags   []string
	OpaqueTags    []string
	AttributeTags []string

	// TranslateAttributes 是否翻译 Attributes 中列出的属性
	TranslateAttributes bool
	Attributes          []string
}

// DefaultOptions 默认选项
func DefaultOptions() Options {
	return Options{
		TranslateAttributes: true,
		Attributes:          []string{"alt", "title"},
	}
}

// Walker 在 XHTML 文档和分段模型之间转换
type Walker struct {
	classifier *Classifier
	attrs      map[string]bool
	opts       Options
	logger     *zap.Logger
}

// New 创建文档遍历器
func New(opts Options, logger *zap.Logger) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	attrs := make(map[string]bool, len(opts.Attributes))
	for _, name := range opts.Attributes {
		attrs[strings.ToLower(name)] = true
	}
	return &Walker{
		classifier: NewClassifier(opts.ContentTags, opts.OpaqueTags, opts.AttributeTags),
		attrs:      attrs,
		opts:       opts,
		logger:     logger,
	}
}

type frame struct {
	tag   string
	class Class
	node  int
}

// Parse 将 XHTML 文档切分为锚点和翻译单元
func (w *Walker) Parse(path string, src []byte) (*segment.Model, error) {
	toks, err := lex(src)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}

	m := segment.NewModel(path, src)
	var (
		stack   []frame
		opaque  int
		content int
	)

	for i, tok := range toks {
		switch tok.typ {
		case html.StartTagToken, html.SelfClosingTagToken:
			class := w.classifier.Class(tok.tag)
			kind := segment.AnchorStartTag
			if tok.typ == html.SelfClosingTagToken {
				kind = segment.AnchorSelfClosing
			}
			a := &segment.Anchor{Kind: kind, Tag: tok.tag, Raw: tok.raw, Depth: len(stack), Match: -1}
			if opaque == 0 && w.opts.TranslateAttributes && (class == ClassContent || class == ClassAttribute) {
				w.attachAttributes(m, a)
			}
			idx := m.AppendAnchor(a)

			if tok.typ == html.StartTagToken && !voidTags[tok.tag] {
				stack = append(stack, frame{tag: tok.tag, class: class, node: idx})
				switch class {
				case ClassOpaque:
					opaque++
				case ClassContent:
					content++
				}
			}

		case html.EndTagToken:
			a := &segment.Anchor{Kind: segment.AnchorEndTag, Tag: tok.tag, Raw: tok.raw, Match: -1}
			if len(stack) == 0 || stack[len(stack)-1].tag != tok.tag {
				// 多余的空元素结束标签，如 </br>
				a.Depth = len(stack)
				m.AppendAnchor(a)
				continue
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			a.Depth = len(stack)
			a.Match = top.node
			idx := m.AppendAnchor(a)
			m.Nodes[top.node].Anchor.Match = idx
			switch top.class {
			case ClassOpaque:
				opaque--
			case ClassContent:
				content--
			}

		case html.TextToken:
			if tok.cdata || opaque > 0 || content == 0 ||
				(strings.TrimSpace(tok.text) == "" && !soleContent(toks, i)) {
				m.AppendAnchor(&segment.Anchor{Kind: segment.AnchorText, Raw: tok.raw, Depth: len(stack), Match: -1})
				continue
			}
			m.AppendUnit(tok.text, tok.raw, hintFor(stack))

		case html.CommentToken:
			m.AppendAnchor(&segment.Anchor{Kind: segment.AnchorComment, Raw: tok.raw, Depth: len(stack), Match: -1})

		default:
			m.AppendAnchor(&segment.Anchor{Kind: segment.AnchorDoctype, Raw: tok.raw, Depth: len(stack), Match: -1})
		}
	}

	m.Structure = structure(toks)

	w.logger.Debug("parsed document",
		zap.String("path", path),
		zap.Int("nodes", len(m.Nodes)),
		zap.Int("units", len(m.Units())))
	return m, nil
}

// attachAttributes 为可翻译属性创建属性单元
func (w *Walker) attachAttributes(m *segment.Model, a *segment.Anchor) {
	for _, span := range scanAttrs(a.Raw) {
		if span.start < 0 || !w.attrs[span.name] {
			continue
		}
		raw := a.Raw[span.start:span.end]
		text := html.UnescapeString(string(raw))
		if strings.TrimSpace(text) == "" {
			continue
		}
		u := m.NewUnit(text, raw, a.Tag+"@"+span.name, span.name)
		a.Attrs = append(a.Attrs, segment.AttrSlot{
			Name:   span.name,
			Start:  span.start,
			End:    span.end,
			Quote:  span.quote,
			UnitID: u.ID,
		})
	}
}

// soleContent 空白文本是否是段落类元素的唯一内容
func soleContent(toks []token, i int) bool {
	if i == 0 || i+1 >= len(toks) {
		return false
	}
	prev, next := toks[i-1], toks[i+1]
	return prev.typ == html.StartTagToken && paragraphTags[prev.tag] &&
		next.typ == html.EndTagToken && next.tag == prev.tag
}

func hintFor(stack []frame) string {
	for i := len(stack) - 1; i >= 0; i-- {
		if hintTags[stack[i].tag] {
			return stack[i].tag
		}
	}
	if len(stack) == 0 {
		return ""
	}
	return stack[len(stack)-1].tag
}

// Serialize 按原顺序输出锚点原文和单元译文，未翻译或译文与原文相同的单元输出原始字节
func (w *Walker) Serialize(m *segment.Model) []byte {
	var buf bytes.Buffer
	buf.Grow(len(m.Source) + len(m.Source)/2)

	m.View(func() {
		for _, n := range m.Nodes {
			if n.Anchor != nil {
				writeAnchor(&buf, m, n.Anchor)
				continue
			}
			u := n.Unit
			if u.Status == segment.StatusTranslated && u.Translation != u.Text {
				buf.WriteString(escapeText(u.Translation))
			} else {
				buf.Write(u.Raw)
			}
		}
	})
	return buf.Bytes()
}

func writeAnchor(buf *bytes.Buffer, m *segment.Model, a *segment.Anchor) {
	last := 0
	for _, slot := range a.Attrs {
		u, ok := m.Unit(slot.UnitID)
		if !ok || u.Status != segment.StatusTranslated || u.Translation == u.Text {
			continue
		}
		buf.Write(a.Raw[last:slot.Start])
		buf.WriteString(escapeAttr(u.Translation, slot.Quote))
		last = slot.End
	}
	buf.Write(a.Raw[last:])
}
