package walker

import (
	"bytes"
	"strings"
)

type attrSpan struct {
	name  string
	start int
	end   int
	quote byte
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

// scanAttrs 扫描起始标签原始字节，返回各属性值的字节区间。
// 无值属性的 start/end 为 -1。
func scanAttrs(raw []byte) []attrSpan {
	i := 1
	for i < len(raw) && !isSpace(raw[i]) && raw[i] != '>' && raw[i] != '/' {
		i++
	}

	var spans []attrSpan
	for i < len(raw) {
		for i < len(raw) && (isSpace(raw[i]) || raw[i] == '/') {
			i++
		}
		if i >= len(raw) || raw[i] == '>' {
			break
		}

		ns := i
		for i < len(raw) && !isSpace(raw[i]) && raw[i] != '=' && raw[i] != '>' {
			if raw[i] == '/' && i+1 < len(raw) && raw[i+1] == '>' {
				break
			}
			i++
		}
		name := strings.ToLower(string(raw[ns:i]))
		for i < len(raw) && isSpace(raw[i]) {
			i++
		}
		if i >= len(raw) || raw[i] != '=' {
			spans = append(spans, attrSpan{name: name, start: -1, end: -1})
			continue
		}
		i++
		for i < len(raw) && isSpace(raw[i]) {
			i++
		}
		if i >= len(raw) {
			break
		}

		if q := raw[i]; q == '"' || q == '\'' {
			vs := i + 1
			j := bytes.IndexByte(raw[vs:], q)
			if j < 0 {
				break
			}
			spans = append(spans, attrSpan{name: name, start: vs, end: vs + j, quote: q})
			i = vs + j + 1
			continue
		}

		vs := i
		for i < len(raw) && !isSpace(raw[i]) && raw[i] != '>' {
			i++
		}
		spans = append(spans, attrSpan{name: name, start: vs, end: i})
	}
	return spans
}

var (
	textEscaper        = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	doubleQuoteEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	singleQuoteEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "'", "&#39;")
)

func escapeText(s string) string {
	return textEscaper.Replace(s)
}

// escapeAttr 按原引号转义属性值，未加引号的值改用双引号包裹
func escapeAttr(s string, quote byte) string {
	switch quote {
	case '\'':
		return singleQuoteEscaper.Replace(s)
	case '"':
		return doubleQuoteEscaper.Replace(s)
	default:
		return `"` + doubleQuoteEscaper.Replace(s) + `"`
	}
}
