package walker

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"golang.org/x/net/html"
)

// ParseError 文档不是格式良好的 XHTML
type ParseError struct {
	Path   string
	Offset int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("parse error at byte %d: %s", e.Offset, e.Reason)
	}
	return fmt.Sprintf("%s: parse error at byte %d: %s", e.Path, e.Offset, e.Reason)
}

var cdataPrefix = []byte("<![CDATA[")

var rawTextTags = map[string]bool{"script": true, "style": true}

type token struct {
	typ    html.TokenType
	raw    []byte
	tag    string
	text   string
	offset int
	cdata  bool
}

// lex 将源文件切分为词法单元，所有 raw 拼接后与输入逐字节相同。
// 同时检查标签配对，不配对或未闭合即返回 ParseError。
func lex(src []byte) ([]token, error) {
	z := html.NewTokenizer(bytes.NewReader(src))
	z.AllowCDATA(true)

	var (
		toks   []token
		stack  []string
		offset int
	)
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if errors.Is(z.Err(), io.EOF) {
				break
			}
			return nil, &ParseError{Offset: offset, Reason: z.Err().Error()}
		}

		raw := z.Raw()
		tok := token{typ: tt, raw: append([]byte(nil), raw...), offset: offset}

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			if !bytes.HasSuffix(raw, []byte(">")) {
				return nil, &ParseError{Offset: offset, Reason: "truncated tag"}
			}
		}

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tok.tag = string(name)
			// XHTML 中只有 script 和 style 的内容是原始文本，
			// iframe、title、xmp 等元素的子节点按普通标记切分
			if tt == html.SelfClosingTagToken || !rawTextTags[tok.tag] {
				z.NextIsNotRawText()
			}
			if tt == html.StartTagToken && !voidTags[tok.tag] {
				stack = append(stack, tok.tag)
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tok.tag = string(name)
			if voidTags[tok.tag] && (len(stack) == 0 || stack[len(stack)-1] != tok.tag) {
				break
			}
			if len(stack) == 0 {
				return nil, &ParseError{Offset: offset, Reason: fmt.Sprintf("unexpected </%s>", tok.tag)}
			}
			if top := stack[len(stack)-1]; top != tok.tag {
				return nil, &ParseError{Offset: offset, Reason: fmt.Sprintf("mismatched </%s>, expected </%s>", tok.tag, top)}
			}
			stack = stack[:len(stack)-1]
		case html.TextToken:
			tok.cdata = bytes.HasPrefix(raw, cdataPrefix)
			if tok.cdata {
				tok.text = string(z.Text())
			} else {
				// Text 会把 \r\n 规范为 \n，文本直接从原始字节解码
				tok.text = html.UnescapeString(string(raw))
			}
		}

		offset += len(raw)
		toks = append(toks, tok)
	}

	if offset != len(src) {
		return nil, &ParseError{Offset: offset, Reason: "truncated markup"}
	}
	if len(stack) > 0 {
		return nil, &ParseError{Offset: offset, Reason: fmt.Sprintf("unclosed <%s>", stack[len(stack)-1])}
	}
	return toks, nil
}

// structure 计算标签结构签名
func structure(toks []token) []string {
	var sig []string
	for _, tok := range toks {
		switch tok.typ {
		case html.StartTagToken:
			sig = append(sig, "+"+tok.tag)
		case html.EndTagToken:
			sig = append(sig, "-"+tok.tag)
		case html.SelfClosingTagToken:
			sig = append(sig, "="+tok.tag)
		}
	}
	return sig
}

// Signature 返回文档的标签结构签名
func Signature(src []byte) ([]string, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	return structure(toks), nil
}

// CompareSignature 比较两个签名，不同时返回首个差异的描述
func CompareSignature(want, got []string) (bool, string) {
	n := min(len(want), len(got))
	for i := 0; i < n; i++ {
		if want[i] != got[i] {
			return false, fmt.Sprintf("tag event %d: want %q, got %q", i, want[i], got[i])
		}
	}
	if len(want) != len(got) {
		return false, fmt.Sprintf("tag event count: want %d, got %d", len(want), len(got))
	}
	return true, ""
}
