package scheduler

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

func charCount(s string) int {
	return utf8.RuneCountInString(s)
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', ';', '。', '！', '？', '；', '…':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '」', '』', '）':
		return true
	}
	return false
}

// sentences 按句末标点切分，句末的引号和空白归入前一句
func sentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		j := i + 1
		for j < len(runes) && (isTerminator(runes[j]) || isCloser(runes[j])) {
			j++
		}
		if j < len(runes) && !unicode.IsSpace(runes[j]) && runes[i] < utf8.RuneSelf {
			// ASCII 标点后无空白时不视为句末，如 "3.14"
			i = j - 1
			continue
		}
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		out = append(out, string(runes[start:j]))
		start = j
		i = j - 1
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

// hardSplit 将超长句子切成不超过 max 个字符的片段，尽量在空白处断开
func hardSplit(s string, max int) []string {
	var out []string
	runes := []rune(s)
	for len(runes) > max {
		cut := max
		for k := max; k > max/2; k-- {
			if unicode.IsSpace(runes[k-1]) {
				cut = k
				break
			}
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

// SplitSentences 将超长文本按句子切成不超过 max 个字符的片段。
// 片段按顺序拼接后与原文完全相同。
func SplitSentences(text string, max int) []string {
	if max <= 0 || charCount(text) <= max {
		return []string{text}
	}

	var (
		frags   []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if current.Len() > 0 {
			frags = append(frags, current.String())
			current.Reset()
			size = 0
		}
	}

	for _, sentence := range sentences(text) {
		n := charCount(sentence)
		if n > max {
			flush()
			frags = append(frags, hardSplit(sentence, max)...)
			continue
		}
		if size+n > max {
			flush()
		}
		current.WriteString(sentence)
		size += n
	}
	flush()
	return frags
}

// JoinFragments 按片段顺序拼接译文，保留片段间原有的空白
func JoinFragments(originals, translations []string) string {
	var b strings.Builder
	for i, orig := range originals {
		lead := orig[:len(orig)-len(strings.TrimLeftFunc(orig, unicode.IsSpace))]
		trail := orig[len(strings.TrimRightFunc(orig, unicode.IsSpace)):]
		if strings.TrimSpace(orig) == "" {
			b.WriteString(orig)
			continue
		}
		b.WriteString(lead)
		if i < len(translations) {
			b.WriteString(strings.TrimSpace(translations[i]))
		}
		b.WriteString(trail)
	}
	return b.String()
}
