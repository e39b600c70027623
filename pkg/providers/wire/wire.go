// Package wire 实现 LLM 后端使用的行标记协议：
// 每个条目占一行，写作 [[n]]text[[n]]，n 为条目在请求中的序号（从 1 开始）。
package wire

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/nerdneilsfield/go-epub-translator/pkg/providers"
)

// StopMarker 回复结束标记，同时作为停止序列
const StopMarker = "⏹️"

var (
	linePattern = regexp2.MustCompile(`\[\[(\d+)\]\](.*?)\[\[\1\]\]`, regexp2.None)
	lineBreaks  = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

	// 推理模型输出的思考过程
	reasoningPattern = regexp2.MustCompile(`<(think|reasoning|analysis|思考|思路|推理|分析)>.*?</\1>`, regexp2.Singleline|regexp2.IgnoreCase)
)

// Encode 将条目编码为带行标记的文本，条目内的换行折叠为空格，
// 最后一行是 StopMarker
func Encode(items []providers.Item) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	for i, it := range items {
		n := strconv.Itoa(i + 1)
		b.WriteString("[[" + n + "]]")
		b.WriteString(lineBreaks.Replace(it.Text))
		b.WriteString("[[" + n + "]]\n")
	}
	b.WriteString(StopMarker)
	return b.String()
}

// Decode 解析回复中的行标记，返回序号到译文的映射。
// 同一序号出现多次时取第一次。
func Decode(content string) map[int]string {
	content = strings.ReplaceAll(StripReasoning(content), StopMarker, "")
	out := make(map[int]string)

	m, err := linePattern.FindStringMatch(content)
	for err == nil && m != nil {
		groups := m.Groups()
		if n, convErr := strconv.Atoi(groups[1].String()); convErr == nil {
			if _, seen := out[n]; !seen {
				out[n] = strings.TrimSpace(groups[2].String())
			}
		}
		m, err = linePattern.FindNextMatch(m)
	}
	return out
}

// StripReasoning 删除回复中的思考过程
func StripReasoning(content string) string {
	out, err := reasoningPattern.Replace(content, "", -1, -1)
	if err != nil {
		return content
	}
	return out
}

// Results 将回复映射回条目键，缺失或为空的行不返回
func Results(items []providers.Item, content string) []providers.Result {
	lines := Decode(content)
	results := make([]providers.Result, 0, len(lines))
	for i, it := range items {
		text, ok := lines[i+1]
		if !ok || text == "" {
			continue
		}
		results = append(results, providers.Result{Key: it.Key, Text: text})
	}
	return results
}

// Missing 返回回复中缺失的序号，用于日志
func Missing(items []providers.Item, content string) []int {
	lines := Decode(content)
	var missing []int
	for i := range items {
		if text, ok := lines[i+1]; !ok || text == "" {
			missing = append(missing, i+1)
		}
	}
	return missing
}

const defaultPrompt = `You are a professional book translator. Translate the text below from %s into %s.
Rules:
1. Line count: the output must have exactly as many lines as the input. Every line is wrapped as [[n]]...[[n]]; keep each pair on a single line and never merge or split lines.
2. Markers: copy every [[n]] marker unchanged.
3. Output only the translation without notes or explanations, then end the reply with ` + StopMarker + `.

Example:
[[1]]I woke up late this morning,[[1]]
[[2]]and I missed the bus to school.[[2]]
->
[[1]]我今天早上起晚了，[[1]]
[[2]]错过了去学校的公交车。[[2]]`

// SystemPrompt 构建系统提示词，override 非空时替换默认规则，术语表附在末尾
func SystemPrompt(source, target, override string, glossary map[string]string) string {
	var b strings.Builder
	if override != "" {
		b.WriteString(strings.NewReplacer("{source}", source, "{target}", target).Replace(override))
	} else {
		fmt.Fprintf(&b, defaultPrompt, source, target)
	}

	if len(glossary) > 0 {
		terms := make([]string, 0, len(glossary))
		for term := range glossary {
			terms = append(terms, term)
		}
		sort.Strings(terms)

		b.WriteString("\n\nAlways use these translations:\n")
		for _, term := range terms {
			fmt.Fprintf(&b, "%s => %s\n", term, glossary[term])
		}
	}
	return b.String()
}
