package providers

import (
	"context"
	"time"
)

// Item 待翻译条目
type Item struct {
	// Key 批次内唯一的键，结果按键回填
	Key string `json:"key"`

	// Text 去除首尾空白的原文
	Text string `json:"text"`

	// Hint 所在元素，如 "h1"、"li"、"img@alt"
	Hint string `json:"hint,omitempty"`
}

// Request 一次批量翻译请求
type Request struct {
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	Items      []Item `json:"items"`
}

// Result 单个条目的译文
type Result struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// Response 批量翻译响应，可以只包含部分条目
type Response struct {
	Results   []Result `json:"results"`
	Model     string   `json:"model,omitempty"`
	TokensIn  int      `json:"tokens_in,omitempty"`
	TokensOut int      `json:"tokens_out,omitempty"`
}

// Index 按键索引结果，重复的键取最后一个
func (r *Response) Index() map[string]string {
	out := make(map[string]string, len(r.Results))
	for _, res := range r.Results {
		out[res.Key] = res.Text
	}
	return out
}

// Backend 翻译后端
//
// 实现必须可以被多个 goroutine 同时调用，失败时返回 *BackendError
// 以便调用方区分瞬时错误和永久错误。
type Backend interface {
	// Name 后端名称
	Name() string

	// Translate 翻译一批条目
	Translate(ctx context.Context, req *Request) (*Response, error)
}

// Config 后端配置
type Config struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model"`
	OrgID   string `json:"org_id,omitempty"`

	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`

	// Timeout 单次请求超时
	Timeout time.Duration `json:"timeout"`

	// 自定义头部
	Headers map[string]string `json:"headers,omitempty"`

	// SystemPrompt 覆盖默认系统提示词
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Glossary 术语表，原文到译文
	Glossary map[string]string `json:"glossary,omitempty"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Model:       "gpt-4o-mini",
		Temperature: 0.3,
		MaxTokens:   4096,
		Timeout:     5 * time.Minute,
		Headers:     make(map[string]string),
	}
}
