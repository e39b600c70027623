// Package compat 通过 go-openai 访问 OpenAI 兼容的接口，如 DeepSeek、Ollama、vLLM。
package compat

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-epub-translator/pkg/providers"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers/wire"
)

// Name 后端名称
const Name = "compat"

// Backend OpenAI 兼容后端
type Backend struct {
	cfg    providers.Config
	client *openai.Client
	logger *zap.Logger
}

var _ providers.Backend = (*Backend)(nil)

// headerTransport 为每个请求附加自定义头部
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

// New 创建兼容后端
func New(cfg providers.Config, logger *zap.Logger) (*Backend, error) {
	if cfg.Model == "" {
		return nil, errors.New("compat: model is required")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("compat: base_url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	// go-openai 的路径以斜杠开头，避免出现双斜杠
	clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	clientCfg.OrgID = cfg.OrgID
	clientCfg.HTTPClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &headerTransport{base: http.DefaultTransport, headers: cfg.Headers},
	}

	return &Backend{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
		logger: logger.Named(Name),
	}, nil
}

// Name 后端名称
func (b *Backend) Name() string {
	return Name
}

// Translate 以行标记协议翻译一批条目
func (b *Backend) Translate(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	if len(req.Items) == 0 {
		return &providers.Response{}, nil
	}

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: wire.SystemPrompt(req.SourceLang, req.TargetLang, b.cfg.SystemPrompt, b.cfg.Glossary),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: wire.Encode(req.Items),
			},
		},
		Temperature: float32(b.cfg.Temperature),
		MaxTokens:   b.cfg.MaxTokens,
		Stop:        []string{wire.StopMarker},
	})
	if err != nil {
		return nil, toBackendError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, providers.NewError(providers.KindTransient, providers.CodeEmpty, "no choices returned", nil)
	}

	content := resp.Choices[0].Message.Content
	results := wire.Results(req.Items, content)
	b.logger.Debug("chat completion finished",
		zap.String("model", resp.Model),
		zap.Int("items", len(req.Items)),
		zap.Int("results", len(results)),
		zap.Int("promptTokens", resp.Usage.PromptTokens),
		zap.Int("completionTokens", resp.Usage.CompletionTokens))

	return &providers.Response{
		Results:   results,
		Model:     resp.Model,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
	}, nil
}

func toBackendError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return providers.FromStatus(apiErr.HTTPStatusCode, 0, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return providers.FromStatus(reqErr.HTTPStatusCode, 0, "", err)
	}
	return providers.Classify(err)
}
