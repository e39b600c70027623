package openai

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-epub-translator/pkg/providers"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers/wire"
)

// Name 后端名称
const Name = "openai"

// Backend OpenAI 后端（使用官方SDK）
type Backend struct {
	cfg    providers.Config
	client openai.Client
	logger *zap.Logger
}

var _ providers.Backend = (*Backend)(nil)

// New 创建 OpenAI 后端，重试由调用方负责，SDK 自身不重试
func New(cfg providers.Config, logger *zap.Logger) (*Backend, error) {
	if cfg.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}

	// 添加自定义端点（如果有）
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.OrgID != "" {
		opts = append(opts, option.WithOrganization(cfg.OrgID))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &Backend{
		cfg:    cfg,
		client: openai.NewClient(opts...),
		logger: logger.Named(Name),
	}, nil
}

// Name 后端名称
func (b *Backend) Name() string {
	return Name
}

// Translate 以行标记协议翻译一批条目，缺失的行不出现在结果中
func (b *Backend) Translate(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	if len(req.Items) == 0 {
		return &providers.Response{}, nil
	}

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(wire.SystemPrompt(req.SourceLang, req.TargetLang, b.cfg.SystemPrompt, b.cfg.Glossary)),
			openai.UserMessage(wire.Encode(req.Items)),
		},
		Model: openai.ChatModel(b.cfg.Model),
		Stop:  openai.ChatCompletionNewParamsStopUnion{OfStringArray: []string{wire.StopMarker}},
	}

	// 设置可选参数
	if b.cfg.Temperature > 0 {
		params.Temperature = openai.Float(b.cfg.Temperature)
	}
	if b.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(b.cfg.MaxTokens))
	}

	start := time.Now()
	completion, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, toBackendError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, providers.NewError(providers.KindTransient, providers.CodeEmpty, "no choices returned", nil)
	}

	content := completion.Choices[0].Message.Content
	results := wire.Results(req.Items, content)
	if len(results) < len(req.Items) {
		b.logger.Debug("reply is missing lines",
			zap.Int("items", len(req.Items)),
			zap.Ints("missing", wire.Missing(req.Items, content)))
	}
	b.logger.Debug("chat completion finished",
		zap.String("model", completion.Model),
		zap.Int("items", len(req.Items)),
		zap.Int("results", len(results)),
		zap.Int64("promptTokens", completion.Usage.PromptTokens),
		zap.Int64("completionTokens", completion.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &providers.Response{
		Results:   results,
		Model:     completion.Model,
		TokensIn:  int(completion.Usage.PromptTokens),
		TokensOut: int(completion.Usage.CompletionTokens),
	}, nil
}

// toBackendError 将 SDK 错误转换为 *providers.BackendError
func toBackendError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		var retryAfter time.Duration
		if apiErr.Response != nil {
			retryAfter = providers.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
		}
		return providers.FromStatus(apiErr.StatusCode, retryAfter, apiErr.Message, err)
	}
	return providers.Classify(err)
}
