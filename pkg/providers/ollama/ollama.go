// Package ollama 通过 Ollama 原生的 /api/generate 接口调用本地模型。
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-epub-translator/pkg/providers"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers/wire"
)

// Name 后端名称
const Name = "ollama"

const (
	defaultEndpoint = "http://localhost:11434"
	defaultModel    = "qwen2.5"
)

// Backend Ollama 后端，本地部署通常不需要密钥
type Backend struct {
	cfg        providers.Config
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ providers.Backend = (*Backend)(nil)

// New 创建 Ollama 后端
func New(cfg providers.Config, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint := strings.TrimSuffix(cfg.BaseURL, "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	// 兼容写成 OpenAI 形式的地址
	endpoint = strings.TrimSuffix(endpoint, "/v1")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	return &Backend{
		cfg:        cfg,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named(Name),
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

	options := map[string]any{
		"temperature": b.cfg.Temperature,
		"stop":        []string{wire.StopMarker},
	}
	if b.cfg.MaxTokens > 0 {
		options["num_predict"] = b.cfg.MaxTokens
	}

	resp, err := b.generate(ctx, GenerateRequest{
		Model:   b.cfg.Model,
		System:  wire.SystemPrompt(req.SourceLang, req.TargetLang, b.cfg.SystemPrompt, b.cfg.Glossary),
		Prompt:  wire.Encode(req.Items),
		Stream:  false,
		Options: options,
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Response) == "" {
		return nil, providers.NewError(providers.KindTransient, providers.CodeEmpty, "empty response", nil)
	}

	results := wire.Results(req.Items, resp.Response)
	if missing := wire.Missing(req.Items, resp.Response); len(missing) > 0 {
		b.logger.Debug("response is missing lines", zap.Ints("lines", missing))
	}
	b.logger.Debug("generation finished",
		zap.String("model", resp.Model),
		zap.Int("items", len(req.Items)),
		zap.Int("results", len(results)),
		zap.Duration("totalDuration", time.Duration(resp.TotalDuration)))

	return &providers.Response{
		Results:   results,
		Model:     resp.Model,
		TokensIn:  resp.PromptEvalCount,
		TokensOut: resp.EvalCount,
	}, nil
}

// generate 执行生成请求
func (b *Backend) generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, providers.NewError(providers.KindPermanent, providers.CodeBadRequest, "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, providers.NewError(providers.KindPermanent, providers.CodeBadRequest, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}
	for k, v := range b.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		msg := resp.Status
		var apiErr APIError
		if json.Unmarshal(errBody, &apiErr) == nil && apiErr.ErrorMsg != "" {
			msg = apiErr.ErrorMsg
		}
		return nil, providers.FromStatus(resp.StatusCode,
			providers.ParseRetryAfter(resp.Header.Get("Retry-After")), msg, nil)
	}

	var generateResp GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&generateResp); err != nil {
		return nil, providers.NewError(providers.KindTransient, providers.CodeEmpty, "failed to decode response", err)
	}
	return &generateResp, nil
}

// GenerateRequest 生成请求
type GenerateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// GenerateResponse 生成响应
type GenerateResponse struct {
	Model           string    `json:"model"`
	CreatedAt       time.Time `json:"created_at"`
	Response        string    `json:"response"`
	Done            bool      `json:"done"`
	TotalDuration   int64     `json:"total_duration"`
	PromptEvalCount int       `json:"prompt_eval_count"`
	EvalCount       int       `json:"eval_count"`
}

// APIError API 错误
type APIError struct {
	ErrorMsg string `json:"error"`
}

func (e *APIError) Error() string {
	return e.ErrorMsg
}
