// Package deeplx 访问 DeepLX 服务，它提供与 DeepL 兼容的单条文本接口。
package deeplx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nerdneilsfield/go-epub-translator/pkg/providers"
)

// Name 后端名称
const Name = "deeplx"

const (
	defaultEndpoint = "http://localhost:1188"

	// fanOut 同一批次内并发的单条请求数
	fanOut = 4
)

// Backend DeepLX 后端
//
// DeepLX 每次只翻译一条文本，批次内的条目并发请求；
// 部分条目失败时返回其余条目的译文，缺失的条目由调用方重新排队。
type Backend struct {
	cfg        providers.Config
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ providers.Backend = (*Backend)(nil)

// New 创建 DeepLX 后端，api_key 作为可选的访问令牌
func New(cfg providers.Config, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint := strings.TrimSuffix(cfg.BaseURL, "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	endpoint = strings.TrimSuffix(endpoint, "/translate")
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

// Translate 并发翻译批次内的条目
func (b *Backend) Translate(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	if len(req.Items) == 0 {
		return &providers.Response{}, nil
	}

	source := languageCode(req.SourceLang)
	if source == "" {
		source = "auto"
	}
	target := languageCode(req.TargetLang)

	var (
		mu       sync.Mutex
		results  []providers.Result
		firstErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)
	for _, it := range req.Items {
		g.Go(func() error {
			text, err := b.translate(gctx, TranslateRequest{Text: it.Text, SourceLang: source, TargetLang: target})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				b.logger.Debug("item failed", zap.String("key", it.Key), zap.Error(err))
				// 永久错误同样会作用于其余条目，提前结束
				if !providers.IsTransient(err) {
					return err
				}
				return nil
			}
			results = append(results, providers.Result{Key: it.Key, Text: text})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(results) == 0 && firstErr != nil {
		return nil, firstErr
	}

	b.logger.Debug("deeplx translation finished",
		zap.Int("items", len(req.Items)),
		zap.Int("results", len(results)))
	return &providers.Response{Results: results, Model: Name}, nil
}

// translate 翻译单条文本
func (b *Backend) translate(ctx context.Context, req TranslateRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", providers.NewError(providers.KindPermanent, providers.CodeBadRequest, "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", providers.NewError(providers.KindPermanent, providers.CodeBadRequest, "failed to create request", err)
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
		return "", providers.Classify(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", providers.NewError(providers.KindTransient, providers.CodeNetwork, "failed to read response", err)
	}

	var tr TranslateResponse
	decodeErr := json.Unmarshal(respBody, &tr)
	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if decodeErr == nil && tr.Message != "" {
			msg = tr.Message
		}
		return "", providers.FromStatus(resp.StatusCode,
			providers.ParseRetryAfter(resp.Header.Get("Retry-After")), msg, nil)
	}
	if decodeErr != nil {
		return "", providers.NewError(providers.KindTransient, providers.CodeEmpty, "failed to decode response", decodeErr)
	}
	// 业务错误码放在响应体中
	if tr.Code != 0 && tr.Code != http.StatusOK {
		return "", providers.FromStatus(tr.Code, 0, tr.Message, nil)
	}
	if strings.TrimSpace(tr.Data) == "" {
		return "", providers.NewError(providers.KindTransient, providers.CodeEmpty, "empty translation", nil)
	}
	return tr.Data, nil
}

// languageCode DeepLX 使用 DeepL 的大写语言代码，不区分变体
func languageCode(lang string) string {
	tag, ok := providers.LanguageTag(lang)
	if !ok {
		return strings.ToUpper(strings.TrimSpace(lang))
	}
	base, _ := tag.Base()
	return strings.ToUpper(base.String())
}

// TranslateRequest 翻译请求
type TranslateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

// TranslateResponse 翻译响应
type TranslateResponse struct {
	Code       int    `json:"code"`
	Message    string `json:"message,omitempty"`
	Data       string `json:"data"`
	SourceLang string `json:"source_lang,omitempty"`
}
