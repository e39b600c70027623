// Package libretranslate 访问 LibreTranslate 接口，适合自建的离线翻译服务。
package libretranslate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-epub-translator/pkg/providers"
)

// Name 后端名称
const Name = "libretranslate"

const defaultEndpoint = "https://libretranslate.com"

// Backend LibreTranslate 后端
type Backend struct {
	cfg        providers.Config
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ providers.Backend = (*Backend)(nil)

// New 创建 LibreTranslate 后端，自建服务通常不需要 api_key
func New(cfg providers.Config, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint := strings.TrimSuffix(cfg.BaseURL, "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
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

// Translate 以数组形式提交整个批次
func (b *Backend) Translate(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	if len(req.Items) == 0 {
		return &providers.Response{}, nil
	}

	tr := translateRequest{
		Source: languageCode(req.SourceLang),
		Target: languageCode(req.TargetLang),
		Format: "text",
		APIKey: b.cfg.APIKey,
	}
	if tr.Source == "" {
		tr.Source = "auto"
	}
	for _, it := range req.Items {
		tr.Q = append(tr.Q, it.Text)
	}

	body, err := json.Marshal(tr)
	if err != nil {
		return nil, providers.NewError(providers.KindPermanent, providers.CodeBadRequest, "failed to marshal request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/translate", bytes.NewReader(body))
	if err != nil {
		return nil, providers.NewError(providers.KindPermanent, providers.CodeBadRequest, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range b.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.Classify(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providers.NewError(providers.KindTransient, providers.CodeNetwork, "failed to read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		var er errorResponse
		if json.Unmarshal(respBody, &er) == nil && er.Error != "" {
			msg = er.Error
		}
		return nil, providers.FromStatus(resp.StatusCode,
			providers.ParseRetryAfter(resp.Header.Get("Retry-After")), msg, nil)
	}

	var out translateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, providers.NewError(providers.KindTransient, providers.CodeEmpty, "failed to decode response", err)
	}
	if len(out.TranslatedText) != len(req.Items) {
		return nil, providers.NewError(providers.KindTransient, providers.CodeEmpty,
			fmt.Sprintf("expected %d translations, got %d", len(req.Items), len(out.TranslatedText)), nil)
	}

	results := make([]providers.Result, len(req.Items))
	for i, text := range out.TranslatedText {
		results[i] = providers.Result{Key: req.Items[i].Key, Text: text}
	}
	b.logger.Debug("libretranslate translation finished",
		zap.Int("items", len(req.Items)),
		zap.String("source", tr.Source),
		zap.String("target", tr.Target))

	return &providers.Response{Results: results, Model: Name}, nil
}

// languageCode 转换为 LibreTranslate 语言代码，繁体中文为 zt
func languageCode(lang string) string {
	tag, ok := providers.LanguageTag(lang)
	if !ok {
		return strings.ToLower(strings.TrimSpace(lang))
	}
	base, _ := tag.Base()
	code := base.String()
	if code == "zh" {
		if script, _ := tag.Script(); script.String() == "Hant" {
			return "zt"
		}
	}
	return code
}

// translateRequest 翻译请求，Q 为数组时响应也是数组
type translateRequest struct {
	Q      []string `json:"q"`
	Source string   `json:"source"`
	Target string   `json:"target"`
	Format string   `json:"format"`
	APIKey string   `json:"api_key,omitempty"`
}

type translateResponse struct {
	TranslatedText []string `json:"translatedText"`
}

type errorResponse struct {
	Error string `json:"error"`
}
