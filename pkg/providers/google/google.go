// Package google 访问 Google Cloud Translation v2 接口。
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-epub-translator/pkg/providers"
)

// Name 后端名称
const Name = "google"

const defaultEndpoint = "https://translation.googleapis.com/language/translate/v2"

// Backend Google 翻译后端，多个 q 参数在一次请求中翻译
type Backend struct {
	cfg        providers.Config
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ providers.Backend = (*Backend)(nil)

// New 创建 Google 翻译后端
func New(cfg providers.Config, logger *zap.Logger) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: api_key is required")
	}
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

// Translate 翻译一批条目，译文顺序与 q 参数一致
func (b *Backend) Translate(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	if len(req.Items) == 0 {
		return &providers.Response{}, nil
	}

	params := url.Values{}
	for _, it := range req.Items {
		params.Add("q", it.Text)
	}
	if source := languageCode(req.SourceLang); source != "" {
		params.Set("source", source)
	}
	params.Set("target", languageCode(req.TargetLang))
	params.Set("format", "text")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.endpoint+"?key="+url.QueryEscape(b.cfg.APIKey), strings.NewReader(params.Encode()))
	if err != nil {
		return nil, providers.NewError(providers.KindPermanent, providers.CodeBadRequest, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range b.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.Classify(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providers.NewError(providers.KindTransient, providers.CodeNetwork, "failed to read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := resp.Status
		var apiErr APIError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return nil, providers.FromStatus(resp.StatusCode,
			providers.ParseRetryAfter(resp.Header.Get("Retry-After")), msg, nil)
	}

	var tr TranslateResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, providers.NewError(providers.KindTransient, providers.CodeEmpty, "failed to decode response", err)
	}
	translations := tr.Data.Translations
	if len(translations) != len(req.Items) {
		return nil, providers.NewError(providers.KindTransient, providers.CodeEmpty,
			fmt.Sprintf("expected %d translations, got %d", len(req.Items), len(translations)), nil)
	}

	results := make([]providers.Result, len(req.Items))
	for i, t := range translations {
		// format=text 时部分字符仍会被转义
		results[i] = providers.Result{Key: req.Items[i].Key, Text: html.UnescapeString(t.TranslatedText)}
	}
	b.logger.Debug("google translation finished",
		zap.Int("items", len(req.Items)),
		zap.String("detectedSource", translations[0].DetectedSourceLanguage))

	return &providers.Response{Results: results, Model: Name}, nil
}

// languageCode 转换为 Google 语言代码，中文区分 zh-CN 和 zh-TW
func languageCode(lang string) string {
	tag, ok := providers.LanguageTag(lang)
	if !ok {
		return strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	}
	base, _ := tag.Base()
	code := base.String()
	if code == "zh" {
		if script, _ := tag.Script(); script.String() == "Hant" {
			return "zh-TW"
		}
		return "zh-CN"
	}
	return code
}

// TranslateResponse 翻译响应
type TranslateResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText         string `json:"translatedText"`
			DetectedSourceLanguage string `json:"detectedSourceLanguage,omitempty"`
		} `json:"translations"`
	} `json:"data"`
}

// APIError API 错误
type APIError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
