// Package deepl 访问 DeepL 文本翻译接口。
package deepl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/nerdneilsfield/go-epub-translator/pkg/providers"
)

// Name 后端名称
const Name = "deepl"

const (
	proEndpoint  = "https://api.deepl.com/v2"
	freeEndpoint = "https://api-free.deepl.com/v2"
)

// Backend DeepL 后端，一次请求发送整个批次，译文按顺序返回
type Backend struct {
	cfg        providers.Config
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ providers.Backend = (*Backend)(nil)

// New 创建 DeepL 后端，未指定 base_url 时按密钥后缀选择免费或专业接口
func New(cfg providers.Config, logger *zap.Logger) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("deepl: api_key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	endpoint := strings.TrimSuffix(cfg.BaseURL, "/")
	if endpoint == "" {
		endpoint = proEndpoint
		// 免费版密钥以 :fx 结尾
		if strings.HasSuffix(cfg.APIKey, ":fx") {
			endpoint = freeEndpoint
		}
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

// Translate 翻译一批条目，DeepL 保证译文与 text 参数一一对应
func (b *Backend) Translate(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	if len(req.Items) == 0 {
		return &providers.Response{}, nil
	}

	params := url.Values{}
	for _, it := range req.Items {
		params.Add("text", it.Text)
	}
	if source := languageCode(req.SourceLang, false); source != "" {
		params.Set("source_lang", source)
	}
	params.Set("target_lang", languageCode(req.TargetLang, true))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/translate", strings.NewReader(params.Encode()))
	if err != nil {
		return nil, providers.NewError(providers.KindPermanent, providers.CodeBadRequest, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", "DeepL-Auth-Key "+b.cfg.APIKey)
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
	if resp.StatusCode != http.StatusOK {
		return nil, providers.FromStatus(resp.StatusCode,
			providers.ParseRetryAfter(resp.Header.Get("Retry-After")),
			errorMessage(resp.StatusCode, body), nil)
	}

	var tr translateResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, providers.NewError(providers.KindTransient, providers.CodeEmpty, "failed to decode response", err)
	}
	// 数量不一致时无法按位置对应
	if len(tr.Translations) != len(req.Items) {
		return nil, providers.NewError(providers.KindTransient, providers.CodeEmpty,
			fmt.Sprintf("expected %d translations, got %d", len(req.Items), len(tr.Translations)), nil)
	}

	results := make([]providers.Result, len(req.Items))
	chars := 0
	for i, t := range tr.Translations {
		results[i] = providers.Result{Key: req.Items[i].Key, Text: t.Text}
		chars += len([]rune(req.Items[i].Text))
	}
	b.logger.Debug("deepl translation finished",
		zap.Int("items", len(req.Items)),
		zap.Int("chars", chars),
		zap.String("detectedSource", tr.Translations[0].DetectedSourceLanguage))

	return &providers.Response{Results: results, Model: Name}, nil
}

// languageCode 转换为 DeepL 语言代码，目标语言的英语和葡萄牙语需要指定变体
func languageCode(lang string, target bool) string {
	tag, ok := providers.LanguageTag(lang)
	if !ok {
		return strings.ToUpper(strings.TrimSpace(lang))
	}
	base, _ := tag.Base()
	code := strings.ToUpper(base.String())
	if !target {
		return code
	}

	region, conf := tag.Region()
	explicit := conf == language.Exact
	switch code {
	case "EN":
		if explicit && region.String() == "GB" {
			return "EN-GB"
		}
		return "EN-US"
	case "PT":
		if explicit && region.String() == "PT" {
			return "PT-PT"
		}
		return "PT-BR"
	case "ZH":
		if script, _ := tag.Script(); script.String() == "Hant" {
			return "ZH-HANT"
		}
		return "ZH-HANS"
	}
	return code
}

func errorMessage(status int, body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return e.Message
	}
	switch status {
	case http.StatusForbidden:
		return "authentication failed"
	case http.StatusRequestEntityTooLarge:
		return "request size exceeded"
	case http.StatusTooManyRequests:
		return "too many requests"
	case 456:
		return "quota exceeded"
	case http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	}
	return http.StatusText(status)
}

// translateResponse 翻译响应
type translateResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
}
