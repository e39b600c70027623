package factory

import (
	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-epub-translator/pkg/providers"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers/compat"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers/deepl"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers/deeplx"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers/google"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers/libretranslate"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers/ollama"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers/openai"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers/raw"
)

// New 返回注册了所有内置后端的注册表
func New() *providers.Registry {
	r := providers.NewRegistry()
	// 注册内置后端不会重名
	_ = r.Register(openai.Name, createOpenAI)
	_ = r.Register(compat.Name, createCompat)
	_ = r.Register(deepl.Name, createDeepL)
	_ = r.Register(deeplx.Name, createDeepLX)
	_ = r.Register(google.Name, createGoogle)
	_ = r.Register(libretranslate.Name, createLibreTranslate)
	_ = r.Register(ollama.Name, createOllama)
	_ = r.Register(raw.Name, createRaw)
	return r
}

// Create 按名称创建内置后端
func Create(name string, cfg providers.Config, logger *zap.Logger) (providers.Backend, error) {
	return New().Create(name, cfg, logger)
}

// Names 内置后端名称
func Names() []string {
	return New().List()
}

// createOpenAI 创建 OpenAI 后端
func createOpenAI(cfg providers.Config, logger *zap.Logger) (providers.Backend, error) {
	b, err := openai.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// createCompat 创建 OpenAI 兼容后端
func createCompat(cfg providers.Config, logger *zap.Logger) (providers.Backend, error) {
	b, err := compat.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// createDeepL 创建 DeepL 后端
func createDeepL(cfg providers.Config, logger *zap.Logger) (providers.Backend, error) {
	b, err := deepl.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// createLibreTranslate 创建 LibreTranslate 后端
func createLibreTranslate(cfg providers.Config, logger *zap.Logger) (providers.Backend, error) {
	b, err := libretranslate.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// createOllama 创建 Ollama 后端
func createOllama(cfg providers.Config, logger *zap.Logger) (providers.Backend, error) {
	b, err := ollama.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// createDeepLX 创建 DeepLX 后端
func createDeepLX(cfg providers.Config, logger *zap.Logger) (providers.Backend, error) {
	b, err := deeplx.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// createGoogle 创建 Google 翻译后端
func createGoogle(cfg providers.Config, logger *zap.Logger) (providers.Backend, error) {
	b, err := google.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// createRaw 创建原样返回的后端
func createRaw(cfg providers.Config, logger *zap.Logger) (providers.Backend, error) {
	b, err := raw.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return b, nil
}
