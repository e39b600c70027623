package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nerdneilsfield/go-epub-translator/internal/scheduler"
	"github.com/nerdneilsfield/go-epub-translator/internal/walker"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers/retry"
)

// EnvPrefix 环境变量前缀，如 EPUBTR_API_KEY
const EnvPrefix = "EPUBTR"

// Config 保存翻译器的所有配置
type Config struct {
	SourceLang string `mapstructure:"source_lang" yaml:"source_lang"`
	TargetLang string `mapstructure:"target_lang" yaml:"target_lang"`

	// 翻译后端
	Provider       string            `mapstructure:"provider" yaml:"provider"`
	Model          string            `mapstructure:"model" yaml:"model"`
	APIKey         string            `mapstructure:"api_key" yaml:"api_key"`
	BaseURL        string            `mapstructure:"base_url" yaml:"base_url"`
	Temperature    float64           `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens      int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestTimeout int               `mapstructure:"request_timeout" yaml:"request_timeout"` // 请求超时时间（秒）
	Headers        map[string]string `mapstructure:"headers" yaml:"headers"`
	SystemPrompt   string            `mapstructure:"system_prompt" yaml:"system_prompt"` // 覆盖默认提示词，支持 {source}/{target}
	GlossaryPath   string            `mapstructure:"glossary_path" yaml:"glossary_path"` // 术语表文件路径（TOML）

	// 批次
	MaxBatchChars int `mapstructure:"max_batch_chars" yaml:"max_batch_chars"`
	MaxBatchUnits int `mapstructure:"max_batch_units" yaml:"max_batch_units"`

	// 并发与限速
	Concurrency       int `mapstructure:"concurrency" yaml:"concurrency"`                 // 并行翻译请求数
	ParseConcurrency  int `mapstructure:"parse_concurrency" yaml:"parse_concurrency"`     // 并行解析/重组的文档数
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute"` // 0 表示不限
	RequestIntervalMs int `mapstructure:"request_interval_ms" yaml:"request_interval_ms"` // 两次请求的最小间隔

	// 重试
	MaxAttempts       int     `mapstructure:"max_attempts" yaml:"max_attempts"`         // 每个批次的最大尝试次数
	MaxUnitRetries    int     `mapstructure:"max_unit_retries" yaml:"max_unit_retries"` // 部分结果中缺失单元的最大重新排队次数
	InitialBackoffMs  int     `mapstructure:"initial_backoff_ms" yaml:"initial_backoff_ms"`
	MaxBackoffMs      int     `mapstructure:"max_backoff_ms" yaml:"max_backoff_ms"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier"`
	Jitter            float64 `mapstructure:"jitter" yaml:"jitter"`

	// 文档分类
	TranslatableTags       []string `mapstructure:"translatable_tags" yaml:"translatable_tags"`
	OpaqueTags             []string `mapstructure:"opaque_tags" yaml:"opaque_tags"`
	AttributeTags          []string `mapstructure:"attribute_tags" yaml:"attribute_tags"`
	TranslatableAttributes []string `mapstructure:"translatable_attributes" yaml:"translatable_attributes"`
	TranslateAttributes    bool     `mapstructure:"translate_attributes" yaml:"translate_attributes"`

	CacheDir string `mapstructure:"cache_dir" yaml:"cache_dir"`
	UseCache bool   `mapstructure:"use_cache" yaml:"use_cache"`
	Debug    bool   `mapstructure:"debug" yaml:"debug"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose"` // 详细模式，显示每个批次
}

// LoadConfig 从文件加载配置，configPath 为空时查找 ~/.epub-translator.yaml
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(home)
		v.AddConfigPath(".")
		v.SetConfigName(".epub-translator")
		v.SetConfigType("yaml")
	}

	// 读取环境变量
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 找不到配置文件时使用默认值
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if config.CacheDir == "" {
		config.CacheDir = getDefaultCacheDir()
	}

	return &config, nil
}

// SaveConfig 将配置保存到文件
func SaveConfig(config *Config, configPath string) error {
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		configPath = filepath.Join(home, ".epub-translator.yaml")
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.MergeConfigMap(structToMap(config)); err != nil {
		return err
	}

	// 创建父目录（如果不存在）
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return err
	}
	return v.WriteConfig()
}

// NewDefaultConfig 创建一个新的默认配置
func NewDefaultConfig() *Config {
	return &Config{
		SourceLang:             "English",
		TargetLang:             "Chinese",
		Provider:               "openai",
		Model:                  "gpt-4o-mini",
		Temperature:            0.3,
		MaxTokens:              4096,
		RequestTimeout:         300, // 默认5分钟超时
		Headers:                map[string]string{},
		MaxBatchChars:          2000,
		MaxBatchUnits:          40,
		Concurrency:            4,
		ParseConcurrency:       4,
		RequestsPerMinute:      0,
		RequestIntervalMs:      0,
		MaxAttempts:            4,
		MaxUnitRetries:         2,
		InitialBackoffMs:       1000,
		MaxBackoffMs:           30000,
		BackoffMultiplier:      2.0,
		Jitter:                 0.2,
		TranslatableAttributes: []string{"alt", "title"},
		TranslateAttributes:    true,
		CacheDir:               getDefaultCacheDir(),
		UseCache:               true,
	}
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	d := NewDefaultConfig()
	v.SetDefault("source_lang", d.SourceLang)
	v.SetDefault("target_lang", d.TargetLang)
	v.SetDefault("provider", d.Provider)
	v.SetDefault("model", d.Model)
	v.SetDefault("api_key", "")
	v.SetDefault("base_url", "")
	v.SetDefault("temperature", d.Temperature)
	v.SetDefault("max_tokens", d.MaxTokens)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("system_prompt", "")
	v.SetDefault("glossary_path", "")
	v.SetDefault("max_batch_chars", d.MaxBatchChars)
	v.SetDefault("max_batch_units", d.MaxBatchUnits)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("parse_concurrency", d.ParseConcurrency)
	v.SetDefault("requests_per_minute", d.RequestsPerMinute)
	v.SetDefault("request_interval_ms", d.RequestIntervalMs)
	v.SetDefault("max_attempts", d.MaxAttempts)
	v.SetDefault("max_unit_retries", d.MaxUnitRetries)
	v.SetDefault("initial_backoff_ms", d.InitialBackoffMs)
	v.SetDefault("max_backoff_ms", d.MaxBackoffMs)
	v.SetDefault("backoff_multiplier", d.BackoffMultiplier)
	v.SetDefault("jitter", d.Jitter)
	v.SetDefault("translatable_tags", []string{})
	v.SetDefault("opaque_tags", []string{})
	v.SetDefault("attribute_tags", []string{})
	v.SetDefault("translatable_attributes", d.TranslatableAttributes)
	v.SetDefault("translate_attributes", d.TranslateAttributes)
	v.SetDefault("cache_dir", "")
	v.SetDefault("use_cache", d.UseCache)
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)
}

// getDefaultCacheDir 获取默认缓存目录
func getDefaultCacheDir() string {
	// 优先使用系统缓存目录
	if cacheDir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(cacheDir, "epub-translator")
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".epub-translator", "cache")
	}

	// 最后的兜底方案
	return "./epub-translator-cache"
}

// Validate 检查配置
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.TargetLang) == "" {
		errs = append(errs, errors.New("target_lang must be specified"))
	}
	if c.Provider == "" {
		errs = append(errs, errors.New("provider must be specified"))
	}
	positive := []struct {
		name  string
		value int
	}{
		{"max_batch_chars", c.MaxBatchChars},
		{"max_batch_units", c.MaxBatchUnits},
		{"concurrency", c.Concurrency},
		{"parse_concurrency", c.ParseConcurrency},
		{"max_attempts", c.MaxAttempts},
		{"request_timeout", c.RequestTimeout},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.name, p.value))
		}
	}
	if c.MaxUnitRetries < 0 || c.RequestsPerMinute < 0 || c.RequestIntervalMs < 0 {
		errs = append(errs, errors.New("max_unit_retries, requests_per_minute and request_interval_ms must not be negative"))
	}
	if c.InitialBackoffMs < 0 || c.MaxBackoffMs < 0 {
		errs = append(errs, errors.New("backoff must not be negative"))
	}
	if c.BackoffMultiplier < 1 {
		errs = append(errs, fmt.Errorf("backoff_multiplier must be at least 1, got %v", c.BackoffMultiplier))
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		errs = append(errs, fmt.Errorf("jitter must be within [0, 1], got %v", c.Jitter))
	}
	return errors.Join(errs...)
}

// WalkerOptions 文档分类选项
func (c *Config) WalkerOptions() walker.Options {
	return walker.Options{
		ContentTags:         c.TranslatableTags,
		OpaqueTags:          c.OpaqueTags,
		AttributeTags:       c.AttributeTags,
		TranslateAttributes: c.TranslateAttributes,
		Attributes:          c.TranslatableAttributes,
	}
}

// Limits 批次限制
func (c *Config) Limits() scheduler.Limits {
	return scheduler.Limits{MaxChars: c.MaxBatchChars, MaxUnits: c.MaxBatchUnits}
}

// RetryPolicy 重试策略
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: time.Duration(c.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(c.MaxBackoffMs) * time.Millisecond,
		Multiplier:   c.BackoffMultiplier,
		Jitter:       c.Jitter,
	}
}

// RequestTimeoutDuration 单次请求超时
func (c *Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// RequestInterval 两次请求的最小间隔
func (c *Config) RequestInterval() time.Duration {
	return time.Duration(c.RequestIntervalMs) * time.Millisecond
}

// ProviderConfig 后端配置，glossary 可以为 nil
func (c *Config) ProviderConfig(glossary *Glossary) providers.Config {
	pc := providers.DefaultConfig()
	pc.APIKey = c.APIKey
	pc.BaseURL = c.BaseURL
	if c.Model != "" {
		pc.Model = c.Model
	}
	pc.Temperature = c.Temperature
	if c.MaxTokens > 0 {
		pc.MaxTokens = c.MaxTokens
	}
	pc.Timeout = c.RequestTimeoutDuration()
	for k, v := range c.Headers {
		pc.Headers[k] = v
	}
	pc.SystemPrompt = c.SystemPrompt
	if glossary != nil {
		pc.Glossary = glossary.Translations
	}
	return pc
}

// structToMap 将结构体转换为map
func structToMap(config *Config) map[string]interface{} {
	return map[string]interface{}{
		"source_lang":             config.SourceLang,
		"target_lang":             config.TargetLang,
		"provider":                config.Provider,
		"model":                   config.Model,
		"api_key":                 config.APIKey,
		"base_url":                config.BaseURL,
		"temperature":             config.Temperature,
		"max_tokens":              config.MaxTokens,
		"request_timeout":         config.RequestTimeout,
		"headers":                 config.Headers,
		"system_prompt":           config.SystemPrompt,
		"glossary_path":           config.GlossaryPath,
		"max_batch_chars":         config.MaxBatchChars,
		"max_batch_units":         config.MaxBatchUnits,
		"concurrency":             config.Concurrency,
		"parse_concurrency":       config.ParseConcurrency,
		"requests_per_minute":     config.RequestsPerMinute,
		"request_interval_ms":     config.RequestIntervalMs,
		"max_attempts":            config.MaxAttempts,
		"max_unit_retries":        config.MaxUnitRetries,
		"initial_backoff_ms":      config.InitialBackoffMs,
		"max_backoff_ms":          config.MaxBackoffMs,
		"backoff_multiplier":      config.BackoffMultiplier,
		"jitter":                  config.Jitter,
		"translatable_tags":       config.TranslatableTags,
		"opaque_tags":             config.OpaqueTags,
		"attribute_tags":          config.AttributeTags,
		"translatable_attributes": config.TranslatableAttributes,
		"translate_attributes":    config.TranslateAttributes,
		"cache_dir":               config.CacheDir,
		"use_cache":               config.UseCache,
		"debug":                   config.Debug,
		"verbose":                 config.Verbose,
	}
}
