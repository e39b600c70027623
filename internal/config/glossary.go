package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Glossary 术语表，会被写入系统提示词
type Glossary struct {
	SourceLang   string            `toml:"source_lang"`
	TargetLang   string            `toml:"target_lang"`
	Translations map[string]string `toml:"translations"`
}

// LoadGlossary 加载 TOML 术语表
func LoadGlossary(path string) (*Glossary, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("glossary file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read glossary file: %w", err)
	}

	g := &Glossary{}
	if err := toml.Unmarshal(content, g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal glossary: %w", err)
	}
	if g.SourceLang == "" || g.TargetLang == "" {
		return nil, fmt.Errorf("glossary file is missing source_lang or target_lang")
	}
	for term, translation := range g.Translations {
		if strings.TrimSpace(term) == "" || strings.TrimSpace(translation) == "" {
			return nil, fmt.Errorf("glossary entry %q has an empty side", term)
		}
	}
	return g, nil
}

var tagPattern = regexp.MustCompile(`^[A-Za-z]{2,3}([-_][A-Za-z0-9]{2,8})*$`)

// LanguageName 将 BCP-47 标签（zh-Hans、fr）转换为英文名称，其他写法原样返回
func LanguageName(lang string) string {
	lang = strings.TrimSpace(lang)
	if !tagPattern.MatchString(lang) {
		return lang
	}
	tag, err := language.Parse(strings.ReplaceAll(lang, "_", "-"))
	if err != nil || tag == language.Und {
		return lang
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return lang
}

// TargetLanguageName 目标语言的英文名称
func (c *Config) TargetLanguageName() string {
	return LanguageName(c.TargetLang)
}

// SourceLanguageName 源语言的英文名称
func (c *Config) SourceLanguageName() string {
	return LanguageName(c.SourceLang)
}
