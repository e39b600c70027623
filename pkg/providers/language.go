package providers

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// knownTags 机器翻译接口常见的语言
var knownTags = []string{
	"ar", "bg", "cs", "da", "de", "el", "en", "en-GB", "en-US", "es", "et", "fa", "fi", "fr",
	"he", "hi", "hu", "id", "it", "ja", "ko", "lt", "lv", "nb", "nl", "pl", "pt", "pt-BR",
	"pt-PT", "ro", "ru", "sk", "sl", "sv", "th", "tr", "uk", "vi", "zh", "zh-Hans", "zh-Hant",
}

// nameToTag 英文显示名称到标签，如 "simplified chinese" -> zh-Hans
var nameToTag = func() map[string]language.Tag {
	namer := display.English.Tags()
	m := make(map[string]language.Tag, len(knownTags))
	for _, s := range knownTags {
		tag := language.MustParse(s)
		if name := namer.Name(tag); name != "" {
			m[strings.ToLower(name)] = tag
		}
	}
	m["chinese"] = language.Chinese
	m["traditional chinese"] = language.TraditionalChinese
	m["simplified chinese"] = language.SimplifiedChinese
	return m
}()

// LanguageTag 将英文语言名称或 BCP-47 标签解析为语言标签
func LanguageTag(lang string) (language.Tag, bool) {
	s := strings.TrimSpace(lang)
	if s == "" {
		return language.Und, false
	}
	if tag, ok := nameToTag[strings.ToLower(s)]; ok {
		return tag, true
	}
	tag, err := language.Parse(s)
	if err != nil {
		return language.Und, false
	}
	return tag, true
}
