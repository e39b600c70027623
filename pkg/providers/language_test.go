package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestLanguageTag(t *testing.T) {
	tests := []struct {
		in   string
		want language.Tag
		ok   bool
	}{
		{"English", language.English, true},
		{"  french ", language.French, true},
		{"Simplified Chinese", language.SimplifiedChinese, true},
		{"Traditional Chinese", language.TraditionalChinese, true},
		{"ja", language.Japanese, true},
		{"pt-BR", language.BrazilianPortuguese, true},
		{"", language.Und, false},
		{"not a language!", language.Und, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := LanguageTag(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want.String(), got.String())
		})
	}
}
