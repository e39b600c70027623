package deepl

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-epub-translator/pkg/providers"
)

func newTestBackend(t *testing.T, handler http.HandlerFunc) *Backend {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := providers.DefaultConfig()
	cfg.APIKey = "secret"
	cfg.BaseURL = server.URL + "/v2/"
	cfg.Timeout = 5 * time.Second
	b, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	return b
}

func TestTranslate(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/translate", r.URL.Path)
		assert.Equal(t, "DeepL-Auth-Key secret", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, []string{"Hello", "World"}, r.PostForm["text"])
		assert.Equal(t, "EN", r.PostForm.Get("source_lang"))
		assert.Equal(t, "FR", r.PostForm.Get("target_lang"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"translations": []map[string]string{
				{"detected_source_language": "EN", "text": "Bonjour"},
				{"detected_source_language": "EN", "text": "Monde"},
			},
		})
	})

	resp, err := b.Translate(context.Background(), &providers.Request{
		SourceLang: "English",
		TargetLang: "French",
		Items:      []providers.Item{{Key: "0:3", Text: "Hello"}, {Key: "0:1", Text: "World"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"0:3": "Bonjour", "0:1": "Monde"}, resp.Index())
}

func TestTranslateCountMismatch(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"translations":[{"text":"Bonjour"}]}`)
	})

	_, err := b.Translate(context.Background(), &providers.Request{
		TargetLang: "fr",
		Items:      []providers.Item{{Key: "a", Text: "Hello"}, {Key: "b", Text: "World"}},
	})
	require.Error(t, err)
	assert.True(t, providers.IsTransient(err))
}

func TestTranslateErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		code      string
	}{
		{"quota", 456, ``, false, providers.CodeBadRequest},
		{"auth", http.StatusForbidden, `{"message":"Wrong key"}`, false, providers.CodeAuth},
		{"rate limit", http.StatusTooManyRequests, ``, true, providers.CodeRateLimit},
		{"unavailable", http.StatusServiceUnavailable, ``, true, providers.CodeServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "2")
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			_, err := b.Translate(context.Background(), &providers.Request{
				TargetLang: "de",
				Items:      []providers.Item{{Key: "a", Text: "Hello"}},
			})
			require.Error(t, err)
			be := providers.Classify(err)
			assert.Equal(t, tt.transient, be.Kind == providers.KindTransient)
			assert.Equal(t, tt.code, be.Code)
			assert.Equal(t, 2*time.Second, be.RetryAfter)
		})
	}
}

func TestLanguageCode(t *testing.T) {
	assert.Equal(t, "EN", languageCode("English", false))
	assert.Equal(t, "EN-US", languageCode("English", true))
	assert.Equal(t, "EN-GB", languageCode("en-GB", true))
	assert.Equal(t, "PT-BR", languageCode("pt", true))
	assert.Equal(t, "ZH-HANS", languageCode("Simplified Chinese", true))
	assert.Equal(t, "ZH-HANT", languageCode("zh-Hant", true))
	assert.Equal(t, "ZH", languageCode("Chinese", false))
	assert.Equal(t, "DE", languageCode("de", true))
	assert.Equal(t, "", languageCode("", false))
}

func TestNew(t *testing.T) {
	_, err := New(providers.Config{}, nil)
	assert.Error(t, err)

	b, err := New(providers.Config{APIKey: "abc:fx"}, nil)
	require.NoError(t, err)
	assert.Equal(t, freeEndpoint, b.endpoint)

	b, err = New(providers.Config{APIKey: "abc"}, nil)
	require.NoError(t, err)
	assert.Equal(t, proEndpoint, b.endpoint)
}
