package libretranslate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-epub-translator/pkg/providers"
)

func TestTranslate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/translate", r.URL.Path)
		var req translateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"Hello", "World"}, req.Q)
		assert.Equal(t, "auto", req.Source)
		assert.Equal(t, "zt", req.Target)
		assert.Equal(t, "text", req.Format)

		json.NewEncoder(w).Encode(map[string]any{"translatedText": []string{"你好", "世界"}})
	}))
	defer server.Close()

	b, err := New(providers.Config{BaseURL: server.URL}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, Name, b.Name())

	resp, err := b.Translate(context.Background(), &providers.Request{
		TargetLang: "Traditional Chinese",
		Items:      []providers.Item{{Key: "1:1", Text: "Hello"}, {Key: "1:2", Text: "World"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"1:1": "你好", "1:2": "世界"}, resp.Index())
}

func TestTranslateError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"xx is not supported"}`)
	}))
	defer server.Close()

	b, err := New(providers.Config{BaseURL: server.URL}, nil)
	require.NoError(t, err)

	_, err = b.Translate(context.Background(), &providers.Request{
		TargetLang: "xx",
		Items:      []providers.Item{{Key: "a", Text: "Hello"}},
	})
	require.Error(t, err)
	assert.False(t, providers.IsTransient(err))
	assert.Contains(t, err.Error(), "xx is not supported")
}

func TestLanguageCode(t *testing.T) {
	assert.Equal(t, "en", languageCode("English"))
	assert.Equal(t, "zh", languageCode("Simplified Chinese"))
	assert.Equal(t, "zt", languageCode("zh-Hant"))
	assert.Equal(t, "", languageCode(""))
}
