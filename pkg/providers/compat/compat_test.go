package compat

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
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers/wire"
)

func newTestBackend(t *testing.T, handler http.HandlerFunc) *Backend {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := providers.DefaultConfig()
	cfg.BaseURL = server.URL + "/v1/"
	cfg.Model = "deepseek-chat"
	cfg.Timeout = 5 * time.Second
	cfg.Headers = map[string]string{"X-Trace": "abc"}
	b, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	return b
}

func TestTranslate(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "abc", r.Header.Get("X-Trace"))

		var body struct {
			Model string   `json:"model"`
			Stop  []string `json:"stop"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "deepseek-chat", body.Model)
		assert.Equal(t, []string{wire.StopMarker}, body.Stop)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "1",
			"model": "deepseek-chat",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": "<think>hmm</think>[[1]]Bonjour[[1]]\n[[2]]Monde[[2]]"},
			}},
			"usage": map[string]any{"prompt_tokens": 5, "completion_tokens": 4, "total_tokens": 9},
		})
	})

	resp, err := b.Translate(context.Background(), &providers.Request{
		SourceLang: "English",
		TargetLang: "French",
		Items:      []providers.Item{{Key: "2:1", Text: "Hello"}, {Key: "2:2", Text: "World"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"2:1": "Bonjour", "2:2": "Monde"}, resp.Index())
	assert.Equal(t, 5, resp.TokensIn)
}

func TestTranslateServerError(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	})

	_, err := b.Translate(context.Background(), &providers.Request{Items: []providers.Item{{Key: "0:1", Text: "x"}}})
	require.Error(t, err)
	be := providers.Classify(err)
	assert.Equal(t, providers.KindTransient, be.Kind)
	assert.Equal(t, 503, be.StatusCode)
}

func TestTranslateBadRequest(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"context too long","type":"invalid_request_error"}}`)
	})

	_, err := b.Translate(context.Background(), &providers.Request{Items: []providers.Item{{Key: "0:1", Text: "x"}}})
	require.Error(t, err)
	assert.False(t, providers.IsTransient(err))
}

func TestNewValidates(t *testing.T) {
	_, err := New(providers.Config{Model: "m"}, nil)
	assert.Error(t, err)
	_, err = New(providers.Config{BaseURL: "http://localhost"}, nil)
	assert.Error(t, err)
}
