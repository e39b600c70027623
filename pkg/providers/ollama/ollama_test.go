package ollama

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
	cfg.BaseURL = server.URL + "/v1"
	cfg.Model = "mistral"
	cfg.MaxTokens = 512
	cfg.Timeout = 5 * time.Second
	b, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	return b
}

func TestNew(t *testing.T) {
	b, err := New(providers.Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultEndpoint, b.endpoint)
	assert.Equal(t, defaultModel, b.cfg.Model)
	assert.Equal(t, Name, b.Name())

	b, err = New(providers.Config{BaseURL: "http://custom-ollama:8080/", Model: "llama3"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://custom-ollama:8080", b.endpoint)
	assert.Equal(t, "llama3", b.cfg.Model)
}

func TestTranslate(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mistral", req.Model)
		assert.False(t, req.Stream)
		assert.Equal(t, "[[1]]Hello[[1]]\n[[2]]World[[2]]\n"+wire.StopMarker, req.Prompt)
		assert.Contains(t, req.System, "from English into French")
		assert.EqualValues(t, 512, req.Options["num_predict"])
		assert.Equal(t, []any{wire.StopMarker}, req.Options["stop"])

		json.NewEncoder(w).Encode(GenerateResponse{
			Model:           "mistral",
			Response:        "[[1]]Bonjour[[1]]\n[[2]]Monde[[2]]",
			Done:            true,
			PromptEvalCount: 12,
			EvalCount:       6,
		})
	})

	resp, err := b.Translate(context.Background(), &providers.Request{
		SourceLang: "English",
		TargetLang: "French",
		Items:      []providers.Item{{Key: "0:1", Text: "Hello"}, {Key: "0:2", Text: "World"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"0:1": "Bonjour", "0:2": "Monde"}, resp.Index())
	assert.Equal(t, 12, resp.TokensIn)
	assert.Equal(t, 6, resp.TokensOut)
}

func TestTranslatePartial(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(GenerateResponse{Model: "mistral", Response: "[[2]]Monde[[2]]", Done: true})
	})

	resp, err := b.Translate(context.Background(), &providers.Request{
		Items: []providers.Item{{Key: "a", Text: "Hello"}, {Key: "b", Text: "World"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b": "Monde"}, resp.Index())
}

func TestTranslateErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"model not found", http.StatusNotFound, `{"error":"model \"mistral\" not found"}`, false},
		{"overloaded", http.StatusServiceUnavailable, `{"error":"server busy"}`, true},
		{"empty", http.StatusOK, `{"model":"mistral","response":"  ","done":true}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			_, err := b.Translate(context.Background(), &providers.Request{
				Items: []providers.Item{{Key: "a", Text: "Hello"}},
			})
			require.Error(t, err)
			assert.Equal(t, tt.transient, providers.IsTransient(err))
		})
	}
}
