package stats

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-epub-translator/pkg/providers"
)

type stubBackend struct {
	resp *providers.Response
	err  error
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Translate(context.Context, *providers.Request) (*providers.Response, error) {
	return s.resp, s.err
}

func request(texts ...string) *providers.Request {
	req := &providers.Request{SourceLang: "English", TargetLang: "Chinese"}
	for i, text := range texts {
		req.Items = append(req.Items, providers.Item{Key: string(rune('a' + i)), Text: text})
	}
	return req
}

func TestMiddlewareRecordsSuccess(t *testing.T) {
	mgr := NewManager("", zap.NewNop())
	backend := &stubBackend{resp: &providers.Response{
		Results: []providers.Result{
			{Key: "a", Text: "你好"},
			{Key: "b", Text: "API"},
		},
		TokensIn:  10,
		TokensOut: 6,
	}}
	mw := Wrap(backend, mgr, "gpt-test")
	assert.Equal(t, "stub", mw.Name())

	_, err := mw.Translate(context.Background(), request("Hello", "API", "World"))
	require.NoError(t, err)

	s := mgr.Get("stub", "gpt-test")
	require.NotNil(t, s)
	assert.Equal(t, int64(1), s.TotalRequests)
	assert.Equal(t, int64(1), s.SuccessfulRequests)
	assert.Equal(t, int64(3), s.ItemsRequested)
	assert.Equal(t, int64(2), s.ItemsReturned)
	assert.Equal(t, int64(1), s.ItemsUnchanged)
	assert.Equal(t, int64(1), s.PartialResponses)
	assert.Equal(t, int64(10), s.TotalTokensIn)

	m := s.Metrics()
	assert.InDelta(t, 100.0, m.SuccessRate, 0.001)
	assert.InDelta(t, 66.67, m.CompletionRate, 0.01)
	assert.InDelta(t, 50.0, m.UnchangedRate, 0.001)
}

func TestMiddlewareRecordsErrorCode(t *testing.T) {
	mgr := NewManager("", nil)
	backend := &stubBackend{err: providers.FromStatus(http.StatusTooManyRequests, time.Second, "slow down", nil)}
	mw := Wrap(backend, mgr, "m")

	_, err := mw.Translate(context.Background(), request("Hello"))
	require.Error(t, err)
	_, _ = mw.Translate(context.Background(), request("Hello"))

	s := mgr.Get("stub", "m")
	require.NotNil(t, s)
	assert.Equal(t, int64(2), s.FailedRequests)
	assert.Equal(t, int64(2), s.ErrorTypes[providers.CodeRateLimit])
	assert.Zero(t, s.ItemsRequested)
	assert.InDelta(t, 100.0, s.Metrics().ErrorRate, 0.001)
}

func TestRecordLatency(t *testing.T) {
	mgr := NewManager("", nil)
	mgr.RecordRequest("p", "m", RequestResult{Success: true, Latency: 10 * time.Millisecond})
	mgr.RecordRequest("p", "m", RequestResult{Success: true, Latency: 30 * time.Millisecond})

	s := mgr.Get("p", "m")
	assert.Equal(t, 10*time.Millisecond, s.MinLatency)
	assert.Equal(t, 30*time.Millisecond, s.MaxLatency)
	assert.Equal(t, 20*time.Millisecond, s.AverageLatency)
	assert.Nil(t, mgr.Get("p", "other"))
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats", "providers.json")

	mgr := NewManager(path, nil)
	mgr.RecordRequest("openai", "gpt-4o-mini", RequestResult{Success: false, ErrorType: providers.CodeAuth})
	mgr.RecordRequest("compat", "qwen", RequestResult{Success: true, ItemsRequested: 2, ItemsReturned: 2})
	require.NoError(t, mgr.Save())

	again := NewManager(path, nil)
	require.NoError(t, again.Load())
	all := again.All()
	require.Len(t, all, 2)
	assert.Equal(t, "compat", all[0].ProviderName)
	assert.Equal(t, int64(1), all[1].ErrorTypes[providers.CodeAuth])

	missing := NewManager(filepath.Join(t.TempDir(), "none.json"), nil)
	assert.NoError(t, missing.Load())
	assert.Empty(t, missing.All())
}
