package translator

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerdneilsfield/go-epub-translator/internal/scheduler"
	"github.com/nerdneilsfield/go-epub-translator/internal/segment"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers"
)

func batchOf(id int, texts ...string) *scheduler.Batch {
	b := &scheduler.Batch{ID: id}
	for i, text := range texts {
		b.Items = append(b.Items, scheduler.Item{Ref: segment.Ref{Doc: 0, Unit: i + 1}, Text: text, Hint: "p"})
		b.Chars += len([]rune(text))
	}
	return b
}

func TestClientSuccess(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestClient(t, backend, 2, 100)

	b := batchOf(1, "Hello", "World")
	out, err := c.Translate(context.Background(), b)
	require.NoError(t, err)

	assert.Equal(t, scheduler.BatchSucceeded, b.Status)
	assert.Equal(t, 1, b.Attempts)
	assert.Empty(t, out.Missing)
	assert.Equal(t, "[zh]Hello", out.Translated[segment.Ref{Doc: 0, Unit: 1}])
	assert.Equal(t, "[zh]World", out.Translated[segment.Ref{Doc: 0, Unit: 2}])

	req := backend.request(0)
	assert.Equal(t, "Chinese", req.TargetLang)
	assert.Equal(t, "0:1", req.Items[0].Key)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Calls)
	assert.Equal(t, int64(2), stats.TokensIn)
}

func TestClientPartialResult(t *testing.T) {
	backend := &fakeBackend{reply: func(_ int, req *providers.Request) (*providers.Response, error) {
		resp := echo(req, map[string]bool{"Two": true, "Three": true})
		// 空白译文等同于缺失
		resp.Results = append(resp.Results, providers.Result{Key: "0:3", Text: "  "})
		return resp, nil
	}}
	c := newTestClient(t, backend, 1, 100)

	b := batchOf(1, "One", "Two", "Three")
	out, err := c.Translate(context.Background(), b)
	require.NoError(t, err)

	assert.Equal(t, scheduler.BatchPartiallyFailed, b.Status)
	require.Len(t, out.Missing, 2)
	assert.Equal(t, "Two", out.Missing[0].Text)
	assert.Equal(t, "Three", out.Missing[1].Text)
	assert.Len(t, out.Translated, 1)
}

func TestClientRetriesTransient(t *testing.T) {
	backend := &fakeBackend{reply: func(call int, req *providers.Request) (*providers.Response, error) {
		if call < 3 {
			return nil, providers.FromStatus(http.StatusServiceUnavailable, 0, "overloaded", nil)
		}
		return echo(req, nil), nil
	}}
	c := newTestClient(t, backend, 1, 100)

	b := batchOf(1, "Hello")
	out, err := c.Translate(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 3, backend.calls())
	assert.Equal(t, 3, b.Attempts)
	assert.Equal(t, scheduler.BatchSucceeded, b.Status)
	assert.Len(t, out.Translated, 1)
	assert.Equal(t, int64(2), c.Stats().Retries)
}

func TestClientPermanentFailure(t *testing.T) {
	backend := &fakeBackend{reply: func(int, *providers.Request) (*providers.Response, error) {
		return nil, providers.FromStatus(http.StatusUnauthorized, 0, "bad key", nil)
	}}
	c := newTestClient(t, backend, 1, 100)

	b := batchOf(1, "Hello")
	_, err := c.Translate(context.Background(), b)
	require.Error(t, err)

	var be *providers.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, providers.CodeAuth, be.Code)
	assert.Equal(t, 1, backend.calls(), "permanent errors are not retried")
	assert.Equal(t, scheduler.BatchFailed, b.Status)
}

func TestClientExhaustsAttempts(t *testing.T) {
	backend := &fakeBackend{reply: func(int, *providers.Request) (*providers.Response, error) {
		return nil, providers.FromStatus(http.StatusBadGateway, 0, "", nil)
	}}
	c := newTestClient(t, backend, 1, 100)

	b := batchOf(1, "Hello")
	_, err := c.Translate(context.Background(), b)
	require.Error(t, err)
	assert.Equal(t, 3, backend.calls())
	assert.Equal(t, scheduler.BatchFailed, b.Status)
	assert.True(t, providers.IsTransient(err))
}

func TestClientRateLimitPausesAllWorkers(t *testing.T) {
	backend := &fakeBackend{reply: func(call int, req *providers.Request) (*providers.Response, error) {
		if call == 1 {
			return nil, providers.FromStatus(http.StatusTooManyRequests, 40*time.Millisecond, "slow down", nil)
		}
		return echo(req, nil), nil
	}}
	c := newTestClient(t, backend, 2, 100)

	start := time.Now()
	_, err := c.Translate(context.Background(), batchOf(1, "Hello"))
	require.NoError(t, err)

	// Retry-After 比退避更长时以其为准，并写入共享的暂停时间
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
	assert.False(t, c.throttle.PausedUntil().IsZero())
	assert.Equal(t, 2, backend.calls())
}

func TestClientConcurrencyLimit(t *testing.T) {
	backend := &fakeBackend{delay: 15 * time.Millisecond}
	c := newTestClient(t, backend, 2, 100)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := c.Translate(context.Background(), batchOf(id, "text"))
			assert.NoError(t, err)
		}(i + 1)
	}
	wg.Wait()

	assert.Equal(t, 8, backend.calls())
	assert.LessOrEqual(t, backend.peak.Load(), int64(2))
	assert.LessOrEqual(t, c.Stats().PeakInFlight, int64(2))
}

func TestClientCanceledBeforeSend(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestClient(t, backend, 1, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := batchOf(1, "Hello")
	_, err := c.Translate(ctx, b)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Zero(t, backend.calls())
	assert.Equal(t, scheduler.BatchFailed, b.Status)
}

func TestClientInFlightSurvivesCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := &fakeBackend{reply: func(_ int, req *providers.Request) (*providers.Response, error) {
		cancel()
		return echo(req, nil), nil
	}}
	c := newTestClient(t, backend, 1, 100)

	out, err := c.Translate(ctx, batchOf(1, "Hello"))
	require.NoError(t, err)
	assert.Len(t, out.Translated, 1)
}

func TestClientOversizedReassembly(t *testing.T) {
	backend := &fakeBackend{reply: func(_ int, req *providers.Request) (*providers.Response, error) {
		resp := &providers.Response{}
		for _, it := range req.Items {
			resp.Results = append(resp.Results, providers.Result{Key: it.Key, Text: strings.ToUpper(it.Text)})
		}
		return resp, nil
	}}
	c := newTestClient(t, backend, 1, 12)

	text := "First one. Second one! Third one? Last."
	b := batchOf(1, text)
	b.Oversized = true

	out, err := c.Translate(context.Background(), b)
	require.NoError(t, err)
	assert.Empty(t, out.Missing)
	assert.Equal(t, strings.ToUpper(text), out.Translated[segment.Ref{Doc: 0, Unit: 1}])
	assert.Equal(t, scheduler.BatchSucceeded, b.Status)

	assert.Greater(t, backend.calls(), 1)
	for i := 0; i < backend.calls(); i++ {
		for _, it := range backend.request(i).Items {
			assert.True(t, strings.HasPrefix(it.Key, "0:1#"), it.Key)
			assert.LessOrEqual(t, len([]rune(it.Text)), 12)
		}
	}
}

func TestClientResultsOutOfOrder(t *testing.T) {
	backend := &fakeBackend{reply: func(_ int, req *providers.Request) (*providers.Response, error) {
		return reversed(echo(req, nil)), nil
	}}
	c := newTestClient(t, backend, 1, 100)

	out, err := c.Translate(context.Background(), batchOf(1, "One", "Two", "Three"))
	require.NoError(t, err)
	assert.Empty(t, out.Missing)
	assert.Equal(t, map[segment.Ref]string{
		{Doc: 0, Unit: 1}: "[zh]One",
		{Doc: 0, Unit: 2}: "[zh]Two",
		{Doc: 0, Unit: 3}: "[zh]Three",
	}, out.Translated)
}

func TestClientOversizedFragmentsOutOfOrder(t *testing.T) {
	backend := &fakeBackend{reply: func(_ int, req *providers.Request) (*providers.Response, error) {
		resp := &providers.Response{}
		for _, it := range req.Items {
			resp.Results = append(resp.Results, providers.Result{Key: it.Key, Text: strings.ToUpper(it.Text)})
		}
		return reversed(resp), nil
	}}
	c := newTestClient(t, backend, 1, 10)

	// 片段尾部空白较长，裁剪后三个片段可以放进同一个请求
	text := "Hi.      Yo.      Ok."
	b := batchOf(1, text)
	b.Oversized = true

	out, err := c.Translate(context.Background(), b)
	require.NoError(t, err)
	assert.Empty(t, out.Missing)
	assert.Equal(t, "HI.      YO.      OK.", out.Translated[segment.Ref{Doc: 0, Unit: 1}])

	require.Equal(t, 1, backend.calls())
	keys := []string{}
	for _, it := range backend.request(0).Items {
		keys = append(keys, it.Key)
	}
	assert.Equal(t, []string{"0:1#0", "0:1#1", "0:1#2"}, keys)
}

func TestClientOversizedMissingFragment(t *testing.T) {
	backend := &fakeBackend{reply: func(_ int, req *providers.Request) (*providers.Response, error) {
		return echo(req, map[string]bool{"Second one!": true}), nil
	}}
	c := newTestClient(t, backend, 1, 12)

	b := batchOf(1, "First one. Second one! Third one?")
	b.Oversized = true

	out, err := c.Translate(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, out.Missing, 1)
	assert.Empty(t, out.Translated)
	assert.Equal(t, scheduler.BatchPartiallyFailed, b.Status)
}

func TestFragmentIndex(t *testing.T) {
	i, ok := fragmentIndex("0:1", fragmentKey("0:1", 7))
	assert.True(t, ok)
	assert.Equal(t, 7, i)

	_, ok = fragmentIndex("0:1", "0:12#3")
	assert.False(t, ok)
	_, ok = fragmentIndex("0:1", "0:1#x")
	assert.False(t, ok)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(nil, nil, ClientOptions{Concurrency: 1, Policy: testPolicy()}, nil, nil)
	assert.Error(t, err)

	_, err = NewClient(&fakeBackend{}, nil, ClientOptions{Concurrency: 0, Policy: testPolicy()}, nil, nil)
	assert.Error(t, err)
}
