package translator

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-epub-translator/internal/reinsert"
	"github.com/nerdneilsfield/go-epub-translator/internal/scheduler"
	"github.com/nerdneilsfield/go-epub-translator/internal/walker"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers/retry"
)

// fakeBackend 可编程的翻译后端，记录所有请求
type fakeBackend struct {
	mu       sync.Mutex
	requests []providers.Request

	// reply 决定第 call 次调用（从 1 开始）的结果，为 nil 时回显 "[zh]" 前缀
	reply func(call int, req *providers.Request) (*providers.Response, error)
	delay time.Duration

	inFlight atomic.Int64
	peak     atomic.Int64
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Translate(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, *req)
	call := len(f.requests)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.reply != nil {
		return f.reply(call, req)
	}
	return echo(req, nil), nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeBackend) request(i int) providers.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

// echo 为每个条目返回 "[zh]原文"，drop 中的原文不返回
func echo(req *providers.Request, drop map[string]bool) *providers.Response {
	resp := &providers.Response{TokensIn: len(req.Items), TokensOut: len(req.Items)}
	for _, it := range req.Items {
		if drop[it.Text] {
			continue
		}
		resp.Results = append(resp.Results, providers.Result{Key: it.Key, Text: "[zh]" + it.Text})
	}
	return resp
}

// reversed 反转结果顺序，模拟不按请求顺序返回的后端
func reversed(resp *providers.Response) *providers.Response {
	slices.Reverse(resp.Results)
	return resp
}

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func newTestClient(t *testing.T, backend providers.Backend, concurrency, maxChars int) *Client {
	t.Helper()
	c, err := NewClient(backend, nil, ClientOptions{
		SourceLang:  "English",
		TargetLang:  "Chinese",
		Concurrency: concurrency,
		Policy:      testPolicy(),
		Timeout:     time.Second,
		MaxChars:    maxChars,
	}, nil, zap.NewNop())
	require.NoError(t, err)
	return c
}

type coordinatorSetup struct {
	limits      scheduler.Limits
	concurrency int
	unitRetries int
	opts        Options
}

func newTestCoordinator(t *testing.T, backend providers.Backend, setup coordinatorSetup) *TranslationCoordinator {
	t.Helper()
	if setup.limits.MaxChars == 0 {
		setup.limits = scheduler.Limits{MaxChars: 200, MaxUnits: 10}
	}
	if setup.concurrency == 0 {
		setup.concurrency = 2
	}

	logger := zap.NewNop()
	w := walker.New(walker.DefaultOptions(), logger)
	sched, err := scheduler.New(setup.limits, logger)
	require.NoError(t, err)
	client := newTestClient(t, backend, setup.concurrency, setup.limits.MaxChars)

	opts := setup.opts
	opts.SourceLang = "English"
	opts.TargetLang = "Chinese"
	opts.Provider = backend.Name()
	opts.ParseConcurrency = 2
	opts.MaxUnitRetries = setup.unitRetries

	c, err := NewTranslationCoordinator(w, sched, client, reinsert.New(w, logger), opts, logger)
	require.NoError(t, err)
	return c
}
