package translator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-epub-translator/internal/progress"
	"github.com/nerdneilsfield/go-epub-translator/internal/scheduler"
	"github.com/nerdneilsfield/go-epub-translator/internal/segment"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers"
	"github.com/nerdneilsfield/go-epub-translator/pkg/providers/retry"
)

var (
	// ErrCanceled 用户取消翻译
	ErrCanceled = errors.New("translation canceled")

	// ErrMissingResult 多次重新排队后仍未得到译文
	ErrMissingResult = errors.New("no translation returned for unit")
)

// ClientOptions 翻译客户端选项
type ClientOptions struct {
	SourceLang string
	TargetLang string

	// Concurrency 同时进行的请求数上限
	Concurrency int

	Policy retry.Policy

	// Timeout 单次请求超时，0 表示不限
	Timeout time.Duration

	// MaxChars 超长单元按句拆分时每个请求的字符上限
	MaxChars int
}

// ClientStats 客户端统计
type ClientStats struct {
	Calls        int64 `json:"calls" yaml:"calls"`
	Retries      int64 `json:"retries" yaml:"retries"`
	TokensIn     int64 `json:"tokens_in" yaml:"tokens_in"`
	TokensOut    int64 `json:"tokens_out" yaml:"tokens_out"`
	PeakInFlight int64 `json:"peak_in_flight" yaml:"peak_in_flight"`
}

// BatchOutcome 一个批次的结果，Missing 中的单元需要重新排队
type BatchOutcome struct {
	Translated map[segment.Ref]string
	Missing    []scheduler.Item
}

// Client 翻译客户端，负责单个批次的请求、重试和并发控制
type Client struct {
	backend  providers.Backend
	throttle *Throttle
	opts     ClientOptions
	sem      chan struct{}
	reporter progress.Reporter
	logger   *zap.Logger

	calls     atomic.Int64
	retries   atomic.Int64
	tokensIn  atomic.Int64
	tokensOut atomic.Int64
	inFlight  atomic.Int64
	peak      atomic.Int64
}

// NewClient 创建翻译客户端，throttle 为 nil 时不限速
func NewClient(backend providers.Backend, throttle *Throttle, opts ClientOptions, reporter progress.Reporter, logger *zap.Logger) (*Client, error) {
	if backend == nil {
		return nil, errors.New("backend cannot be nil")
	}
	if opts.Concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive, got %d", opts.Concurrency)
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if throttle == nil {
		throttle = NewThrottle(0, 0, logger)
	}
	if reporter == nil {
		reporter = progress.Nop{}
	}
	return &Client{
		backend:  backend,
		throttle: throttle,
		opts:     opts,
		sem:      make(chan struct{}, opts.Concurrency),
		reporter: reporter,
		logger:   logger,
	}, nil
}

// Concurrency 并发上限
func (c *Client) Concurrency() int {
	return c.opts.Concurrency
}

// Stats 返回统计快照
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Calls:        c.calls.Load(),
		Retries:      c.retries.Load(),
		TokensIn:     c.tokensIn.Load(),
		TokensOut:    c.tokensOut.Load(),
		PeakInFlight: c.peak.Load(),
	}
}

// Translate 翻译一个批次。
// 后端只返回部分结果时，缺失的单元放在 BatchOutcome.Missing 中；
// 瞬时错误按策略退避重试，永久错误或重试耗尽时返回错误，批次状态为 failed。
func (c *Client) Translate(ctx context.Context, b *scheduler.Batch) (*BatchOutcome, error) {
	if b.Oversized && len(b.Items) == 1 && c.opts.MaxChars > 0 {
		frags := scheduler.SplitSentences(b.Items[0].Text, c.opts.MaxChars)
		if len(frags) > 1 {
			return c.translateFragments(ctx, b, frags)
		}
	}

	items := make([]providers.Item, len(b.Items))
	for i, it := range b.Items {
		items[i] = providers.Item{Key: it.Key(), Text: it.Text, Hint: it.Hint}
	}

	resp, err := c.attempt(ctx, b, items)
	if err != nil {
		b.Status = scheduler.BatchFailed
		return nil, err
	}

	index := resp.Index()
	out := &BatchOutcome{Translated: make(map[segment.Ref]string, len(b.Items))}
	for _, it := range b.Items {
		text, ok := index[it.Key()]
		if !ok || strings.TrimSpace(text) == "" {
			out.Missing = append(out.Missing, it)
			continue
		}
		out.Translated[it.Ref] = text
	}

	b.Status = scheduler.BatchSucceeded
	if len(out.Missing) > 0 {
		b.Status = scheduler.BatchPartiallyFailed
		c.logger.Debug("batch returned partial result",
			zap.Int("batchID", b.ID),
			zap.Int("missing", len(out.Missing)),
			zap.Int("units", len(b.Items)))
	}
	return out, nil
}

// translateFragments 超长单元按句拆分后分多次请求，按片段序号拼回
func (c *Client) translateFragments(ctx context.Context, b *scheduler.Batch, frags []string) (*BatchOutcome, error) {
	it := b.Items[0]
	translations := make([]string, len(frags))

	var (
		pending []providers.Item
		size    int
	)
	send := func() error {
		if len(pending) == 0 {
			return nil
		}
		resp, err := c.attempt(ctx, b, pending)
		if err != nil {
			return err
		}
		for key, text := range resp.Index() {
			if i, ok := fragmentIndex(it.Key(), key); ok && i < len(translations) {
				translations[i] = text
			}
		}
		pending, size = nil, 0
		return nil
	}

	for i, frag := range frags {
		text := strings.TrimSpace(frag)
		if text == "" {
			continue
		}
		n := len([]rune(text))
		if size > 0 && size+n > c.opts.MaxChars {
			if err := send(); err != nil {
				b.Status = scheduler.BatchFailed
				return nil, err
			}
		}
		pending = append(pending, providers.Item{Key: fragmentKey(it.Key(), i), Text: text, Hint: it.Hint})
		size += n
	}
	if err := send(); err != nil {
		b.Status = scheduler.BatchFailed
		return nil, err
	}

	out := &BatchOutcome{Translated: make(map[segment.Ref]string, 1)}
	for i, frag := range frags {
		// 任何片段缺失都视为整个单元缺失
		if strings.TrimSpace(frag) != "" && strings.TrimSpace(translations[i]) == "" {
			out.Missing = []scheduler.Item{it}
			b.Status = scheduler.BatchPartiallyFailed
			return out, nil
		}
	}
	out.Translated[it.Ref] = scheduler.JoinFragments(frags, translations)
	b.Status = scheduler.BatchSucceeded

	c.logger.Debug("oversized unit reassembled",
		zap.Int("batchID", b.ID),
		zap.String("unit", it.Key()),
		zap.Int("fragments", len(frags)))
	return out, nil
}

func fragmentKey(key string, i int) string {
	return key + "#" + strconv.Itoa(i)
}

func fragmentIndex(key, fragKey string) (int, bool) {
	suffix, ok := strings.CutPrefix(fragKey, key+"#")
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(suffix)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

// attempt 发送一次请求，瞬时错误按策略退避重试
func (c *Client) attempt(ctx context.Context, b *scheduler.Batch, items []providers.Item) (*providers.Response, error) {
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())
		}

		b.Status = scheduler.BatchInFlight
		b.Attempts++
		c.reporter.Report(progress.Event{Kind: progress.EventBatchStarted, BatchID: b.ID, Units: len(b.Items), Attempt: b.Attempts})

		resp, err := c.call(ctx, items)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCanceled, err)
		}

		be := providers.Classify(err)
		if !be.IsRetryable() || attempt >= c.opts.Policy.MaxAttempts {
			c.logger.Warn("batch request failed",
				zap.Int("batchID", b.ID),
				zap.Int("attempt", attempt),
				zap.String("kind", be.Kind.String()),
				zap.Error(err))
			return nil, be
		}

		delay := c.opts.Policy.Delay(attempt, be.RetryAfter)
		if be.Code == providers.CodeRateLimit {
			c.throttle.Pause(delay)
		}

		b.Status = scheduler.BatchRetryWait
		c.retries.Add(1)
		c.reporter.Report(progress.Event{Kind: progress.EventBatchRetry, BatchID: b.ID, Units: len(b.Items), Attempt: b.Attempts, Err: err})
		c.logger.Info("retrying batch",
			zap.Int("batchID", b.ID),
			zap.Int("attempt", attempt),
			zap.String("code", be.Code),
			zap.Duration("delay", delay))

		if err := retry.Sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCanceled, err)
		}
		b.Status = scheduler.BatchQueued
	}
}

// call 占用一个并发槽位发送请求。
// 取消只影响等待阶段，已发出的请求在超时前允许完成。
func (c *Client) call(ctx context.Context, items []providers.Item) (*providers.Response, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.sem }()

	if err := c.throttle.Wait(ctx); err != nil {
		return nil, err
	}

	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		peak := c.peak.Load()
		if n <= peak || c.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	callCtx := context.WithoutCancel(ctx)
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, c.opts.Timeout)
		defer cancel()
	}

	c.calls.Add(1)
	resp, err := c.backend.Translate(callCtx, &providers.Request{
		SourceLang: c.opts.SourceLang,
		TargetLang: c.opts.TargetLang,
		Items:      items,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &providers.Response{}
	}
	c.tokensIn.Add(int64(resp.TokensIn))
	c.tokensOut.Add(int64(resp.TokensOut))
	return resp, nil
}
