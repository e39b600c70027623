package translator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nerdneilsfield/go-epub-translator/pkg/providers/retry"
)

// Throttle 所有 worker 共享的请求节流器。
// 限速器控制请求间隔，pauseUntil 在后端限流后让所有 worker 一起等待。
type Throttle struct {
	limiter *rate.Limiter

	mu         sync.Mutex
	pauseUntil time.Time

	logger *zap.Logger
}

// NewThrottle 创建节流器，requestsPerMinute 和 interval 为 0 表示不限
func NewThrottle(requestsPerMinute int, interval time.Duration, logger *zap.Logger) *Throttle {
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Limit(float64(requestsPerMinute) / 60)
	}
	if interval > 0 {
		if every := rate.Every(interval); every < limit {
			limit = every
		}
	}

	t := &Throttle{logger: logger}
	if limit != rate.Inf {
		t.limiter = rate.NewLimiter(limit, 1)
	}
	return t
}

// Wait 等待暂停结束并取得一个请求配额
func (t *Throttle) Wait(ctx context.Context) error {
	// 等待期间暂停可能被延长，需要重新检查
	for {
		d := time.Until(t.PausedUntil())
		if d <= 0 {
			break
		}
		if err := retry.Sleep(ctx, d); err != nil {
			return err
		}
	}
	if t.limiter == nil {
		return ctx.Err()
	}
	return t.limiter.Wait(ctx)
}

// Pause 让所有 worker 暂停 d，已有更长的暂停时保持不变
func (t *Throttle) Pause(d time.Duration) {
	if d <= 0 {
		return
	}
	until := time.Now().Add(d)

	t.mu.Lock()
	extended := until.After(t.pauseUntil)
	if extended {
		t.pauseUntil = until
	}
	t.mu.Unlock()

	if extended {
		t.logger.Info("backend rate limited, pausing requests", zap.Duration("pause", d))
	}
}

// PausedUntil 当前暂停的截止时间
func (t *Throttle) PausedUntil() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pauseUntil
}
