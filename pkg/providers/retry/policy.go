package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Policy 重试策略
type Policy struct {
	// MaxAttempts 每个批次的最大尝试次数（含首次）
	MaxAttempts int `json:"max_attempts"`

	// InitialDelay 首次重试前的等待时间
	InitialDelay time.Duration `json:"initial_delay"`

	// MaxDelay 单次等待上限
	MaxDelay time.Duration `json:"max_delay"`

	// Multiplier 退避因子（指数退避）
	Multiplier float64 `json:"multiplier"`

	// Jitter 随机抖动比例，0.2 表示 ±20%
	Jitter float64 `json:"jitter"`
}

// DefaultPolicy 返回默认重试策略
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  4,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// Validate 检查策略
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 {
		return errors.New("retry delays must not be negative")
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("jitter must be within [0, 1], got %v", p.Jitter)
	}
	return nil
}

// Delay 计算第 attempt 次失败后的等待时间（attempt 从 1 开始）。
// 服务端给出的 retryAfter 更长时以其为准。
func (p Policy) Delay(attempt int, retryAfter time.Duration) time.Duration {
	delay := p.InitialDelay

	// 指数退避
	if attempt > 1 {
		factor := p.Multiplier
		if factor < 1.0 {
			factor = 2.0
		}
		delay = time.Duration(float64(delay) * math.Pow(factor, float64(attempt-1)))
	}

	// 限制最大延迟
	if p.MaxDelay > 0 && (delay > p.MaxDelay || delay < 0) {
		delay = p.MaxDelay
	}

	if p.Jitter > 0 && delay > 0 {
		spread := float64(delay) * p.Jitter
		delay = time.Duration(float64(delay) - spread + rand.Float64()*2*spread)
	}

	if retryAfter > delay {
		delay = retryAfter
	}
	return delay
}

// Sleep 等待 d，上下文取消时提前返回其错误
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
