package translator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestThrottleUnlimited(t *testing.T) {
	th := NewThrottle(0, 0, zap.NewNop())
	assert.Nil(t, th.limiter)

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, th.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestThrottleInterval(t *testing.T) {
	th := NewThrottle(0, 20*time.Millisecond, zap.NewNop())

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, th.Wait(context.Background()))
	}
	// 第一次立即通过，之后每次间隔 20ms
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestThrottleStricterLimitWins(t *testing.T) {
	// 6000 次/分钟即 10ms 间隔，比 50ms 宽松
	th := NewThrottle(6000, 50*time.Millisecond, zap.NewNop())
	assert.InDelta(t, 20.0, float64(th.limiter.Limit()), 0.001)

	th = NewThrottle(60, 10*time.Millisecond, zap.NewNop())
	assert.InDelta(t, 1.0, float64(th.limiter.Limit()), 0.001)
}

func TestThrottlePause(t *testing.T) {
	th := NewThrottle(0, 0, zap.NewNop())
	th.Pause(50 * time.Millisecond)
	first := th.PausedUntil()

	// 更短的暂停不会缩短已有的暂停
	th.Pause(time.Millisecond)
	assert.Equal(t, first, th.PausedUntil())

	start := time.Now()
	require.NoError(t, th.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestThrottleWaitCanceled(t *testing.T) {
	th := NewThrottle(0, 0, zap.NewNop())
	th.Pause(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := th.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
