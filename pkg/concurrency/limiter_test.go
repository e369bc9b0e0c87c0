package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAcquireRelease(t *testing.T) {
	limiter := NewLimiter(2)
	ctx := context.Background()

	require.NoError(t, limiter.Acquire(ctx))
	require.NoError(t, limiter.Acquire(ctx))
	assert.Equal(t, int64(2), limiter.CurrentActive())

	limiter.Release()
	limiter.Release()
	assert.Equal(t, int64(0), limiter.CurrentActive())

	metrics := limiter.GetMetrics()
	assert.Equal(t, int64(2), metrics.TotalAcquired)
	assert.Equal(t, int64(2), metrics.TotalReleased)
}

func TestLimiterBoundsConcurrency(t *testing.T) {
	limiter := NewLimiter(2)

	var active, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := limiter.GoSync(context.Background(), func() error {
				current := atomic.AddInt64(&active, 1)
				for {
					p := atomic.LoadInt64(&peak)
					if current <= p || atomic.CompareAndSwapInt64(&peak, p, current) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt64(&active, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
	metrics := limiter.GetMetrics()
	assert.Equal(t, int64(16), metrics.TotalAcquired)
	assert.Equal(t, int64(16), metrics.TotalReleased)
	assert.LessOrEqual(t, metrics.PeakConcurrent, int64(2))
}

func TestLimiterAcquireCancelled(t *testing.T) {
	limiter := NewLimiter(1)
	require.NoError(t, limiter.Acquire(context.Background()))
	defer limiter.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := limiter.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), limiter.CurrentActive())
}

func TestLimiterNonPositiveMax(t *testing.T) {
	limiter := NewLimiter(0)
	require.NoError(t, limiter.Acquire(context.Background()))
	limiter.Release()
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CASCADE_MAX_CONCURRENT", "")
	t.Setenv("CASCADE_CONCURRENCY_MULTIPLIER", "")
	t.Setenv("CASCADE_EXECUTION_MODE", "")
	t.Setenv("KUBERNETES_SERVICE_HOST", "")

	cfg := LoadConfig()
	assert.Equal(t, ModeParallel, cfg.Mode)
	assert.Greater(t, cfg.MaxConcurrent, 0)
}

func TestLoadConfigExplicitOverride(t *testing.T) {
	t.Setenv("CASCADE_MAX_CONCURRENT", "7")

	cfg := LoadConfig()
	assert.Equal(t, 7, cfg.MaxConcurrent)
	assert.Equal(t, ConfigSourceEnvVar, cfg.Source)
}

func TestLoadConfigSequentialMode(t *testing.T) {
	t.Setenv("CASCADE_EXECUTION_MODE", "sequential")

	cfg := LoadConfig()
	assert.Equal(t, ModeSequential, cfg.Mode)
}
