package ratelimit_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sonarbridge/sonarbridge/internal/ratelimit"
)

func TestMemory_Admit(t *testing.T) {
	t.Run("should admit up to limit within window", func(t *testing.T) {
		limiter := ratelimit.NewMemory(3, time.Minute)
		now := time.Now()

		for i := 0; i < 3; i++ {
			decision := limiter.Admit(context.Background(), "client-1", now)
			require.True(t, decision.Allowed)
			require.Equal(t, 2-i, decision.Remaining)
		}
	})

	t.Run("should reject request beyond limit without consuming quota", func(t *testing.T) {
		limiter := ratelimit.NewMemory(2, time.Minute)
		now := time.Now()

		require.True(t, limiter.Admit(context.Background(), "client-1", now).Allowed)
		require.True(t, limiter.Admit(context.Background(), "client-1", now).Allowed)

		for i := 0; i < 3; i++ {
			decision := limiter.Admit(context.Background(), "client-1", now.Add(time.Second))
			require.False(t, decision.Allowed)
			require.Positive(t, decision.RetryAfter)
			require.LessOrEqual(t, decision.RetryAfter, time.Minute)
		}
	})

	t.Run("should admit again in the next window", func(t *testing.T) {
		limiter := ratelimit.NewMemory(1, time.Minute)
		now := time.Now()

		require.True(t, limiter.Admit(context.Background(), "client-1", now).Allowed)
		require.False(t, limiter.Admit(context.Background(), "client-1", now.Add(30*time.Second)).Allowed)
		require.True(t, limiter.Admit(context.Background(), "client-1", now.Add(61*time.Second)).Allowed)
	})

	t.Run("should track clients independently", func(t *testing.T) {
		limiter := ratelimit.NewMemory(1, time.Minute)
		now := time.Now()

		require.True(t, limiter.Admit(context.Background(), "client-1", now).Allowed)
		require.False(t, limiter.Admit(context.Background(), "client-1", now).Allowed)
		require.True(t, limiter.Admit(context.Background(), "client-2", now).Allowed)
	})

	t.Run("should never admit more than limit under concurrency", func(t *testing.T) {
		limiter := ratelimit.NewMemory(10, time.Minute)
		now := time.Now()

		var admitted int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if limiter.Admit(context.Background(), "client-1", now).Allowed {
					atomic.AddInt32(&admitted, 1)
				}
			}()
		}
		wg.Wait()

		require.Equal(t, int32(10), atomic.LoadInt32(&admitted))
	})
}

func TestNoop_Admit(t *testing.T) {
	t.Run("should always admit", func(t *testing.T) {
		limiter := ratelimit.NewNoop()

		for i := 0; i < 100; i++ {
			require.True(t, limiter.Admit(context.Background(), "client-1", time.Now()).Allowed)
		}
	})
}
