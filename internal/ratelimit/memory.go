package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/sonarbridge/sonarbridge/internal/domain"
)

// Memory is an in-process fixed-window limiter. Each client's window is
// anchored at its first request in the window. Buckets carry their own
// lock so clients never contend with each other; the map lock only guards
// membership.
type Memory struct {
	limit  int
	window time.Duration

	mu      sync.RWMutex
	buckets map[string]*bucket
}

type bucket struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// NewMemory creates a memory limiter admitting limit requests per window.
func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*bucket),
	}
}

// Admit checks and consumes quota for clientKey. The re-check and the
// increment happen under the bucket lock, so a rejected request never
// consumes quota.
func (m *Memory) Admit(_ context.Context, clientKey string, now time.Time) domain.Decision {
	b := m.bucket(clientKey, now)

	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.windowStart) >= m.window {
		b.windowStart = now
		b.count = 0
	}

	if b.count >= m.limit {
		return domain.Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: b.windowStart.Add(m.window).Sub(now),
		}
	}

	b.count++
	return domain.Decision{
		Allowed:   true,
		Remaining: m.limit - b.count,
	}
}

func (m *Memory) bucket(clientKey string, now time.Time) *bucket {
	m.mu.RLock()
	b, ok := m.buckets[clientKey]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.buckets[clientKey]; ok {
		return b
	}

	b = &bucket{windowStart: now}
	m.buckets[clientKey] = b
	return b
}
