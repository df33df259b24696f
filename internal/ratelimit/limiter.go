// Package ratelimit provides per-client request admission. Two backends
// implement the same fixed-window discipline: an in-process map for
// single-replica deployments and Redis for shared quotas across replicas.
package ratelimit

import (
	"context"
	"time"

	"github.com/sonarbridge/sonarbridge/internal/domain"
)

// Noop is the limiter used when rate limiting is disabled: it always
// admits and performs no bookkeeping.
type Noop struct{}

// NewNoop creates a disabled limiter.
func NewNoop() *Noop {
	return &Noop{}
}

// Admit always allows.
func (n *Noop) Admit(_ context.Context, _ string, _ time.Time) domain.Decision {
	return domain.Decision{Allowed: true}
}
