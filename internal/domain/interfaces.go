package domain

import (
	"context"
	"time"
)

// TurnRequest describes one upstream conversational turn.
type TurnRequest struct {
	// ThreadRef is the opaque upstream thread handle, "" for a fresh thread.
	ThreadRef string

	// ModelID is the resolved upstream model identifier.
	ModelID string

	// Query is the prompt text for this turn.
	Query string
}

// UpstreamClient is the network boundary to the upstream service.
type UpstreamClient interface {
	// OpenTurn issues one conversational turn and returns its raw event
	// sequence. The channel is closed by the producer once the sequence
	// ends; cancelling ctx releases the underlying connection. Mutates no
	// shared state.
	OpenTurn(ctx context.Context, turn TurnRequest) (<-chan RawEvent, error)
}

// CatalogFetcher discovers the upstream model catalog.
type CatalogFetcher interface {
	// FetchModels fetches the catalog of available models from upstream.
	FetchModels(ctx context.Context) ([]ModelDescriptor, error)
}

// ModelRegistry caches and serves the upstream model catalog.
type ModelRegistry interface {
	// List returns the cached catalog, fetching it first if the cache is
	// empty.
	List(ctx context.Context) ([]ModelDescriptor, error)

	// Refresh fetches the catalog and replaces the cache atomically,
	// returning the new count. On failure the previous cache is retained.
	Refresh(ctx context.Context) (int, error)

	// Resolve returns the descriptor for modelID, falling back to the
	// configured default model. Fails with ErrUnknownModel if neither
	// resolves.
	Resolve(ctx context.Context, modelID string) (ModelDescriptor, error)
}

// ConversationStore maps conversation identifiers to session state.
type ConversationStore interface {
	// Resolve returns the live session for conversationID, creating one
	// atomically if it is absent or expired. An empty conversationID mints
	// a fresh identifier.
	Resolve(ctx context.Context, conversationID string) (*Session, error)

	// List returns an introspection snapshot of all live sessions.
	List(ctx context.Context) []SessionInfo

	// Sweep removes sessions idle longer than the configured timeout and
	// returns how many were removed. Safe to call concurrently with Resolve.
	Sweep(now time.Time) int

	// Len returns the number of live sessions.
	Len() int
}

// Decision is the outcome of a rate-limit admission check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter admits or rejects requests per client identity.
type RateLimiter interface {
	// Admit checks and consumes quota for clientKey at time now. The
	// check and the increment are atomic: a rejected request never
	// consumes quota.
	Admit(ctx context.Context, clientKey string, now time.Time) Decision
}
