// Package conversation owns session state: the mapping from conversation
// identifiers to upstream thread handles, with idle expiry.
package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sonarbridge/sonarbridge/internal/domain"
	"github.com/sonarbridge/sonarbridge/internal/observability"
)

// Store implements domain.ConversationStore. The map mutex only guards
// map membership; per-session state carries its own lock, so requests on
// unrelated conversations never serialize against each other.
type Store struct {
	timeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewStore creates a conversation store with the given idle timeout.
func NewStore(timeout time.Duration) *Store {
	return &Store{
		timeout:  timeout,
		sessions: make(map[string]*domain.Session),
	}
}

// Resolve returns the live session for conversationID, creating one if it
// is absent or expired. An empty conversationID mints a fresh identifier.
// Create-or-get is atomic: concurrent resolves of the same new identifier
// observe the same session.
func (s *Store) Resolve(ctx context.Context, conversationID string) (*domain.Session, error) {
	now := time.Now()

	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	s.mu.Lock()
	session, ok := s.sessions[conversationID]
	if ok && !s.expired(session, now) {
		s.mu.Unlock()
		session.Touch(now)
		return session, nil
	}

	replaced := ok
	session = domain.NewSession(conversationID, now)
	s.sessions[conversationID] = session
	s.mu.Unlock()

	logger := observability.FromContext(ctx)
	if replaced {
		logger.Info("conversation expired, starting fresh session",
			observability.String("conversation_id", conversationID))
	} else {
		logger.Info("conversation session created",
			observability.String("conversation_id", conversationID))
	}

	return session, nil
}

// List returns an introspection snapshot of all live sessions, oldest
// first. Message content is never stored, so none is returned.
func (s *Store) List(_ context.Context) []domain.SessionInfo {
	s.mu.RLock()
	infos := make([]domain.SessionInfo, 0, len(s.sessions))
	for _, session := range s.sessions {
		infos = append(infos, domain.SessionInfo{
			ID:           session.ID,
			CreatedAt:    session.CreatedAt,
			LastActiveAt: session.LastActiveAt(),
		})
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Sweep removes sessions idle longer than the timeout and returns how
// many were removed. Safe to call concurrently with Resolve.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, session := range s.sessions {
		if s.expired(session, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) expired(session *domain.Session, now time.Time) bool {
	return now.Sub(session.LastActiveAt()) > s.timeout
}
