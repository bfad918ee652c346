package memory

import (
	"context"
	"sync"

	"github.com/korisu-sushi/sushi-bot/internal/domain"
	"github.com/korisu-sushi/sushi-bot/internal/repositories"
)

// SessionRepository keeps conversational sessions in process memory.
type SessionRepository struct {
	locks ownerLocks

	mu       sync.RWMutex
	sessions map[string]domain.Session
}

var _ repositories.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository constructs an empty in-memory session store.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]domain.Session)}
}

func (r *SessionRepository) Load(_ context.Context, ownerID string) (domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[ownerID]
	if !ok {
		return domain.Session{}, repositories.NewNotFoundError("sessions.load", ownerID)
	}
	return session, nil
}

// Mutate runs fn under the owner's lock. Checkout states are values, so the stored copy is never aliased.
func (r *SessionRepository) Mutate(ctx context.Context, ownerID string, fn repositories.SessionMutation) (domain.Session, error) {
	unlock := r.locks.lock(ownerID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}

	r.mu.RLock()
	session, ok := r.sessions[ownerID]
	r.mu.RUnlock()
	if !ok {
		session = domain.Session{OwnerID: ownerID}
	}

	if err := fn(&session); err != nil {
		return domain.Session{}, err
	}

	r.mu.Lock()
	r.sessions[ownerID] = session
	r.mu.Unlock()
	return session, nil
}
