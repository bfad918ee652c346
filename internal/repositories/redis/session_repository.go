package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/korisu-sushi/sushi-bot/internal/domain"
	"github.com/korisu-sushi/sushi-bot/internal/repositories"
)

// SessionRepository stores sessions as JSON; checkout states round-trip through domain.CheckoutSnapshot.
type SessionRepository struct {
	client *goredis.Client
	keys   keyspace
	ttl    time.Duration
}

var _ repositories.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository constructs a Redis session store. Idle sessions expire after ttl.
func NewSessionRepository(client *goredis.Client, prefix string, ttl time.Duration) *SessionRepository {
	return &SessionRepository{client: client, keys: keyspace(prefix), ttl: ttl}
}

func (r *SessionRepository) Load(ctx context.Context, ownerID string) (domain.Session, error) {
	return loadJSON[domain.Session](ctx, r.client, "sessions.load", r.keys.key("session", ownerID))
}

func (r *SessionRepository) Mutate(ctx context.Context, ownerID string, fn repositories.SessionMutation) (domain.Session, error) {
	fresh := func() domain.Session { return domain.Session{OwnerID: ownerID} }
	return mutateJSON(ctx, r.client, "sessions.mutate", r.keys.key("session", ownerID), r.ttl, fresh, func(s *domain.Session) error {
		return fn(s)
	})
}
