package repositories

import (
	"context"

	domain "github.com/korisu-sushi/sushi-bot/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartMutation edits the cart in place. Returning an error aborts the write.
type CartMutation func(cart *domain.Cart) error

// CartRepository persists one cart per owner.
type CartRepository interface {
	// Load returns a RepositoryError with IsNotFound when the owner has no cart yet.
	Load(ctx context.Context, ownerID string) (domain.Cart, error)
	// Mutate is an atomic read-modify-write for ownerID. A missing cart is passed to fn
	// as an empty cart with a zero CreatedAt.
	Mutate(ctx context.Context, ownerID string, fn CartMutation) (domain.Cart, error)
}

// SessionMutation edits the conversational session in place.
type SessionMutation func(session *domain.Session) error

// SessionRepository persists language and the in-progress checkout per owner.
type SessionRepository interface {
	// Load returns a RepositoryError with IsNotFound when the owner has never talked to the bot.
	Load(ctx context.Context, ownerID string) (domain.Session, error)
	Mutate(ctx context.Context, ownerID string, fn SessionMutation) (domain.Session, error)
}

// OrderLedger durably records placed orders.
type OrderLedger interface {
	// Append writes record once. Re-appending the same order id returns a conflict RepositoryError.
	Append(ctx context.Context, record domain.LedgerRecord) error
	// MaxSequence returns the highest order sequence recorded for day (YYYYMMDD), or 0.
	MaxSequence(ctx context.Context, day string) (int64, error)
}

// OrderCounterRepository provides per-counter sequence numbers starting at 1.
type OrderCounterRepository interface {
	Next(ctx context.Context, counterID string) (int64, error)
	// Raise lifts the counter to at least floor. It never lowers it.
	Raise(ctx context.Context, counterID string, floor int64) error
}

// HealthRepository exposes status of downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
