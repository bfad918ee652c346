package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/korisu-sushi/sushi-bot/internal/platform/firestore"
	"github.com/korisu-sushi/sushi-bot/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository increments counter documents inside Firestore transactions.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[counterDocument]
	now      func() time.Time
}

var _ repositories.OrderCounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewCollection[counterDocument](provider, countersCollection),
		now:      time.Now,
	}, nil
}

// Next atomically increments counters/<counterID> and returns the new value. A missing document starts at 1.
func (r *CounterRepository) Next(ctx context.Context, counterID string) (int64, error) {
	const op = "counters.next"
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(op, repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}

	ref, err := r.counters.Doc(ctx, id)
	if err != nil {
		return 0, err
	}

	var next int64
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := r.now().UTC()
		snapshot, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.NotFound:
			next = 1
			return tx.Create(ref, counterDocument{CurrentValue: next, UpdatedAt: now})
		case codes.OK:
		default:
			return err
		}

		var doc counterDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return repositories.NewCounterError(op, repositories.CounterErrorCorrupt, fmt.Sprintf("decode counter %s", id), err)
		}
		next = doc.CurrentValue + 1
		return tx.Update(ref, []firestore.Update{
			{Path: "currentValue", Value: firestore.Increment(1)},
			{Path: "updatedAt", Value: now},
		})
	}, pfirestore.WithTxTimeout(5*time.Second))
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			return 0, counterErr
		}
		return 0, pfirestore.WrapError(op, err)
	}
	return next, nil
}

// Raise lifts counters/<counterID> to floor inside a transaction when it is lower.
func (r *CounterRepository) Raise(ctx context.Context, counterID string, floor int64) error {
	const op = "counters.raise"
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewCounterError(op, repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if floor <= 0 {
		return nil
	}

	ref, err := r.counters.Doc(ctx, id)
	if err != nil {
		return err
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := r.now().UTC()
		snapshot, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.NotFound:
			return tx.Create(ref, counterDocument{CurrentValue: floor, UpdatedAt: now})
		case codes.OK:
		default:
			return err
		}

		var doc counterDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return repositories.NewCounterError(op, repositories.CounterErrorCorrupt, fmt.Sprintf("decode counter %s", id), err)
		}
		if doc.CurrentValue >= floor {
			return nil
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "currentValue", Value: floor},
			{Path: "updatedAt", Value: now},
		})
	}, pfirestore.WithTxTimeout(5*time.Second))
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			return counterErr
		}
		return pfirestore.WrapError(op, err)
	}
	return nil
}
