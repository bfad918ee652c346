package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/korisu-sushi/sushi-bot/internal/repositories"
)

// CounterRepository hands out sequence numbers from process memory. Values reset on restart.
type CounterRepository struct {
	mu       sync.Mutex
	counters map[string]int64
}

var _ repositories.OrderCounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs an empty in-memory counter store.
func NewCounterRepository() *CounterRepository {
	return &CounterRepository{counters: make(map[string]int64)}
}

func (r *CounterRepository) Next(ctx context.Context, counterID string) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError("counters.next", repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[id]++
	return r.counters[id], nil
}

func (r *CounterRepository) Raise(ctx context.Context, counterID string, floor int64) error {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewCounterError("counters.raise", repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counters[id] < floor {
		r.counters[id] = floor
	}
	return nil
}
