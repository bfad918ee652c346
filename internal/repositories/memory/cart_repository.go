package memory

import (
	"context"
	"sync"

	"github.com/korisu-sushi/sushi-bot/internal/domain"
	"github.com/korisu-sushi/sushi-bot/internal/repositories"
)

// CartRepository keeps carts in process memory.
type CartRepository struct {
	locks ownerLocks

	mu    sync.RWMutex
	carts map[string]domain.Cart
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs an empty in-memory cart store.
func NewCartRepository() *CartRepository {
	return &CartRepository{carts: make(map[string]domain.Cart)}
}

func (r *CartRepository) Load(_ context.Context, ownerID string) (domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cart, ok := r.carts[ownerID]
	if !ok {
		return domain.Cart{}, repositories.NewNotFoundError("carts.load", ownerID)
	}
	return cart.Clone(), nil
}

func (r *CartRepository) Mutate(ctx context.Context, ownerID string, fn repositories.CartMutation) (domain.Cart, error) {
	unlock := r.locks.lock(ownerID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return domain.Cart{}, err
	}

	r.mu.RLock()
	cart, ok := r.carts[ownerID]
	r.mu.RUnlock()
	if ok {
		cart = cart.Clone()
	} else {
		cart = domain.Cart{OwnerID: ownerID, Lines: []domain.CartLine{}}
	}

	if err := fn(&cart); err != nil {
		return domain.Cart{}, err
	}

	r.mu.Lock()
	r.carts[ownerID] = cart.Clone()
	r.mu.Unlock()
	return cart, nil
}
