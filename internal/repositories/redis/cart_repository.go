package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/korisu-sushi/sushi-bot/internal/domain"
	"github.com/korisu-sushi/sushi-bot/internal/repositories"
)

// CartRepository stores one JSON cart per owner.
type CartRepository struct {
	client *goredis.Client
	keys   keyspace
	ttl    time.Duration
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Redis cart store. A zero ttl keeps carts forever.
func NewCartRepository(client *goredis.Client, prefix string, ttl time.Duration) *CartRepository {
	return &CartRepository{client: client, keys: keyspace(prefix), ttl: ttl}
}

func (r *CartRepository) Load(ctx context.Context, ownerID string) (domain.Cart, error) {
	return loadJSON[domain.Cart](ctx, r.client, "carts.load", r.keys.key("cart", ownerID))
}

func (r *CartRepository) Mutate(ctx context.Context, ownerID string, fn repositories.CartMutation) (domain.Cart, error) {
	fresh := func() domain.Cart {
		return domain.Cart{OwnerID: ownerID, Lines: []domain.CartLine{}}
	}
	return mutateJSON(ctx, r.client, "carts.mutate", r.keys.key("cart", ownerID), r.ttl, fresh, func(cart *domain.Cart) error {
		return fn(cart)
	})
}
