package redis

import (
	"context"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/korisu-sushi/sushi-bot/internal/repositories"
)

const defaultCounterTTL = 72 * time.Hour

// raiseScript sets KEYS[1] to ARGV[1] with a PX of ARGV[2] when the stored value is lower.
var raiseScript = goredis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local floor = tonumber(ARGV[1])
if current < floor then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	return floor
end
return current
`)

// CounterRepository issues sequence numbers with INCR. Daily counters expire after ttl.
type CounterRepository struct {
	client *goredis.Client
	keys   keyspace
	ttl    time.Duration
}

var _ repositories.OrderCounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs a Redis counter store.
func NewCounterRepository(client *goredis.Client, prefix string) *CounterRepository {
	return &CounterRepository{client: client, keys: keyspace(prefix), ttl: defaultCounterTTL}
}

func (r *CounterRepository) Next(ctx context.Context, counterID string) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError("counters.next", repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	key := r.keys.key("counter", id)

	var incr *goredis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return 0, wrapError("counters.next", err)
	}
	return incr.Val(), nil
}

func (r *CounterRepository) Raise(ctx context.Context, counterID string, floor int64) error {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewCounterError("counters.raise", repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if floor <= 0 {
		return nil
	}
	key := r.keys.key("counter", id)
	if err := raiseScript.Run(ctx, r.client, []string{key}, floor, r.ttl.Milliseconds()).Err(); err != nil {
		return wrapError("counters.raise", err)
	}
	return nil
}
