package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "sushibot:events"

// RedisStore keeps records as JSON values with a TTL, so expiry needs no sweeper.
type RedisStore struct {
	client goredis.Cmdable
	prefix string
}

// NewRedisStore wraps client. An empty prefix uses the default namespace.
func NewRedisStore(client goredis.Cmdable, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	} else {
		prefix += ":events"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// Reserve claims the key with SET NX. A lost race reads the winner's record instead.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	record := newPendingRecord(key, fingerprint, now, ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: encode record: %w", err)
	}

	redisKey := s.key(key)
	stored, err := s.client.SetNX(ctx, redisKey, payload, ttl).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
	}
	if stored {
		return Reservation{State: ReservationStateNew, Record: record}, nil
	}

	existing, err := s.load(ctx, redisKey)
	if errors.Is(err, goredis.Nil) {
		// Expired between SETNX and GET.
		return s.Reserve(ctx, key, fingerprint, now, ttl)
	}
	if err != nil {
		return Reservation{}, err
	}
	return reservationFor(existing, fingerprint)
}

// SaveResponse overwrites the pending record with the completed response.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	redisKey := s.key(key)
	record, err := s.load(ctx, redisKey)
	switch {
	case errors.Is(err, goredis.Nil):
		record = Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	case err != nil:
		return err
	case record.Fingerprint != fingerprint:
		return ErrFingerprintMismatch
	}

	payload, err := json.Marshal(completeRecord(record, resp, now, ttl))
	if err != nil {
		return fmt.Errorf("idempotency: encode record: %w", err)
	}
	if err := s.client.Set(ctx, redisKey, payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	return nil
}

// Release deletes a reservation owned by fingerprint.
func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	redisKey := s.key(key)
	record, err := s.load(ctx, redisKey)
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	if record.Fingerprint != fingerprint {
		return nil
	}
	if err := s.client.Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + compositeKey(key)
}

func (s *RedisStore) load(ctx context.Context, redisKey string) (Record, error) {
	data, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("idempotency: load: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, nil
}
