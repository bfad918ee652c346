package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/korisu-sushi/sushi-bot/internal/platform/config"
	"github.com/korisu-sushi/sushi-bot/internal/repositories"
)

const maxCASAttempts = 8

// NewClient builds a go-redis client from configuration.
func NewClient(cfg config.RedisConfig) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// keyspace namespaces every key under a configurable prefix.
type keyspace string

func (k keyspace) key(kind, id string) string {
	prefix := strings.TrimSpace(string(k))
	if prefix == "" {
		return kind + ":" + id
	}
	return prefix + ":" + kind + ":" + id
}

// loadJSON reads and decodes key. A missing key yields a not-found RepositoryError.
func loadJSON[T any](ctx context.Context, client goredis.Cmdable, op, key string) (T, error) {
	var out T
	data, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return out, repositories.NewNotFoundError(op, key)
	}
	if err != nil {
		return out, wrapError(op, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, codecError{fmt.Errorf("%s: decode %s: %w", op, key, err)}
	}
	return out, nil
}

// mutateJSON runs an optimistic WATCH/MULTI/EXEC loop on key. fresh seeds the value when the key
// is absent. fn may run several times when another writer touches the key concurrently.
func mutateJSON[T any](ctx context.Context, client *goredis.Client, op, key string, ttl time.Duration, fresh func() T, fn func(*T) error) (T, error) {
	var result T
	txf := func(tx *goredis.Tx) error {
		value := fresh()
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, goredis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(data, &value); err != nil {
				return codecError{fmt.Errorf("%s: decode %s: %w", op, key, err)}
			}
		}

		if err := fn(&value); err != nil {
			return mutationError{err}
		}
		payload, err := json.Marshal(value)
		if err != nil {
			return codecError{fmt.Errorf("%s: encode %s: %w", op, key, err)}
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		if err == nil {
			result = value
		}
		return err
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		err := client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		var mutErr mutationError
		if errors.As(err, &mutErr) {
			return result, mutErr.err
		}
		return result, wrapError(op, err)
	}
	return result, repositories.NewConflictError(op, fmt.Errorf("%s changed concurrently %d times", key, maxCASAttempts))
}

// mutationError marks errors returned by the caller's mutation so they are passed through untouched.
type mutationError struct{ err error }

func (e mutationError) Error() string { return e.err.Error() }
func (e mutationError) Unwrap() error { return e.err }

// codecError marks payloads that could not be (de)serialised; retrying will not help.
type codecError struct{ err error }

func (e codecError) Error() string { return e.err.Error() }
func (e codecError) Unwrap() error { return e.err }

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return err
	}
	var codecErr codecError
	if errors.As(err, &codecErr) {
		return err
	}
	return repositories.NewUnavailableError(op, err)
}
