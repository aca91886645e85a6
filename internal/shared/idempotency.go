package shared

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

// ErrIdempotencyConflict indicates the key is still being processed by another request.
var ErrIdempotencyConflict = errors.New("idempotent request already in progress")

// IdempotencyStore remembers processed request keys per module.
type IdempotencyStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(client *redis.Client, retention time.Duration) *IdempotencyStore {
	return &IdempotencyStore{client: client, retention: retention}
}

func idempotencyKey(module, key string) string {
	return "idem:" + module + ":" + key
}

// Reserve claims key for module. When the key was already completed the stored
// result is returned with done=true.
func (s *IdempotencyStore) Reserve(ctx context.Context, module, key string) (result string, done bool, err error) {
	if s == nil || s.client == nil {
		return "", false, nil
	}
	if key == "" {
		return "", false, errors.New("idempotency key required")
	}
	if module == "" {
		return "", false, errors.New("idempotency module required")
	}
	rk := idempotencyKey(module, key)
	ok, err := s.client.SetNX(ctx, rk, pendingMarker, s.retention).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", false, nil
	}
	stored, err := s.client.Get(ctx, rk).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, ErrIdempotencyConflict
		}
		return "", false, err
	}
	if stored == pendingMarker {
		return "", false, ErrIdempotencyConflict
	}
	return stored, true, nil
}

// Complete records the result of a reserved key.
func (s *IdempotencyStore) Complete(ctx context.Context, module, key, result string) error {
	if s == nil || s.client == nil || key == "" {
		return nil
	}
	return s.client.Set(ctx, idempotencyKey(module, key), result, s.retention).Err()
}

// Delete removes a key, typically used to roll back failed processing.
func (s *IdempotencyStore) Delete(ctx context.Context, module, key string) error {
	if s == nil || s.client == nil || key == "" {
		return nil
	}
	return s.client.Del(ctx, idempotencyKey(module, key)).Err()
}
