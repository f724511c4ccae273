package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"forms-api/pkg/logging"

	"github.com/redis/go-redis/v9"
)

// pendingMarker is stored while the first request is still in flight
const pendingMarker = "pending"

// ErrIdempotencyInFlight is returned when the same key is still being processed
var ErrIdempotencyInFlight = errors.New("request with this idempotency key is in progress")

// IdempotencyStore remembers which submission an idempotency key produced
type IdempotencyStore interface {
	// Claim reserves key. It returns the stored submission id when the key
	// was already completed, or ErrIdempotencyInFlight while it is pending.
	Claim(ctx context.Context, scope, key string) (existingID string, err error)
	Complete(ctx context.Context, scope, key, submissionID string) error
	Release(ctx context.Context, scope, key string) error
}

// RedisIdempotency implements IdempotencyStore with SETNX and a TTL
type RedisIdempotency struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIdempotency creates a Redis-backed idempotency store
func NewRedisIdempotency(client *redis.Client, ttl time.Duration) *RedisIdempotency {
	return &RedisIdempotency{client: client, ttl: ttl}
}

// redisKey hashes the client-provided key so its length is bounded
func (r *RedisIdempotency) redisKey(scope, key string) string {
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("idem:%s:%s", scope, hex.EncodeToString(sum[:]))
}

// Claim implements IdempotencyStore
func (r *RedisIdempotency) Claim(ctx context.Context, scope, key string) (string, error) {
	k := r.redisKey(scope, key)

	ok, err := r.client.SetNX(ctx, k, pendingMarker, r.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	if ok {
		return "", nil
	}

	existing, err := r.client.Get(ctx, k).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Expired between SETNX and GET; treat as a fresh request
			return "", nil
		}
		return "", fmt.Errorf("failed to read idempotency key: %w", err)
	}
	if existing == pendingMarker {
		return "", ErrIdempotencyInFlight
	}
	logging.Infof("Idempotent replay - scope: %s, submission_id: %s", scope, existing)
	return existing, nil
}

// Complete implements IdempotencyStore
func (r *RedisIdempotency) Complete(ctx context.Context, scope, key, submissionID string) error {
	return r.client.Set(ctx, r.redisKey(scope, key), submissionID, r.ttl).Err()
}

// Release implements IdempotencyStore
func (r *RedisIdempotency) Release(ctx context.Context, scope, key string) error {
	return r.client.Del(ctx, r.redisKey(scope, key)).Err()
}
