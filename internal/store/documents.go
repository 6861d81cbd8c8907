package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Document namespaces. Every key in the document store is namespaced so the
// same backing instance can hold aggregates, profiles, shared snapshots and
// local-only checkpoints side by side.
const (
	NSAggregate  = "aggregate:"
	NSProfile    = "profile:"
	NSShare      = "share:"
	NSCheckpoint = "checkpoint:"
	NSFlag       = "flag:"
)

var (
	ErrDocNotFound      = errors.New("document not found")
	ErrStoreUnavailable = errors.New("document store not available")
)

// DocumentStore is the key/value adapter over the remote document database.
// Values are opaque serialized strings; interpretation belongs to callers.
type DocumentStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RedisDocumentStore implements DocumentStore on Redis. A nil client
// degrades gracefully: reads miss, writes are dropped, mirroring how the
// service behaves when the remote store is unreachable at startup.
type RedisDocumentStore struct {
	client *redis.Client
}

func NewRedisDocumentStore(client *redis.Client) *RedisDocumentStore {
	return &RedisDocumentStore{client: client}
}

func (s *RedisDocumentStore) Get(ctx context.Context, key string) (string, error) {
	if s.client == nil {
		return "", ErrStoreUnavailable
	}
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrDocNotFound
		}
		return "", fmt.Errorf("document get: %w", err)
	}
	return value, nil
}

func (s *RedisDocumentStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if s.client == nil {
		return ErrStoreUnavailable
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("document set: %w", err)
	}
	return nil
}

func (s *RedisDocumentStore) Delete(ctx context.Context, key string) error {
	if s.client == nil {
		return ErrStoreUnavailable
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("document delete: %w", err)
	}
	return nil
}

// Ping verifies connectivity for startup health checks.
func (s *RedisDocumentStore) Ping(ctx context.Context) error {
	if s.client == nil {
		return ErrStoreUnavailable
	}
	return s.client.Ping(ctx).Err()
}

// AggregateKey builds the per-user aggregate blob key.
func AggregateKey(userID string) string { return NSAggregate + userID }

// ProfileKey builds the account profile key.
func ProfileKey(userID string) string { return NSProfile + userID }

// ShareKey builds the shared snapshot key.
func ShareKey(shareID string) string { return NSShare + shareID }

// CheckpointKey builds the quiz-in-progress resume key.
func CheckpointKey(userID string) string { return NSCheckpoint + userID }

// FlagKey builds a one-time flag key (onboarding, warnings, dark mode).
func FlagKey(userID, name string) string {
	return fmt.Sprintf("%s%s:%s", NSFlag, userID, name)
}
