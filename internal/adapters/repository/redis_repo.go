// Package repository implements cache-backed adapters
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"connect-chat/internal/core/ports"
)

var (
	_ ports.DedupRepository = (*RedisRepository)(nil)
	_ ports.FetchLock       = (*RedisFetchLock)(nil)
)

// RedisRepository remembers applied notifications in Redis with a TTL
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository creates a new Redis repository instance
func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{
		client: client,
	}
}

// IsDuplicate checks whether the notification key exists
func (r *RedisRepository) IsDuplicate(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		slog.Error("Failed to check deduplication",
			"error", err,
			"key", key,
		)
		return false, fmt.Errorf("check duplicate: %w", err)
	}

	if n > 0 {
		slog.Debug("Duplicate notification detected", "key", key)
		return true, nil
	}
	return false, nil
}

// MarkProcessed stores the key with TTL; the value is the unix time for debugging
func (r *RedisRepository) MarkProcessed(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, time.Now().Unix(), ttl).Err(); err != nil {
		slog.Error("Failed to mark notification as processed",
			"error", err,
			"key", key,
			"ttl", ttl,
		)
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// RedisFetchLock is a SETNX lock that keeps one transcript fetch per session
// in flight across every backend instance
type RedisFetchLock struct {
	client *redis.Client
	owner  string
}

// NewRedisFetchLock creates a lock whose holder is identified by owner
func NewRedisFetchLock(client *redis.Client, owner string) *RedisFetchLock {
	return &RedisFetchLock{client: client, owner: owner}
}

// Acquire sets the key only if absent; the TTL bounds a crashed holder
func (l *RedisFetchLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// releaseScript deletes the key only while we still own it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release drops the lock if this owner still holds it
func (l *RedisFetchLock) Release(ctx context.Context, key string) error {
	err := releaseScript.Run(ctx, l.client, []string{key}, l.owner).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
