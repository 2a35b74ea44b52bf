package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shopsense/shopsense/pkg/config"
	"github.com/shopsense/shopsense/pkg/errors"
)

// NewRedisClient creates a Redis client from configuration and verifies the
// connection with a ping.
func NewRedisClient(cfg *config.RedisConfig) (*redis.Client, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("Redis configuration is required")
	}

	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NewCacheUnavailableError("failed to connect to Redis").WithCause(err)
	}

	return client, nil
}

// RedisTier implements SharedTier on Redis. Entries are stored as JSON under
// "<prefix>:entry:<key>"; tag and dependency indexes are Redis sets. Index
// members may outlive their entries; invalidation tolerates deleting keys
// that have already expired.
type RedisTier struct {
	client *redis.Client
	prefix string
}

// NewRedisTier creates a Redis-backed shared tier with the given key prefix.
func NewRedisTier(client *redis.Client, prefix string) *RedisTier {
	if prefix == "" {
		prefix = "shopsense"
	}
	return &RedisTier{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisTier) entryKey(key string) string {
	return fmt.Sprintf("%s:entry:%s", r.prefix, key)
}

func (r *RedisTier) tagKey(tag string) string {
	return fmt.Sprintf("%s:tag:%s", r.prefix, tag)
}

func (r *RedisTier) depKey(parent string) string {
	return fmt.Sprintf("%s:dep:%s", r.prefix, parent)
}

func (r *RedisTier) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := r.client.Get(ctx, r.entryKey(key)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, errors.NewCacheUnavailableError("shared tier get failed").WithCause(err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, errors.NewCacheUnavailableError("failed to decode shared tier entry").WithCause(err)
	}
	return &entry, nil
}

func (r *RedisTier) Set(ctx context.Context, entry *Entry, ttl time.Duration) error {
	stored := *entry
	stored.ExpiresAt = time.Now().Add(ttl)

	data, err := json.Marshal(&stored)
	if err != nil {
		return errors.NewInternalError("failed to encode shared tier entry").WithCause(err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.entryKey(entry.Key), data, ttl)
	for _, tag := range entry.Tags {
		pipe.SAdd(ctx, r.tagKey(tag), entry.Key)
		// Index keys persist a little past the longest entry TTL
		pipe.Expire(ctx, r.tagKey(tag), ttl+time.Minute)
	}
	for _, parent := range entry.DependsOn {
		pipe.SAdd(ctx, r.depKey(parent), entry.Key)
		pipe.Expire(ctx, r.depKey(parent), ttl+time.Minute)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.NewCacheUnavailableError("shared tier set failed").WithCause(err)
	}
	return nil
}

func (r *RedisTier) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	entryKeys := make([]string, len(keys))
	for i, key := range keys {
		entryKeys[i] = r.entryKey(key)
	}

	if err := r.client.Del(ctx, entryKeys...).Err(); err != nil {
		return errors.NewCacheUnavailableError("shared tier delete failed").WithCause(err)
	}
	return nil
}

func (r *RedisTier) KeysByTag(ctx context.Context, tag string) ([]string, error) {
	keys, err := r.client.SMembers(ctx, r.tagKey(tag)).Result()
	if err != nil {
		return nil, errors.NewCacheUnavailableError("shared tier tag lookup failed").WithCause(err)
	}
	return keys, nil
}

func (r *RedisTier) DependentsOf(ctx context.Context, parent string) ([]string, error) {
	keys, err := r.client.SMembers(ctx, r.depKey(parent)).Result()
	if err != nil {
		return nil, errors.NewCacheUnavailableError("shared tier dependency lookup failed").WithCause(err)
	}
	return keys, nil
}

func (r *RedisTier) Clear(ctx context.Context) error {
	var cursor uint64
	pattern := fmt.Sprintf("%s:*", r.prefix)

	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			return errors.NewCacheUnavailableError("shared tier clear failed").WithCause(err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return errors.NewCacheUnavailableError("shared tier clear failed").WithCause(err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Health checks the Redis connection
func (r *RedisTier) Health(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.NewCacheUnavailableError("Redis health check failed").WithCause(err)
	}
	return nil
}
