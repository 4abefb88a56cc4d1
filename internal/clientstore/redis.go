package clientstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend persists visitor jars in Redis, one key per cookie, using Redis expiry
// for the cookie TTL.
type RedisBackend struct {
	db            redis.UniversalClient
	prefix        string
	scanBatchSize int64
}

// NewRedisBackend wraps client. Keys are namespaced as "<prefix>:<visitor>:<cookie>".
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "splitpage"
	}
	return &RedisBackend{db: client, prefix: prefix, scanBatchSize: 100}
}

func (b *RedisBackend) key(visitor, name string) string {
	return b.prefix + ":" + visitor + ":" + name
}

// Load reads every live cookie of visitor into a fresh jar.
func (b *RedisBackend) Load(ctx context.Context, visitor string) (*MemoryJar, error) {
	jar := NewMemoryJar()
	keyPrefix := b.key(visitor, "")

	iter := b.db.Scan(ctx, 0, keyPrefix+"*", b.scanBatchSize).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := b.db.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read cookie %s: %w", key, err)
		}
		ttl, err := b.db.PTTL(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read cookie ttl %s: %w", key, err)
		}

		entry := Entry{Name: strings.TrimPrefix(key, keyPrefix), Value: val}
		if ttl > 0 {
			entry.Expires = time.Now().Add(ttl)
		}
		jar.Load(entry)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan cookies: %w", err)
	}
	return jar, nil
}

// Save writes the jar's changes back in a single pipeline.
func (b *RedisBackend) Save(ctx context.Context, visitor string, jar *MemoryJar) error {
	updated, deleted := jar.Changes()
	if len(updated) == 0 && len(deleted) == 0 {
		return nil
	}

	_, err := b.db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range updated {
			pipe.Set(ctx, b.key(visitor, e.Name), e.Value, time.Until(e.Expires))
		}
		for _, name := range deleted {
			pipe.Del(ctx, b.key(visitor, name))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save cookies: %w", err)
	}
	return nil
}

// Forget removes every cookie of visitor.
func (b *RedisBackend) Forget(ctx context.Context, visitor string) error {
	iter := b.db.Scan(ctx, 0, b.key(visitor, "")+"*", b.scanBatchSize).Iterator()
	for iter.Next(ctx) {
		if err := b.db.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete cookie: %w", err)
		}
	}
	return iter.Err()
}
