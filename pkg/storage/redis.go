package storage

import (
	"context"
	"time"

	"github.com/ngoyal88/reqlog/pkg/cache"
)

// KeyPrefix namespaces batch keys inside Redis.
const KeyPrefix = "logs:"

// RedisKV implements KV on top of Redis.
type RedisKV struct {
	rdb *cache.Client
	ttl time.Duration // 0 keeps batches until flushed
}

// NewRedisKV creates a Redis-backed batch store.
func NewRedisKV(rdb *cache.Client, retention time.Duration) *RedisKV {
	return &RedisKV{
		rdb: rdb,
		ttl: retention,
	}
}

func (s *RedisKV) key(name string) string {
	return KeyPrefix + name
}

func (s *RedisKV) HasItem(ctx context.Context, key string) (bool, error) {
	return s.rdb.Exists(ctx, s.key(key))
}

func (s *RedisKV) GetItem(ctx context.Context, key string) ([]byte, error) {
	return s.rdb.Get(ctx, s.key(key))
}

func (s *RedisKV) SetItem(ctx context.Context, key string, value []byte) error {
	return s.rdb.Set(ctx, s.key(key), value, s.ttl)
}

func (s *RedisKV) RemoveItem(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.key(key))
}

// Ping checks Redis connection
func (s *RedisKV) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx)
}
