package storage

import (
	"github.com/ngoyal88/reqlog/pkg/cache"
	"github.com/ngoyal88/reqlog/pkg/config"
)

// FromConfig returns a Redis-backed KV when Redis is enabled, otherwise an
// in-memory one. The returned client is nil for the in-memory store.
func FromConfig(cfg *config.Config) (KV, *cache.Client, error) {
	if !cfg.Redis.Enabled {
		return NewMemoryKV(), nil, nil
	}
	rdb, err := cache.NewRedis(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}
	return NewRedisKV(rdb, cfg.Logging.Retention()), rdb, nil
}
