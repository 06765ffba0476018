package cache

import (
	"fmt"

	"github.com/darkden-lab/taskflow/internal/config"
)

// NewStore builds the Store selected by CACHE_DRIVER.
func NewStore(cfg *config.Config) (Store, error) {
	switch cfg.CacheDriver {
	case "redis":
		return NewRedisStore(RedisOptions{
			Addr:     cfg.RedisAddr(),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", cfg.CacheDriver)
	}
}
