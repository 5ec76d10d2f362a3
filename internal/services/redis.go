package services

import (
	"context"
	"time"

	"github.com/mpetrov/chatgate/backend/internal/config"
	"github.com/mpetrov/chatgate/backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// InitRedis connects to Redis for the blacklist fast path. Redis being down
// is not fatal: the database stays the source of truth and callers receive
// nil to signal DB-only operation.
func InitRedis(cfg *config.RedisConfig) *redis.Client {
	if !cfg.Enabled {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warnf("[Redis] unavailable at %s, blacklist falls back to database only: %v", cfg.Addr, err)
		client.Close()
		return nil
	}

	logger.Infof("[Redis] connected at %s", cfg.Addr)
	return client
}
