package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/commitstreak/streakd/internal/config"
	"github.com/commitstreak/streakd/internal/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// newRuntimeBackends picks the store backend from configuration. A Redis
// backend that cannot be reached at startup degrades to the in-memory store
// so the service still comes up.
func newRuntimeBackends(cfg *config.Config, logger *zap.Logger) (runtimeStore, func() error) {
	if cfg != nil && strings.EqualFold(strings.TrimSpace(cfg.Store.Backend), "redis") {
		redisStore, err := newRedisStoreFromConfig(cfg)
		if err != nil {
			logger.Warn("failed to initialize redis store; falling back to in-memory store", zap.Error(err))
		} else {
			return redisStore, redisStore.Close
		}
	}
	return store.NewMemoryStore(), nil
}

func newRedisStoreFromConfig(cfg *config.Config) (*store.RedisStore, error) {
	var redisClient redis.UniversalClient
	if strings.EqualFold(cfg.Store.RedisMode, "sentinel") {
		redisClient = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.Store.RedisMasterSet,
			SentinelAddrs: cfg.Store.RedisSentinelAddrs,
			Password:      cfg.Store.RedisPassword,
			DB:            cfg.Store.RedisDB,
		})
	} else {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return store.NewRedisStore(redisClient, store.RedisStoreConfig{
		Namespace: cfg.Store.Namespace,
	}), nil
}
