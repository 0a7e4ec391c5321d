package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type redisTokenStoreConfig struct {
	Addr      string
	Username  string
	Password  string
	Timeout   time.Duration
	KeyPrefix string
}

// redisTokenStore implements tokenStore with a fixed-window counter shared
// across instances: INCR the window key, set its expiry on first increment,
// and consult TTL for the retry hint once over the limit.
type redisTokenStore struct {
	client *redis.Client
	prefix string
}

func newRedisTokenStore(cfg redisTokenStoreConfig) (*redisTokenStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "fanstream:ratelimit"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		MaxRetries:   2,
	})
	return &redisTokenStore{client: client, prefix: prefix}, nil
}

func (s *redisTokenStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	fullKey := s.prefix + ":" + key
	count, err := s.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return false, 0, fmt.Errorf("increment rate limit counter: %w", err)
	}
	if count == 1 {
		if window < time.Second {
			window = time.Second
		}
		if err := s.client.Expire(ctx, fullKey, window).Err(); err != nil {
			return false, 0, fmt.Errorf("set rate limit expiry: %w", err)
		}
	}
	if count <= int64(limit) {
		return true, 0, nil
	}
	ttl, err := s.client.TTL(ctx, fullKey).Result()
	if err != nil {
		return false, 0, fmt.Errorf("read rate limit ttl: %w", err)
	}
	if ttl < 0 {
		return false, window, nil
	}
	return false, ttl, nil
}
