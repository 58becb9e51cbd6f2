package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect opens a redis client from a redis:// URL and verifies the link.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// LockoutStore keeps failed-login counters in redis with sliding expiry.
type LockoutStore struct {
	client *redis.Client
}

func NewLockoutStore(client *redis.Client) *LockoutStore {
	return &LockoutStore{client: client}
}

func lockoutKey(key string) string { return "auth:lockout:" + key }

func (s *LockoutStore) RegisterFailure(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := lockoutKey(key)
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("register login failure: %w", err)
	}
	return incr.Val(), nil
}

func (s *LockoutStore) Failures(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, lockoutKey(key)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("read login failures: %w", err)
	}
	return n, nil
}

func (s *LockoutStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, lockoutKey(key)).Err(); err != nil {
		return fmt.Errorf("clear login failures: %w", err)
	}
	return nil
}

// ThrottleStore counts verification resends per identity inside a fixed window.
type ThrottleStore struct {
	client *redis.Client
}

func NewThrottleStore(client *redis.Client) *ThrottleStore {
	return &ThrottleStore{client: client}
}

func (s *ThrottleStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	k := "auth:resend:" + key
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("count resend: %w", err)
	}
	return incr.Val() <= int64(limit), nil
}
