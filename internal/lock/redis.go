// Package lock serializes folder creation across processes with redis locks.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL = 30 * time.Second
	retryEvery = 100 * time.Millisecond
	maxRetries = 50
	keyPrefix  = "dealsync:lock:"
)

// RedisLocker obtains short-lived redis locks, waiting for a held lock to be released.
type RedisLocker struct {
	rdb    *redis.Client
	locker *redislock.Client
	ttl    time.Duration
}

// Connect dials redis at addr and checks it answers.
func Connect(ctx context.Context, addr string) (*RedisLocker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "",
		DB:       0,
		PoolSize: 10,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect redis (addr=%s): %w", addr, err)
	}
	return New(rdb, DefaultTTL), nil
}

func New(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{
		rdb:    rdb,
		locker: redislock.New(rdb),
		ttl:    ttl,
	}
}

// Lock blocks until key is obtained or the retries run out. The returned func releases it.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := l.locker.Obtain(ctx, keyPrefix+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(retryEvery), maxRetries),
	})
	if err == redislock.ErrNotObtained {
		return nil, fmt.Errorf("lock %s is held elsewhere", key)
	} else if err != nil {
		return nil, err
	}
	return func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}, nil
}

func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}
