package infra

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by Acquire when another holder owns the lock.
var ErrLockHeld = errors.New("lock held by another process")

// releaseScript deletes the key only if it still carries our token, so an
// expired lock re-acquired by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker is a single-key Redis mutex (SET NX PX). It keeps two server
// replicas from running the same scheduled job concurrently.
type Locker struct {
	rdb *redis.Client
}

func NewLocker(rdb *redis.Client) *Locker { return &Locker{rdb: rdb} }

// Acquire takes key for ttl and returns the release func.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
	}, nil
}
