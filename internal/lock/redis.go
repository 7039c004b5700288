package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a lease-based Locker shared by every API node and worker.
type RedisLocker struct {
	rdb  *redis.Client
	opts Options
	log  zerolog.Logger
}

// NewRedisLocker creates a RedisLocker.
func NewRedisLocker(rdb *redis.Client, opts Options, log zerolog.Logger) *RedisLocker {
	return &RedisLocker{
		rdb:  rdb,
		opts: opts.withDefaults(),
		log:  log.With().Str("component", "redis_locker").Logger(),
	}
}

// Acquire polls SET NX PX until it wins, the wait bound passes, or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.opts.Wait)

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.opts.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return l.releaser(key, token), nil
		}

		if !time.Now().Add(l.opts.RetryInterval).Before(deadline) {
			return nil, ErrTimeout
		}

		timer := time.NewTimer(l.opts.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) releaser(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// Release must run even if the request context is already cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil {
				l.log.Warn().Err(err).Str("key", key).Msg("Lock release failed, lease will expire")
			}
		})
	}
}
