package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOptions tunes RedisLocker.
type RedisOptions struct {
	Prefix     string        // default "wardgate:lock:"
	TTL        time.Duration // default 30s
	RetryEvery time.Duration // default 50ms
}

// RedisLocker is a Locker shared by every engine instance pointing at the
// same Redis. The TTL bounds how long a crashed holder can block others.
type RedisLocker struct {
	client redis.UniversalClient
	opts   RedisOptions
	logger *zap.Logger
}

// NewRedisLocker wraps client.
func NewRedisLocker(client redis.UniversalClient, opts RedisOptions, logger *zap.Logger) *RedisLocker {
	if opts.Prefix == "" {
		opts.Prefix = "wardgate:lock:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.RetryEvery <= 0 {
		opts.RetryEvery = 50 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{client: client, opts: opts, logger: logger}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.opts.Prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.opts.RetryEvery)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.opts.TTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(ctx, key, redisKey, token) })
	}, nil
}

func (l *RedisLocker) release(ctx context.Context, key, redisKey, token string) {
	// Release must survive the caller's context being cancelled.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(rctx, l.client, []string{redisKey}, token).Err(); err != nil {
		l.logger.Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
	}
}

// Ping verifies connectivity.
func (l *RedisLocker) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("lock: ping: %w", err)
	}
	return nil
}
