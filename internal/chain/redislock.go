package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/the-pines/frog/pkg/logger"
)

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker serialises executor submissions across processes that share
// one executor key. The lock expires after ttl so a crashed holder cannot
// wedge the signer.
type RedisLocker struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
	retry  time.Duration
	local  *LocalLocker
	log    *logger.Logger
}

// NewRedisLocker builds a locker keyed on the executor address.
func NewRedisLocker(client redis.Cmdable, executor string, ttl time.Duration, log *logger.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	if log == nil {
		log = logger.NewDefault("signer-lock")
	}
	return &RedisLocker{
		client: client,
		key:    "frog:signer:" + executor,
		ttl:    ttl,
		retry:  50 * time.Millisecond,
		local:  NewLocalLocker(),
		log:    log,
	}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Lock acquires the process-local lock first so goroutines in one process
// do not poll redis against each other.
func (l *RedisLocker) Lock(ctx context.Context) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx)
	if err != nil {
		return nil, err
	}

	token := uuid.NewString()
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			unlockLocal()
			return nil, fmt.Errorf("redis setnx: %w", err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := releaseScript.Run(releaseCtx, l.client, []string{l.key}, token).Err(); err != nil {
					l.log.WithError(err).Warn("release signer lock failed; it will expire")
				}
				unlockLocal()
			}, nil
		}

		select {
		case <-ctx.Done():
			unlockLocal()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
