package lock

import (
	"context"
	"time"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const (
	DefaultRedisTTL          = 30 * time.Second
	DefaultRedisPollInterval = 25 * time.Millisecond
	defaultRedisPrefix       = "mailstore:lock:"
)

// only delete the key if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis is an exclusive lock between processes sharing a redis server.
// The key expires after the TTL in case the owner disappears. Shared locks don't touch redis.
type Redis struct {
	client   redis.UniversalClient
	ttl      time.Duration
	interval time.Duration
	prefix   string
	logger   lib.Logger
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	return NewRedisWithLogger(client, ttl, nil)
}

func NewRedisWithLogger(client redis.UniversalClient, ttl time.Duration, logger lib.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &Redis{
		client:   client,
		ttl:      ttl,
		interval: DefaultRedisPollInterval,
		prefix:   defaultRedisPrefix,
		logger:   lib.OrNoLog(logger),
	}
}

func (l *Redis) Acquire(ctx context.Context, resource string, mode Mode) (Release, error) {
	if mode != Exclusive {
		return noRelease, nil
	}
	key := l.prefix + resource
	token := uuid.NewString()
	limiter := rate.NewLimiter(rate.Every(l.interval), 1)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, waitError(ctx, resource)
			}
			return nil, err
		}
		if ok {
			return func() { l.release(key, token) }, nil
		}
		if err := limiter.Wait(ctx); err != nil {
			return nil, waitError(ctx, resource)
		}
	}
}

func (l *Redis) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), l.ttl)
	defer cancel()

	deleted, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
	if err != nil {
		l.logger.Printf("cannot release redis lock %q: %s", key, err)
		return
	}
	if deleted == 0 {
		l.logger.Printf("redis lock %q expired before release", key)
	}
}
