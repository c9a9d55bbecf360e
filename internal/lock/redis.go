package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultTTL = 10 * time.Minute

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a try-lock shared by every replica connected to the same Redis.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedis creates a Redis-backed locker. ttl bounds how long a crashed holder blocks others.
func NewRedis(rdb redis.UniversalClient, prefix string, ttl time.Duration, logger zerolog.Logger) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if prefix == "" {
		prefix = "taskbeat:lock:"
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl, logger: logger}
}

// Ping verifies connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	return nil
}

// TryLock sets the key with NX and a TTL.
func (r *Redis) TryLock(ctx context.Context, key string) (func(), bool, error) {
	token := uuid.NewString()
	full := r.prefix + key
	ok, err := r.rdb.SetNX(ctx, full, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", full, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		// Release with a fresh context so a cancelled tick still frees the key.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		n, err := releaseScript.Run(rctx, r.rdb, []string{full}, token).Int()
		if err != nil {
			r.logger.Warn().Str("key", full).Err(err).Msg("release redis lock")
			return
		}
		if n == 0 {
			r.logger.Warn().Str("key", full).Err(ErrNotHeld).Msg("redis lock expired before release")
		}
	}, true, nil
}
