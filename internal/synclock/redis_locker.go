package synclock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultLockTTL caps how long a crashed holder can keep a connection locked.
// It must comfortably exceed the longest plausible sync run.
const DefaultLockTTL = 10 * time.Minute

// releaseScript deletes the lock only when it still holds our token, so an
// expired lock reacquired by another process is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is the multi-process implementation, backed by SET NX with a TTL.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLocker builds a locker over the given client. A ttl <= 0 falls back
// to DefaultLockTTL.
func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl}
}

func (l *RedisLocker) redisKey(userID, provider string) string {
	return fmt.Sprintf("%s:%s", l.prefix, lockKey(userID, provider))
}

func (l *RedisLocker) TryLock(ctx context.Context, userID, provider string) (func(), bool, error) {
	key := l.redisKey(userID, provider)
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("synclock: acquiring %s: %w", key, err)
	}
	if !acquired {
		return nil, false, nil
	}

	release := func() {
		// The original ctx may already be canceled when the run finishes.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("releasing sync lock failed, relying on TTL")
		}
	}
	return release, true, nil
}
