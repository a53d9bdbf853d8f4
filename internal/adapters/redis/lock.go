package redisad

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// releaseScript deletes the key only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a lease lock: SET NX with a TTL so a crashed holder cannot block
// the key forever.
type Lock struct {
	c      *redis.Client
	prefix string
}

func NewLock(c *redis.Client, prefix string) *Lock {
	return &Lock{c: c, prefix: prefix}
}

func (l *Lock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	k := l.prefix + key
	token := uuid.NewString()
	ok, err := l.c.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// the lease must be released even if the caller's ctx is gone
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.c, []string{k}, token).Err(); err != nil {
			log.Warn().Err(err).Str("key", k).Msg("lease release failed")
		}
	}
	return release, true, nil
}
