// README: Short-lived per-card scan lock in Redis that absorbs double taps.
package scanner

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"maat/internal/types"
)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

type CardLocks struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewCardLocks(rdb *redis.Client, ttl time.Duration) *CardLocks {
	return &CardLocks{redis: rdb, ttl: ttl}
}

func cardLockKey(uid string) string { return "scanner:card:" + uid + ":lock" }

// Acquire takes the lock for uid. It returns ok=false when another scan holds it.
// The returned release only deletes the key if this caller still owns it.
func (l *CardLocks) Acquire(ctx context.Context, uid string) (release func(), ok bool, err error) {
	if l == nil || l.redis == nil {
		return func() {}, true, nil
	}
	owner := string(types.NewID())
	key := cardLockKey(uid)
	ok, err = l.redis.SetNX(ctx, key, owner, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release = func() {
		// A failed release is left to expire with the TTL.
		_ = releaseScript.Run(context.WithoutCancel(ctx), l.redis, []string{key}, owner).Err()
	}
	return release, true, nil
}
