package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores each sent key as "<prefix>sent:<key>" holding the unix-ms send
// time, with PX set to the ledger TTL. Redis expiry replaces Compact.
type Redis struct {
	rdb    *redis.Client
	prefix string
	owned  bool
}

// NewRedis wraps an existing client. Close does not close it.
func NewRedis(rdb *redis.Client, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: normalizePrefix(prefix) + "sent:"}
}

// DialRedis opens a client owned by the backend and pings it.
func DialRedis(ctx context.Context, addr, password string, db int, prefix string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ledger redis ping %s: %w", addr, err)
	}
	r := NewRedis(rdb, prefix)
	r.owned = true
	return r, nil
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) SentAt(ctx context.Context, key string) (time.Time, bool, error) {
	v, err := r.rdb.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("ledger: bad value for %s: %w", key, err)
	}
	return time.UnixMilli(ms), true, nil
}

func (r *Redis) Mark(ctx context.Context, key string, at time.Time, ttl time.Duration) error {
	return r.rdb.Set(ctx, r.prefix+key, strconv.FormatInt(at.UnixMilli(), 10), ttl).Err()
}

// reserveScript sets the key unless it holds a send time younger than the
// ttl. A stale value (left behind by a TTL change) is overwritten.
var reserveScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v and (tonumber(ARGV[1]) - tonumber(v)) <= tonumber(ARGV[2]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

func (r *Redis) Reserve(ctx context.Context, key string, at time.Time, ttl time.Duration) (bool, error) {
	n, err := reserveScript.Run(ctx, r.rdb, []string{r.prefix + key}, at.UnixMilli(), ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Redis) Compact(context.Context, time.Time) (int, error) { return 0, nil }

func (r *Redis) Len(ctx context.Context) (int, error) {
	n := 0
	iter := r.rdb.Scan(ctx, 0, r.prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n, iter.Err()
}

func (r *Redis) Close() error {
	if r.owned {
		return r.rdb.Close()
	}
	return nil
}
