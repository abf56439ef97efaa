package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "nftwatch/pkg/logx"
)

// redisStore keeps the state as a JSON string and deliveries in a capped list
// with the newest record at the head.
type redisStore struct {
	rdb    *redis.Client
	log    logx.Logger
	prefix string
	owned  bool
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for redis driver")
	}
	var opt *redis.Options
	if strings.Contains(dsn, "://") {
		o, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("storage redis url: %w", err)
		}
		opt = o
	} else {
		opt = &redis.Options{Addr: dsn}
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("storage redis ping: %w", err)
	}
	st := newRedisStore(rdb, cfg.KeyPrefix, log)
	st.owned = true
	return st, nil
}

// NewRedis wraps an existing client; Close leaves it open.
func NewRedis(rdb *redis.Client, prefix string, log logx.Logger) Store {
	return newRedisStore(rdb, prefix, log)
}

func newRedisStore(rdb *redis.Client, prefix string, log logx.Logger) *redisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "nftwatch"
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &redisStore{rdb: rdb, log: log, prefix: prefix}
}

func (s *redisStore) stateKey() string      { return s.prefix + "state" }
func (s *redisStore) deliveriesKey() string { return s.prefix + "deliveries" }

func (s *redisStore) Driver() string { return "redis" }

func (s *redisStore) LoadState(ctx context.Context) (State, error) {
	b, err := s.rdb.Get(ctx, s.stateKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, nil
	}
	if err != nil {
		return State{}, err
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return State{}, fmt.Errorf("decode redis state: %w", err)
	}
	return st, nil
}

// SaveState is a single SET, which redis applies atomically.
func (s *redisStore) SaveState(ctx context.Context, st State) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.stateKey(), b, 0).Err()
}

func (s *redisStore) AppendDelivery(ctx context.Context, r DeliveryRecord) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, s.deliveriesKey(), b)
		p.LTrim(ctx, s.deliveriesKey(), 0, maxRecentLimit-1)
		return nil
	})
	return err
}

func (s *redisStore) RecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error) {
	raw, err := s.rdb.LRange(ctx, s.deliveriesKey(), 0, int64(clampLimit(limit)-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DeliveryRecord, 0, len(raw))
	for _, v := range raw {
		var r DeliveryRecord
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			s.log.Debug("skip bad delivery record", logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *redisStore) Close() error {
	if s.owned {
		return s.rdb.Close()
	}
	return nil
}
