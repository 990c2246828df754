package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/warp/credit-ledger/credit"
	"golang.org/x/sync/singleflight"
)

// =============================================================================
// REDIS CACHE - Shared across processes
// =============================================================================
//
// Keys:
//   credit:gen:<user>         generation counter, INCR on invalidate
//   credit:user:<user>:<gen>  hash of shape -> encoded value, with TTL
//
// A value computed under generation N is written to the hash for N, which no
// reader looks at once the counter has moved on. Redis failures degrade to
// computing from the store. If the INCR itself fails, the current hash keeps
// being served until its TTL runs out.

// Redis is a credit.Cache backed by Redis.
type Redis struct {
	rdb   redis.UniversalClient
	ttl   time.Duration
	group singleflight.Group
	log   zerolog.Logger
}

var _ credit.Cache = (*Redis)(nil)

// NewRedis wraps a client. A non-positive ttl uses DefaultTTL.
func NewRedis(rdb redis.UniversalClient, ttl time.Duration, log zerolog.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{
		rdb: rdb,
		ttl: ttl,
		log: log.With().Str("component", "redis-cache").Logger(),
	}
}

func genKey(userID credit.UserID) string { return "credit:gen:" + string(userID) }

func dataKey(userID credit.UserID, gen int64) string {
	return fmt.Sprintf("credit:user:%s:%d", userID, gen)
}

func (r *Redis) generation(ctx context.Context, userID credit.UserID) (int64, error) {
	gen, err := r.rdb.Get(ctx, genKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// GetOrCompute reads through Redis.
func (r *Redis) GetOrCompute(ctx context.Context, userID credit.UserID, shape string, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	gen, err := r.generation(ctx, userID)
	if err != nil {
		r.log.Warn().Err(err).Str("user_id", string(userID)).Msg("cache unavailable, reading through")
		return compute(ctx)
	}

	key := dataKey(userID, gen)
	data, err := r.rdb.HGet(ctx, key, shape).Bytes()
	switch {
	case err == nil:
		return data, nil
	case !errors.Is(err, redis.Nil):
		r.log.Warn().Err(err).Str("user_id", string(userID)).Msg("cache read failed, reading through")
		return compute(ctx)
	}

	v, err, _ := r.group.Do(key+"|"+shape, func() (any, error) {
		data, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		_, werr := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, shape, data)
			pipe.Expire(ctx, key, r.ttl)
			return nil
		})
		if werr != nil {
			r.log.Warn().Err(werr).Str("user_id", string(userID)).Msg("cache write failed")
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate moves the user to a new generation and drops the old hash.
func (r *Redis) Invalidate(ctx context.Context, userID credit.UserID) error {
	gen, err := r.rdb.Incr(ctx, genKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("bump cache generation: %w", err)
	}
	if err := r.rdb.Del(ctx, dataKey(userID, gen-1)).Err(); err != nil {
		// The old hash is unreachable already and expires on its own.
		r.log.Debug().Err(err).Str("user_id", string(userID)).Msg("failed to drop stale hash")
	}
	return nil
}
