package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// incrementScript adds to a counter and sets its TTL only when the key has
// none, so an existing counter keeps its original expiry.
const incrementScript = `
local v = redis.call('INCRBY', KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 and redis.call('PTTL', KEYS[1]) == -1 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return v
`

// recordScript prunes entries at or before the cutoff, counts the window and
// records a new entry only when the count is below the limit. Scores are passed as strings so Lua does not
// reformat large nanosecond values.
//
// KEYS[1] window key
// ARGV[1] now score, ARGV[2] cutoff score, ARGV[3] limit,
// ARGV[4] ttl in ms, ARGV[5] member
const recordScript = `
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
local count = redis.call('ZCARD', KEYS[1])
local oldest = ''
local first = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if #first > 0 then
	oldest = first[2]
end
if count < tonumber(ARGV[3]) then
	redis.call('ZADD', KEYS[1], ARGV[1], ARGV[5])
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
	if oldest == '' then
		oldest = ARGV[1]
	end
	return {1, count, oldest}
end
return {0, count, oldest}
`

// RedisStore implements Store on Redis.
//
// Windows are sorted sets scored by unix nanoseconds with unique members,
// so concurrent requests at the same instant are all counted. Counters are
// plain integer keys. Every operation is bounded by the configured timeout.
type RedisStore struct {
	client  redis.UniversalClient
	timeout time.Duration

	increment *redis.Script
	record    *redis.Script
}

// RedisConfig configures a RedisStore created by OpenRedis.
type RedisConfig struct {
	// Address is the host:port of the Redis server.
	Address string

	// Password for AUTH, if required.
	Password string

	// DB selects the logical database.
	DB int

	// PoolSize caps the connection pool. Default: go-redis default.
	PoolSize int

	// Timeout bounds each store operation.
	// Default: 250ms
	Timeout time.Duration
}

// OpenRedis connects to Redis and returns a store owning the client.
func OpenRedis(cfg RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	return NewRedisStore(client, cfg.Timeout)
}

// NewRedisStore wraps an existing client. A timeout of 0 selects the
// default of 250ms.
func NewRedisStore(client redis.UniversalClient, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return &RedisStore{
		client:    client,
		timeout:   timeout,
		increment: redis.NewScript(incrementScript),
		record:    redis.NewScript(recordScript),
	}
}

func (r *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func windowMember(ts time.Time) string {
	return strconv.FormatInt(ts.UnixNano(), 10) + "-" + uuid.NewString()
}

func parseScore(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid score %q: %w", s, err)
	}
	return time.Unix(0, int64(f)), nil
}

// IncrementCounter implements Store.
func (r *RedisStore) IncrementCounter(ctx context.Context, key string, delta int64, ttlIfNew time.Duration) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	v, err := r.increment.Run(ctx, r.client, []string{key}, delta, ttlIfNew.Milliseconds()).Int64()
	if err != nil {
		return 0, wrap("incr", key, err)
	}
	return v, nil
}

// GetCounter implements Store.
func (r *RedisStore) GetCounter(ctx context.Context, key string) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	v, err := r.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, wrap("get", key, err)
	}
	return v, nil
}

// DeleteKey implements Store.
func (r *RedisStore) DeleteKey(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	// Keys may hash to different slots on a cluster, so delete one at a time
	// inside a pipeline rather than with a single multi-key DEL.
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Del(ctx, key)
		}
		return nil
	})
	return wrap("del", "", err)
}

// AddToWindow implements Store.
func (r *RedisStore) AddToWindow(ctx context.Context, key string, ts time.Time, ttl time.Duration) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(ts.UnixNano()), Member: windowMember(ts)})
		if ttl > 0 {
			pipe.PExpire(ctx, key, ttl)
		}
		return nil
	})
	return wrap("zadd", key, err)
}

// PruneWindow implements Store.
func (r *RedisStore) PruneWindow(ctx context.Context, key string, olderThan time.Time) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	bound := "(" + strconv.FormatInt(olderThan.UnixNano(), 10)
	return wrap("zremrangebyscore", key, r.client.ZRemRangeByScore(ctx, key, "-inf", bound).Err())
}

// CountWindow implements Store.
func (r *RedisStore) CountWindow(ctx context.Context, key string) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	n, err := r.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, wrap("zcard", key, err)
	}
	return n, nil
}

// OldestInWindow implements Store.
func (r *RedisStore) OldestInWindow(ctx context.Context, key string) (time.Time, bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	zs, err := r.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return time.Time{}, false, wrap("zrange", key, err)
	}
	if len(zs) == 0 {
		return time.Time{}, false, nil
	}
	return time.Unix(0, int64(zs[0].Score)), true, nil
}

// RecordIfBelow implements WindowRecorder with a single Lua script.
func (r *RedisStore) RecordIfBelow(ctx context.Context, key string, now time.Time, window time.Duration, limit int64, ttl time.Duration) (WindowState, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.record.Run(ctx, r.client, []string{key},
		strconv.FormatInt(now.UnixNano(), 10),
		strconv.FormatInt(now.Add(-window).UnixNano(), 10),
		limit,
		ttl.Milliseconds(),
		windowMember(now),
	).Slice()
	if err != nil {
		return WindowState{}, wrap("record", key, err)
	}
	if len(res) != 3 {
		return WindowState{}, wrap("record", key, fmt.Errorf("unexpected script reply length %d", len(res)))
	}

	admitted, _ := res[0].(int64)
	count, _ := res[1].(int64)
	state := WindowState{Admitted: admitted == 1, Count: count}

	if s, ok := res[2].(string); ok && s != "" {
		oldest, err := parseScore(s)
		if err != nil {
			return WindowState{}, wrap("record", key, err)
		}
		state.Oldest = oldest
	}
	return state, nil
}

// Keys implements Store using SCAN so large keyspaces are not blocked.
func (r *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, wrap("scan", pattern, err)
	}
	return keys, nil
}

// Ping implements Store.
func (r *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	return wrap("ping", "", r.client.Ping(ctx).Err())
}

// Close implements Store.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
