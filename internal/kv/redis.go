package kv

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultNamespace = "mw"

// RedisOption is a functional option for configuring the redis store.
type RedisOption func(*redisStore)

// WithNamespace sets the key namespace prefix for redis keys.
func WithNamespace(ns string) RedisOption {
	return func(s *redisStore) {
		if ns != "" {
			s.namespace = ns
		}
	}
}

// redisStore implements Store over a single redis client. Every logical key
// is prefixed with "{namespace}:" so parallel deployments can share an
// instance.
type redisStore struct {
	client    *redis.Client
	namespace string
	closed    atomic.Bool
}

// NewRedis creates a redis-backed store. url should be a valid redis URL
// (e.g. "redis://localhost:6379/0"). Connectivity is verified before the
// store is returned.
func NewRedis(url string, opts ...RedisOption) (Store, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return newRedisWithClient(redis.NewClient(redisOpts), opts...)
}

// NewRedisFromClient wraps an existing client. Used by tests running against
// miniredis.
func NewRedisFromClient(client *redis.Client, opts ...RedisOption) (Store, error) {
	return newRedisWithClient(client, opts...)
}

func newRedisWithClient(client *redis.Client, opts ...RedisOption) (Store, error) {
	s := &redisStore{
		client:    client,
		namespace: defaultNamespace,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return s, nil
}

func (s *redisStore) key(k string) string {
	return s.namespace + ":" + k
}

func (s *redisStore) strip(k string) string {
	return strings.TrimPrefix(k, s.namespace+":")
}

func wrapErr(op string, err error) error {
	if err == redis.Nil {
		return ErrNotFound
	}
	return fmt.Errorf("kv: %s: %w", op, err)
}

func (s *redisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		return "", wrapErr("GET "+key, err)
	}
	return v, nil
}

func (s *redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return wrapErr("SET "+key, err)
	}
	return nil
}

func (s *redisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, wrapErr("SETNX "+key, err)
	}
	return ok, nil
}

func (s *redisStore) Del(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return wrapErr("DEL", err)
	}
	return nil
}

func (s *redisStore) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := s.client.HGet(ctx, s.key(key), field).Result()
	if err != nil {
		return "", wrapErr("HGET "+key, err)
	}
	return v, nil
}

func (s *redisStore) HSet(ctx context.Context, key, field, value string) error {
	if err := s.client.HSet(ctx, s.key(key), field, value).Err(); err != nil {
		return wrapErr("HSET "+key, err)
	}
	return nil
}

func (s *redisStore) HDel(ctx context.Context, key string, fields ...string) error {
	if err := s.client.HDel(ctx, s.key(key), fields...).Err(); err != nil {
		return wrapErr("HDEL "+key, err)
	}
	return nil
}

func (s *redisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return nil, wrapErr("HGETALL "+key, err)
	}
	return m, nil
}

func (s *redisStore) HLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.HLen(ctx, s.key(key)).Result()
	if err != nil {
		return 0, wrapErr("HLEN "+key, err)
	}
	return n, nil
}

func toRedisZ(members []Z) []redis.Z {
	out := make([]redis.Z, len(members))
	for i, m := range members {
		out[i] = redis.Z{Score: m.Score, Member: m.Member}
	}
	return out
}

func fromRedisZ(members []redis.Z) []Z {
	out := make([]Z, len(members))
	for i, m := range members {
		out[i] = Z{Score: m.Score, Member: fmt.Sprint(m.Member)}
	}
	return out
}

func (s *redisStore) ZAdd(ctx context.Context, key string, members ...Z) error {
	if len(members) == 0 {
		return nil
	}
	if err := s.client.ZAdd(ctx, s.key(key), toRedisZ(members)...).Err(); err != nil {
		return wrapErr("ZADD "+key, err)
	}
	return nil
}

func (s *redisStore) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.client.ZRem(ctx, s.key(key), args...).Err(); err != nil {
		return wrapErr("ZREM "+key, err)
	}
	return nil
}

func (s *redisStore) ZPopMin(ctx context.Context, key string) (Z, error) {
	res, err := s.client.ZPopMin(ctx, s.key(key), 1).Result()
	if err != nil {
		return Z{}, wrapErr("ZPOPMIN "+key, err)
	}
	if len(res) == 0 {
		return Z{}, ErrNotFound
	}
	return Z{Score: res[0].Score, Member: fmt.Sprint(res[0].Member)}, nil
}

func (s *redisStore) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, s.key(key)).Result()
	if err != nil {
		return 0, wrapErr("ZCARD "+key, err)
	}
	return n, nil
}

func (s *redisStore) ZScore(ctx context.Context, key, member string) (float64, error) {
	score, err := s.client.ZScore(ctx, s.key(key), member).Result()
	if err != nil {
		return 0, wrapErr("ZSCORE "+key, err)
	}
	return score, nil
}

func (s *redisStore) ZRangeByScore(ctx context.Context, key string, min, max float64, offset, count int64) ([]Z, error) {
	res, err := s.client.ZRangeByScoreWithScores(ctx, s.key(key), &redis.ZRangeBy{
		Min:    formatScore(min, true),
		Max:    formatScore(max, false),
		Offset: offset,
		Count:  count,
	}).Result()
	if err != nil {
		return nil, wrapErr("ZRANGEBYSCORE "+key, err)
	}
	return fromRedisZ(res), nil
}

func (s *redisStore) ZRange(ctx context.Context, key string, start, stop int64, rev bool) ([]Z, error) {
	var res []redis.Z
	var err error
	if rev {
		res, err = s.client.ZRevRangeWithScores(ctx, s.key(key), start, stop).Result()
	} else {
		res, err = s.client.ZRangeWithScores(ctx, s.key(key), start, stop).Result()
	}
	if err != nil {
		return nil, wrapErr("ZRANGE "+key, err)
	}
	return fromRedisZ(res), nil
}

func formatScore(v float64, isMin bool) string {
	if isMin && v == negInf {
		return "-inf"
	}
	if !isMin && v == posInf {
		return "+inf"
	}
	return fmt.Sprintf("%f", v)
}

const (
	negInf = float64(-1 << 62)
	posInf = float64(1 << 62)
)

// NegInf and PosInf are sentinel score bounds for ZRangeByScore.
const (
	NegInf = negInf
	PosInf = posInf
)

func (s *redisStore) Scan(ctx context.Context, pattern string, batch int64, fn func(keys []string) error) error {
	if batch <= 0 {
		batch = 100
	}
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.key(pattern), batch).Result()
		if err != nil {
			return wrapErr("SCAN "+pattern, err)
		}
		if len(keys) > 0 {
			logical := make([]string, len(keys))
			for i, k := range keys {
				logical[i] = s.strip(k)
			}
			if err := fn(logical); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *redisStore) Type(ctx context.Context, key string) (string, error) {
	t, err := s.client.Type(ctx, s.key(key)).Result()
	if err != nil {
		return "", wrapErr("TYPE "+key, err)
	}
	return t, nil
}

func (s *redisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, wrapErr("TTL "+key, err)
	}
	return d, nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("kv: ping: %w", err)
	}
	return nil
}

func (s *redisStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.client.Close()
}

// redisPipeline queues writes on a TxPipeline; Exec flushes them in one
// transactional round trip.
type redisPipeline struct {
	store *redisStore
	pipe  redis.Pipeliner
}

func (s *redisStore) Pipeline() Pipeline {
	return &redisPipeline{store: s, pipe: s.client.TxPipeline()}
}

func (p *redisPipeline) Set(key, value string, ttl time.Duration) {
	p.pipe.Set(context.Background(), p.store.key(key), value, ttl)
}

func (p *redisPipeline) Del(keys ...string) {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = p.store.key(k)
	}
	p.pipe.Del(context.Background(), full...)
}

func (p *redisPipeline) HSet(key, field, value string) {
	p.pipe.HSet(context.Background(), p.store.key(key), field, value)
}

func (p *redisPipeline) HDel(key string, fields ...string) {
	p.pipe.HDel(context.Background(), p.store.key(key), fields...)
}

func (p *redisPipeline) ZAdd(key string, members ...Z) {
	if len(members) == 0 {
		return
	}
	p.pipe.ZAdd(context.Background(), p.store.key(key), toRedisZ(members)...)
}

func (p *redisPipeline) ZRem(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	p.pipe.ZRem(context.Background(), p.store.key(key), args...)
}

func (p *redisPipeline) Exec(ctx context.Context) error {
	if _, err := p.pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("kv: pipeline exec: %w", err)
	}
	return nil
}
