package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	zerrors "github.com/zenoss/zenoss-zep-sub000/internal/errors"
)

// KEYS: queue list, queued set, in-progress zset. ARGV: tasks.
var pushScript = redis.NewScript(`
local added = 0
for i, task in ipairs(ARGV) do
  if redis.call('SISMEMBER', KEYS[2], task) == 0 and not redis.call('ZSCORE', KEYS[3], task) then
    redis.call('SADD', KEYS[2], task)
    redis.call('RPUSH', KEYS[1], task)
    added = added + 1
  end
end
return added
`)

// ARGV: max, now millis.
var leaseScript = redis.NewScript(`
local out = {}
local max = tonumber(ARGV[1])
for i = 1, max do
  local task = redis.call('LPOP', KEYS[1])
  if not task then break end
  redis.call('SREM', KEYS[2], task)
  redis.call('ZADD', KEYS[3], ARGV[2], task)
  out[#out + 1] = task
end
return out
`)

// ARGV: cutoff millis.
var requeueScript = redis.NewScript(`
local old = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
for i, task in ipairs(old) do
  redis.call('ZREM', KEYS[3], task)
  if redis.call('SISMEMBER', KEYS[2], task) == 0 then
    redis.call('SADD', KEYS[2], task)
    redis.call('RPUSH', KEYS[1], task)
  end
end
return #old
`)

// RedisStore shares a queue between processes through three keys:
// <prefix>:queue (LIST), <prefix>:queue_set (SET) and <prefix>:in_progress
// (ZSET scored by lease time in millis).
type RedisStore struct {
	client redis.UniversalClient
	keys   []string
	owned  bool
}

// NewRedisStore uses client under prefix. The caller keeps ownership of client.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		keys:   []string{prefix + ":queue", prefix + ":queue_set", prefix + ":in_progress"},
	}
}

// RedisOptions locates a Redis server.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// DialRedis connects and pings with retry. The returned store owns its client.
func DialRedis(ctx context.Context, opts RedisOptions, retry zerrors.RetryConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	err := zerrors.Retry(ctx, retry, func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, zerrors.New(zerrors.ErrCodeQueueUnavailable, "redis unreachable at "+opts.Addr, err)
	}
	s := NewRedisStore(client, opts.Prefix)
	s.owned = true
	return s, nil
}

func (r *RedisStore) Push(ctx context.Context, tasks []string) (int, error) {
	args := make([]interface{}, len(tasks))
	for i, t := range tasks {
		args[i] = t
	}
	n, err := pushScript.Run(ctx, r.client, r.keys, args...).Int()
	if err != nil {
		return 0, errors.Wrap(err, "push")
	}
	return n, nil
}

func (r *RedisStore) Lease(ctx context.Context, max int, now time.Time) ([]string, error) {
	out, err := leaseScript.Run(ctx, r.client, r.keys, max, now.UnixMilli()).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, errors.Wrap(err, "lease")
	}
	return out, nil
}

func (r *RedisStore) Complete(ctx context.Context, tasks []string) error {
	if len(tasks) == 0 {
		return nil
	}
	members := make([]interface{}, len(tasks))
	for i, t := range tasks {
		members[i] = t
	}
	return errors.Wrap(r.client.ZRem(ctx, r.keys[2], members...).Err(), "zrem")
}

func (r *RedisStore) Requeue(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := requeueScript.Run(ctx, r.client, r.keys, strconv.FormatInt(cutoff.UnixMilli(), 10)).Int()
	if err != nil {
		return 0, errors.Wrap(err, "requeue")
	}
	return n, nil
}

func (r *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := r.client.LLen(ctx, r.keys[0]).Result()
	if err != nil {
		return 0, errors.Wrap(err, "llen")
	}
	return int(n), nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	return errors.Wrap(r.client.Del(ctx, r.keys...).Err(), "del")
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}

var _ Store = (*RedisStore)(nil)
