package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"accounts/internal/core/port"
)

type redisRepository struct {
	client *goredis.Client
}

func NewRedisRepository(ctx context.Context, addr string) (port.CacheRepository, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, oops.Code("CACHE_UNAVAILABLE").With("addr", addr).Wrap(err)
	}

	return &redisRepository{client: client}, nil
}

// setIfNewer keeps each entry as a hash of its version and payload so the
// compare and the write run as one script.
var setIfNewer = goredis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if current and tonumber(current) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'value', ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
else
	redis.call('PERSIST', KEYS[1])
end
return 1
`)

func (c *redisRepository) SetIfNewer(ctx context.Context, key string, version int64, value []byte, ttl time.Duration) (bool, error) {
	stored, err := setIfNewer.Run(ctx, c.client, []string{key}, version, value, ttl.Milliseconds()).Int()
	if err != nil {
		return false, oops.Code("CACHE_SET_FAILED").With("key", key).Wrap(err)
	}
	return stored == 1, nil
}

func (c *redisRepository) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := c.client.HGet(ctx, key, "value").Bytes()

	if errors.Is(err, goredis.Nil) {
		return nil, port.ErrCacheMiss
	}

	if err != nil {
		return nil, oops.Code("CACHE_GET_FAILED").With("key", key).Wrap(err)
	}

	return v, nil
}

func (c *redisRepository) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return oops.Code("CACHE_DELETE_FAILED").With("key", key).Wrap(err)
	}
	return nil
}

func (c *redisRepository) DeleteByPrefix(ctx context.Context, prefix string) error {
	iter := c.client.Scan(ctx, 0, prefix+"*", 100).Iterator()

	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return oops.Code("CACHE_DELETE_FAILED").With("key", iter.Val()).Wrap(err)
		}
	}

	if err := iter.Err(); err != nil {
		return oops.Code("CACHE_SCAN_FAILED").With("prefix", prefix).Wrap(err)
	}

	return nil
}

func (c *redisRepository) Close() error {
	return c.client.Close()
}
