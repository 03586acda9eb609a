package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Redis implements Store on a single go-redis client. Compound mutations run
// through pipelines so no reader observes a half-applied transition.
type Redis struct {
	client *redis.Client
}

func NewRedis(addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "store: redis ping")
	}

	return &Redis{client: client}, nil
}

func (r *Redis) SetValue(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.Wrapf(err, "store: set %s", key)
	}
	return nil
}

func (r *Redis) GetValue(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "store: get %s", key)
	}
	return val, nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "store: del")
	}
	return nil
}

func (r *Redis) SetAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, toAny(members)...)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "store: sadd %s", key)
	}
	return nil
}

func (r *Redis) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	if err := r.client.SRem(ctx, key, toAny(members)...).Err(); err != nil {
		return errors.Wrapf(err, "store: srem %s", key)
	}
	return nil
}

func (r *Redis) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "store: smembers %s", key)
	}
	return members, nil
}

func (r *Redis) SetsMembers(ctx context.Context, keys ...string) ([][]string, error) {
	cmds := make([]*redis.StringSliceCmd, len(keys))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.SMembers(ctx, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "store: smembers pipeline")
	}
	out := make([][]string, len(keys))
	for i, cmd := range cmds {
		out[i] = cmd.Val()
	}
	return out, nil
}

func (r *Redis) MoveBetweenSets(ctx context.Context, member, target string, ttl time.Duration, others ...string) error {
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, target, member)
		pipe.Expire(ctx, target, ttl)
		for _, key := range others {
			pipe.SRem(ctx, key, member)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "store: move %s -> %s", member, target)
	}
	return nil
}

func (r *Redis) HashIncr(ctx context.Context, key, field string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, key, field, 1)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "store: hincrby %s %s", key, field)
	}
	return incr.Val(), nil
}

func (r *Redis) HashDelete(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := r.client.HDel(ctx, key, fields...).Err(); err != nil {
		return errors.Wrapf(err, "store: hdel %s", key)
	}
	return nil
}

func (r *Redis) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	vals, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "store: hgetall %s", key)
	}
	return vals, nil
}

func (r *Redis) ListPrepend(ctx context.Context, key, value string, maxLen int64, ttl time.Duration) error {
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, value)
		pipe.LTrim(ctx, key, 0, maxLen-1)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "store: lpush %s", key)
	}
	return nil
}

func (r *Redis) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := r.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "store: lrange %s", key)
	}
	return vals, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func toAny(members []string) []interface{} {
	out := make([]interface{}, len(members))
	for i, m := range members {
		out[i] = m
	}
	return out
}
