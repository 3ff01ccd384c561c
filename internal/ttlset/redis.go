package ttlset

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// RedisOptions configures a Redis-backed Set.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces the keys, e.g. "orderrelay:dedup:".
	Prefix string
}

// Redis is a Set shared by every relay instance pointing at the same server.
// Expiry is native (SET NX PX), so PurgeOlderThan is a no-op.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedisClient dials Redis and verifies the connection with PING.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}
	return client, nil
}

// NewRedis wraps an existing client. Several sets may share one client as
// long as their prefixes differ.
func NewRedis(client *redis.Client, prefix string) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		return nil, errors.New("redis key prefix is required")
	}
	return &Redis{client: client, prefix: prefix}, nil
}

func (r *Redis) key(k string) string { return r.prefix + k }

// InsertIfAbsent implements Set with SET NX.
func (r *Redis) InsertIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	ok, err := r.client.SetNX(ctx, r.key(key), time.Now().UnixMilli(), ttl).Result()
	if err != nil {
		return false, errors.Wrapf(ErrUnavailable, "setnx %s: %v", key, err)
	}
	return ok, nil
}

// Contains implements Set with EXISTS.
func (r *Redis) Contains(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, errors.Wrapf(ErrUnavailable, "exists %s: %v", key, err)
	}
	return n > 0, nil
}

// Delete implements Set with DEL.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return errors.Wrapf(ErrUnavailable, "del %s: %v", key, err)
	}
	return nil
}

// PurgeOlderThan implements Set. Redis expires keys itself.
func (r *Redis) PurgeOlderThan(context.Context, time.Duration) (int, error) {
	return 0, nil
}
