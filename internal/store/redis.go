package store

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "tb:"

// RedisBackend stores each document as a hash {val, ver} and keeps a set of
// child paths per parent. Swaps run under WATCH/MULTI/EXEC.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend builds a backend over client. An empty prefix uses "tb:".
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) nodeKey(p string) string { return r.prefix + "node:" + p }
func (r *RedisBackend) indexKey(p string) string { return r.prefix + "idx:" + p }
func (r *RedisBackend) sequenceKey() string { return r.prefix + "seq" }

func (r *RedisBackend) Get(ctx context.Context, p string) (Snapshot, error) {
	fields, err := r.client.HMGet(ctx, r.nodeKey(p), "val", "ver").Result()
	if err != nil {
		return Snapshot{}, err
	}
	val, _ := fields[0].(string)
	ver, ok := fields[1].(string)
	if !ok {
		return Snapshot{Path: p}, nil
	}
	version, err := strconv.ParseInt(ver, 10, 64)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Path: p, Value: []byte(val), Version: version}, nil
}

func (r *RedisBackend) Children(ctx context.Context, parent string) ([]Snapshot, error) {
	paths, err := r.client.SMembers(ctx, r.indexKey(parent)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make([]Snapshot, 0, len(paths))
	for _, p := range paths {
		snap, err := r.Get(ctx, p)
		if err != nil {
			return nil, err
		}
		if snap.Exists() {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (r *RedisBackend) CompareAndSwap(ctx context.Context, p string, version int64, value []byte) (int64, error) {
	key := r.nodeKey(p)
	index := r.indexKey(Parent(p))
	var next int64

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, key, "ver").Int64()
		switch {
		case errors.Is(err, redis.Nil):
			cur = 0
		case err != nil:
			return err
		}
		if cur != version {
			return ErrConflict
		}
		if value != nil {
			if next, err = tx.Incr(ctx, r.sequenceKey()).Result(); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if value == nil {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, index, p)
				return nil
			}
			pipe.HSet(ctx, key, "val", value, "ver", next)
			pipe.SAdd(ctx, index, p)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return 0, ErrConflict
	}
	if err != nil {
		return 0, err
	}
	return next, nil
}
