package upload

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each queue record in a Redis hash with "data" and
// "version" fields. Save uses WATCH/MULTI so a concurrent writer aborts the
// transaction instead of overwriting.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a record store. Keys are stored as prefix + key.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Load(ctx context.Context, key string) (Record, error) {
	vals, err := s.client.HGetAll(ctx, s.prefix+key).Result()
	if err != nil {
		return Record{}, fmt.Errorf("load record %s: %w", key, err)
	}
	if len(vals) == 0 {
		return Record{}, ErrRecordNotFound
	}
	version, err := strconv.ParseInt(vals["version"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("load record %s: bad version: %w", key, err)
	}
	return Record{Data: []byte(vals["data"]), Version: version}, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, data []byte, version int64) (int64, error) {
	k := s.prefix + key
	next := version + 1

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, k, "version").Int64()
		switch {
		case errors.Is(err, redis.Nil):
			current = 0
		case err != nil:
			return err
		}
		if current != version {
			return ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k, "data", data, "version", next)
			return nil
		})
		return err
	}, k)

	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, ErrVersionConflict), errors.Is(err, redis.TxFailedErr):
		return 0, ErrVersionConflict
	default:
		return 0, fmt.Errorf("save record %s: %w", key, err)
	}
}

var _ RecordStore = (*RedisStore)(nil)
