package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "playchess:games:"

type redisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore connects to Redis and returns a store whose entries carry a
// rolling TTL, so abandoned games expire server-side as well.
func NewRedisStore(redisURL string, ttl time.Duration) (Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisStore{rdb: rdb, ttl: ttl}, nil
}

func redisKey(id string) string { return redisKeyPrefix + id }

func (r *redisStore) Put(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return ErrInvalidParameter
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return r.rdb.Set(ctx, redisKey(s.ID), payload, r.ttl).Err()
}

func (r *redisStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := r.rdb.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s := &Session{}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return s, nil
}

func (r *redisStore) Delete(ctx context.Context, id string) error {
	n, err := r.rdb.Del(ctx, redisKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *redisStore) List(ctx context.Context) ([]*Session, error) {
	var out []*Session
	iter := r.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := r.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s := &Session{}
		if err := json.Unmarshal(raw, s); err != nil {
			continue
		}
		out = append(out, s)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *redisStore) Len(ctx context.Context) (int, error) {
	count := 0
	iter := r.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return count, nil
}
