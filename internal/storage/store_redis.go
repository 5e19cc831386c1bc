package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "shopclient:slot:%s"

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func NewRedisStore(ctx context.Context, rdb *redis.Client) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func redisKey(key string) string {
	return fmt.Sprintf(redisKeyPrefix, key)
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, redisKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("redis get slot: %w", err)
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, redisKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set slot: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete slot: %w", err)
	}
	return nil
}
