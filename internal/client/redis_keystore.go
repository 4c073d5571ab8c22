package client

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeystorePrefix = "safevoice:client:"

// RedisKeystore keeps the token pair in Redis, for clients that share a
// session across processes.
type RedisKeystore struct {
	client *redis.Client
	prefix string
}

func NewRedisKeystore(redisURL string) (*RedisKeystore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisKeystoreWithClient(client, ""), nil
}

func NewRedisKeystoreWithClient(client *redis.Client, prefix string) *RedisKeystore {
	if prefix == "" {
		prefix = defaultKeystorePrefix
	}
	return &RedisKeystore{client: client, prefix: prefix}
}

func (k *RedisKeystore) accessKey() string  { return k.prefix + "access_token" }
func (k *RedisKeystore) refreshKey() string { return k.prefix + "refresh_token" }

func (k *RedisKeystore) Load(ctx context.Context) (Tokens, error) {
	values, err := k.client.MGet(ctx, k.accessKey(), k.refreshKey()).Result()
	if err != nil {
		return Tokens{}, fmt.Errorf("load tokens: %w", err)
	}
	var tokens Tokens
	if access, ok := values[0].(string); ok {
		tokens.AccessToken = access
	}
	if refresh, ok := values[1].(string); ok {
		tokens.RefreshToken = refresh
	}
	return tokens, nil
}

func (k *RedisKeystore) Save(ctx context.Context, tokens Tokens) error {
	_, err := k.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, k.accessKey(), tokens.AccessToken, 0)
		pipe.Set(ctx, k.refreshKey(), tokens.RefreshToken, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}
	return nil
}

func (k *RedisKeystore) Clear(ctx context.Context) error {
	_, err := k.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k.accessKey(), k.refreshKey())
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}
	return nil
}

func (k *RedisKeystore) Close() error {
	return k.client.Close()
}
