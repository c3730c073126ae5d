package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"apotekku/backend/internal/domain"
)

type RedisStockAlertCache struct {
	client *redis.Client
}

func NewRedisStockAlertCache(ctx context.Context, addr string, password string, db int) (*RedisStockAlertCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisStockAlertCache{client: client}, nil
}

func (c *RedisStockAlertCache) Get(ctx context.Context, key string) (*domain.StockAlertResponse, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var report domain.StockAlertResponse
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *RedisStockAlertCache) Set(ctx context.Context, key string, report *domain.StockAlertResponse, ttl time.Duration) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, ttl).Err()
}

func (c *RedisStockAlertCache) Close() error {
	return c.client.Close()
}
