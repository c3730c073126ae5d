package cache

import (
	"context"
	"time"

	"apotekku/backend/internal/domain"
)

// StockAlertCache stores computed stock alert reports keyed by report day.
// A cache miss returns (nil, nil).
type StockAlertCache interface {
	Get(ctx context.Context, key string) (*domain.StockAlertResponse, error)
	Set(ctx context.Context, key string, report *domain.StockAlertResponse, ttl time.Duration) error
}

// NoopStockAlertCache is used when no redis address is configured. Every
// lookup is a miss and every write is dropped.
type NoopStockAlertCache struct{}

func (NoopStockAlertCache) Get(ctx context.Context, key string) (*domain.StockAlertResponse, error) {
	return nil, nil
}

func (NoopStockAlertCache) Set(ctx context.Context, key string, report *domain.StockAlertResponse, ttl time.Duration) error {
	return nil
}
