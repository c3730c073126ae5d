package alerts

import (
	"fmt"
	"sort"
	"time"

	"apotekku/backend/internal/cache"
	"apotekku/backend/internal/domain"
)

// Engine builds stock alert reports: products at or below their reorder
// threshold, lots expiring within the alert window, and expired lots still
// holding quantity on the shelf. Reports are cached per day.
type Engine struct {
	cache      cache.StockAlertCache
	cacheTTL   time.Duration
	windowDays int
}

func NewEngine(cacheStore cache.StockAlertCache, cacheTTL time.Duration, windowDays int) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopStockAlertCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 60 * time.Second
	}
	if windowDays < 1 {
		windowDays = 30
	}

	return &Engine{
		cache:      cacheStore,
		cacheTTL:   cacheTTL,
		windowDays: windowDays,
	}
}

func (e *Engine) WindowDays() int {
	return e.windowDays
}

// Build computes the alert report from a product snapshot and the already
// filtered expiring/expired lot lists.
func (e *Engine) Build(
	products []domain.Product,
	expiring []domain.StockLot,
	expired []domain.StockLot,
	now time.Time,
) domain.StockAlertResponse {
	byID := make(map[int64]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	alerts := make([]domain.StockAlert, 0, len(products))

	for _, p := range products {
		if p.AlertThreshold < 1 || p.StockTotal > p.AlertThreshold {
			continue
		}
		severity := "warning"
		if p.StockTotal == 0 {
			severity = "critical"
		}
		alerts = append(alerts, domain.StockAlert{
			Code:        domain.AlertLowStock,
			Severity:    severity,
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    p.StockTotal,
			Threshold:   p.AlertThreshold,
			Detail:      fmt.Sprintf("sellable stock %d at or below threshold %d", p.StockTotal, p.AlertThreshold),
		})
	}

	for _, lot := range expiring {
		if lot.Quantity < 1 {
			continue
		}
		daysLeft := int(lot.ExpiryDate.Sub(dayOf(now)).Hours() / 24)
		severity := "warning"
		if daysLeft <= 7 {
			severity = "critical"
		}
		alerts = append(alerts, domain.StockAlert{
			Code:        domain.AlertExpiringSoon,
			Severity:    severity,
			ProductID:   lot.ProductID,
			ProductName: byID[lot.ProductID].Name,
			LotID:       lot.ID,
			LotNumber:   lot.LotNumber,
			Quantity:    lot.Quantity,
			ExpiryDate:  lot.ExpiryDate.Format("2006-01-02"),
			Detail:      fmt.Sprintf("lot expires in %d days", daysLeft),
		})
	}

	for _, lot := range expired {
		if lot.Quantity < 1 {
			continue
		}
		alerts = append(alerts, domain.StockAlert{
			Code:        domain.AlertExpiredLot,
			Severity:    "critical",
			ProductID:   lot.ProductID,
			ProductName: byID[lot.ProductID].Name,
			LotID:       lot.ID,
			LotNumber:   lot.LotNumber,
			Quantity:    lot.Quantity,
			ExpiryDate:  lot.ExpiryDate.Format("2006-01-02"),
			Detail:      "expired lot still holds quantity and must be written off",
		})
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Severity != alerts[j].Severity {
			return alerts[i].Severity == "critical"
		}
		return alerts[i].ProductID < alerts[j].ProductID
	})

	return domain.StockAlertResponse{
		GeneratedAt: now.UTC().Format(time.RFC3339),
		WindowDays:  e.windowDays,
		Alerts:      alerts,
	}
}

// CacheKey buckets reports by UTC day so a new day always recomputes even
// if a stale entry survived its TTL.
func (e *Engine) CacheKey(now time.Time) string {
	return "apotek:stock-alerts:" + now.UTC().Format("2006-01-02")
}

func (e *Engine) CacheTTL() time.Duration {
	return e.cacheTTL
}

func (e *Engine) Cache() cache.StockAlertCache {
	return e.cache
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}
