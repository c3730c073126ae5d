package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"apotekku/backend/internal/domain"
	"apotekku/backend/internal/store"
)

func mustHashBcrypt(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func newIntegrationStore(t *testing.T) (*Store, context.Context) {
	t.Helper()

	databaseURL := os.Getenv("APOTEKKU_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set APOTEKKU_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s, ctx
}

func seedIntegrationProduct(t *testing.T, s *Store, ctx context.Context) int64 {
	t.Helper()

	stamp := time.Now().UnixNano()
	product, err := s.CreateProduct(ctx, domain.Product{
		Name:           fmt.Sprintf("Integration Ibuprofen %d", stamp),
		SalePriceCents: 2500,
		AlertThreshold: 5,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_lots WHERE product_id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})
	return product.ID
}

func TestDepleteStockFEFOOrdering(t *testing.T) {
	s, ctx := newIntegrationStore(t)
	productID := seedIntegrationProduct(t, s, ctx)

	today := nowDateUTC(time.Now().UTC())
	late, err := s.InsertLot(ctx, domain.StockLot{ProductID: productID, LotNumber: "IT-LATE", Quantity: 5, ExpiryDate: today.AddDate(0, 2, 0)})
	if err != nil {
		t.Fatalf("insert late lot: %v", err)
	}
	soon, err := s.InsertLot(ctx, domain.StockLot{ProductID: productID, LotNumber: "IT-SOON", Quantity: 5, ExpiryDate: today.AddDate(0, 0, 7)})
	if err != nil {
		t.Fatalf("insert soon lot: %v", err)
	}
	if _, err := s.InsertLot(ctx, domain.StockLot{ProductID: productID, LotNumber: "IT-EXPIRED", Quantity: 9, ExpiryDate: today.AddDate(0, 0, -1)}); err != nil {
		t.Fatalf("insert expired lot: %v", err)
	}

	if err := s.DepleteStock(ctx, productID, 7); err != nil {
		t.Fatalf("deplete: %v", err)
	}

	lots, err := s.ListLotsForProduct(ctx, productID)
	if err != nil {
		t.Fatalf("list lots: %v", err)
	}
	quantities := make(map[int64]int, len(lots))
	for _, lot := range lots {
		quantities[lot.ID] = lot.Quantity
	}
	if quantities[soon.ID] != 0 {
		t.Fatalf("expected soonest lot drained, got %d", quantities[soon.ID])
	}
	if quantities[late.ID] != 3 {
		t.Fatalf("expected later lot at 3, got %d", quantities[late.ID])
	}

	product, err := s.GetProductByID(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.StockTotal != 3 {
		t.Fatalf("expected stock total 3 (expired excluded), got %d", product.StockTotal)
	}
}

func TestDepleteStockInsufficientRollsBack(t *testing.T) {
	s, ctx := newIntegrationStore(t)
	productID := seedIntegrationProduct(t, s, ctx)

	today := nowDateUTC(time.Now().UTC())
	if _, err := s.InsertLot(ctx, domain.StockLot{ProductID: productID, LotNumber: "IT-ONLY", Quantity: 5, ExpiryDate: today.AddDate(0, 1, 0)}); err != nil {
		t.Fatalf("insert lot: %v", err)
	}

	err := s.DepleteStock(ctx, productID, 6)
	var insufficient *store.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.Requested != 6 || insufficient.Available != 5 {
		t.Fatalf("expected requested=6 available=5, got %+v", insufficient)
	}

	product, err := s.GetProductByID(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.StockTotal != 5 {
		t.Fatalf("expected stock untouched at 5, got %d", product.StockTotal)
	}
}

func TestCreateSaleAtomicAcrossLines(t *testing.T) {
	s, ctx := newIntegrationStore(t)
	okProduct := seedIntegrationProduct(t, s, ctx)
	shortProduct := seedIntegrationProduct(t, s, ctx)

	today := nowDateUTC(time.Now().UTC())
	if _, err := s.InsertLot(ctx, domain.StockLot{ProductID: okProduct, LotNumber: "IT-OK", Quantity: 10, ExpiryDate: today.AddDate(0, 1, 0)}); err != nil {
		t.Fatalf("insert lot: %v", err)
	}
	if _, err := s.InsertLot(ctx, domain.StockLot{ProductID: shortProduct, LotNumber: "IT-SHORT", Quantity: 1, ExpiryDate: today.AddDate(0, 1, 0)}); err != nil {
		t.Fatalf("insert lot: %v", err)
	}

	pharmacist, err := s.CreatePharmacist(ctx, domain.Pharmacist{Name: fmt.Sprintf("IT Pharmacist %d", time.Now().UnixNano())})
	if err != nil {
		t.Fatalf("create pharmacist: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM pharmacists WHERE id = $1`, pharmacist.ID)
	})

	_, err = s.CreateSale(ctx, domain.Sale{
		PharmacistID:  pharmacist.ID,
		TotalCents:    30000,
		TenderedCents: 30000,
		Lines: []domain.SaleLine{
			{ProductID: okProduct, Quantity: 4, UnitPriceCents: 2500, LineTotalCents: 10000},
			{ProductID: shortProduct, Quantity: 2, UnitPriceCents: 2500, LineTotalCents: 5000},
		},
	})
	var insufficient *store.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}

	product, err := s.GetProductByID(ctx, okProduct)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.StockTotal != 10 {
		t.Fatalf("expected first line rolled back to 10, got %d", product.StockTotal)
	}
}

func TestRefreshAllProductTotalsRollsBackWhenOneProductFails(t *testing.T) {
	s, ctx := newIntegrationStore(t)
	healthyID := seedIntegrationProduct(t, s, ctx)
	blockedID := seedIntegrationProduct(t, s, ctx)

	today := nowDateUTC(time.Now().UTC())
	if _, err := s.InsertLot(ctx, domain.StockLot{ProductID: healthyID, LotNumber: "IT-HEALTHY", Quantity: 12, ExpiryDate: today.AddDate(0, 3, 0)}); err != nil {
		t.Fatalf("insert lot: %v", err)
	}
	if _, err := s.InsertLot(ctx, domain.StockLot{ProductID: blockedID, LotNumber: "IT-BLOCKED", Quantity: 4, ExpiryDate: today.AddDate(0, 3, 0)}); err != nil {
		t.Fatalf("insert lot: %v", err)
	}

	// Make one product's recompute fail mid-batch.
	if _, err := s.db.ExecContext(ctx, `
		CREATE OR REPLACE FUNCTION it_block_total_refresh() RETURNS trigger AS $$
		BEGIN
			RAISE EXCEPTION 'total refresh blocked';
		END;
		$$ LANGUAGE plpgsql
	`); err != nil {
		t.Fatalf("create trigger function: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TRIGGER it_block_total_refresh_trg
		BEFORE UPDATE ON products
		FOR EACH ROW
		WHEN (NEW.id = %d)
		EXECUTE FUNCTION it_block_total_refresh()
	`, blockedID)); err != nil {
		t.Fatalf("create trigger: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DROP TRIGGER IF EXISTS it_block_total_refresh_trg ON products`)
		_, _ = s.db.ExecContext(ctx, `DROP FUNCTION IF EXISTS it_block_total_refresh()`)
	})

	// Drift on the healthy product makes a rolled-back batch observable.
	if _, err := s.db.ExecContext(ctx, `UPDATE products SET stock_total = 999 WHERE id = $1`, healthyID); err != nil {
		t.Fatalf("force drift: %v", err)
	}

	ok, err := s.RefreshAllProductTotals(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if ok {
		t.Fatalf("expected refresh to report a failed product")
	}

	product, err := s.GetProductByID(ctx, healthyID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.StockTotal != 999 {
		t.Fatalf("expected whole batch rolled back leaving drift at 999, got %d", product.StockTotal)
	}
}

func TestListUsersOrderedByUsername(t *testing.T) {
	s, ctx := newIntegrationStore(t)

	stamp := time.Now().UnixNano()
	for _, username := range []string{fmt.Sprintf("it-zed-%d", stamp), fmt.Sprintf("it-ana-%d", stamp)} {
		err := s.CreateUser(ctx, domain.UserAccount{
			Username: username,
			Password: mustHashBcrypt(t, "integration-pass"),
			Role:     domain.RolePharmacist,
			Active:   true,
		})
		if err != nil {
			t.Fatalf("create user %s: %v", username, err)
		}
		t.Cleanup(func() {
			_, _ = s.db.ExecContext(ctx, `DELETE FROM users WHERE username = $1`, username)
		})
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	for i := 1; i < len(users); i++ {
		if users[i-1].Username > users[i].Username {
			t.Fatalf("expected usernames in order, got %q before %q", users[i-1].Username, users[i].Username)
		}
	}
}

func TestRefreshAllProductTotalsCorrectsDrift(t *testing.T) {
	s, ctx := newIntegrationStore(t)
	productID := seedIntegrationProduct(t, s, ctx)

	today := nowDateUTC(time.Now().UTC())
	if _, err := s.InsertLot(ctx, domain.StockLot{ProductID: productID, LotNumber: "IT-DRIFT", Quantity: 12, ExpiryDate: today.AddDate(0, 3, 0)}); err != nil {
		t.Fatalf("insert lot: %v", err)
	}

	// Force drift directly, bypassing the recompute paths.
	if _, err := s.db.ExecContext(ctx, `UPDATE products SET stock_total = 999 WHERE id = $1`, productID); err != nil {
		t.Fatalf("force drift: %v", err)
	}

	ok, err := s.RefreshAllProductTotals(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !ok {
		t.Fatalf("expected refresh to succeed for all products")
	}

	product, err := s.GetProductByID(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.StockTotal != 12 {
		t.Fatalf("expected drift corrected to 12, got %d", product.StockTotal)
	}
}
