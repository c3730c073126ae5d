package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"apotekku/backend/internal/alerts"
	"apotekku/backend/internal/domain"
	"apotekku/backend/internal/store"
	"apotekku/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	engine := alerts.NewEngine(nil, 0, 30)
	return New(repo, engine, "Apotek Uji"), repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func productIDByName(t *testing.T, svc *Service, name string) int64 {
	t.Helper()

	products, err := svc.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	for _, p := range products {
		if p.Name == name {
			return p.ID
		}
	}
	t.Fatalf("seed product %q not found", name)
	return 0
}

func TestRecordSaleComputesTotalsAndChange(t *testing.T) {
	svc, _ := newTestService()
	paracetamol := productIDByName(t, svc, "Paracetamol 500mg")

	sale, err := svc.RecordSale(context.Background(), domain.SaleCreateRequest{
		PharmacistID:  1,
		TenderedCents: 5000,
		Lines: []domain.SaleLineRequest{
			{ProductID: paracetamol, Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}

	if sale.TotalCents != 3000 {
		t.Fatalf("expected total 3000, got %d", sale.TotalCents)
	}
	if sale.ChangeCents != 2000 {
		t.Fatalf("expected change 2000, got %d", sale.ChangeCents)
	}
	if sale.Lines[0].UnitPriceCents != 1500 || sale.Lines[0].LineTotalCents != 3000 {
		t.Fatalf("unexpected line pricing: %+v", sale.Lines[0])
	}

	product, err := svc.GetProduct(context.Background(), paracetamol)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.StockTotal != 98 {
		t.Fatalf("expected stock total 98 after sale, got %d", product.StockTotal)
	}
}

func TestRecordSaleRejectsShortTender(t *testing.T) {
	svc, _ := newTestService()
	paracetamol := productIDByName(t, svc, "Paracetamol 500mg")

	_, err := svc.RecordSale(context.Background(), domain.SaleCreateRequest{
		PharmacistID:  1,
		TenderedCents: 1000,
		Lines: []domain.SaleLineRequest{
			{ProductID: paracetamol, Quantity: 2},
		},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for short tender, got %v", err)
	}
}

func TestRecordSaleRejectsNonPositiveQuantity(t *testing.T) {
	svc, _ := newTestService()
	paracetamol := productIDByName(t, svc, "Paracetamol 500mg")

	for _, quantity := range []int{0, -1} {
		_, err := svc.RecordSale(context.Background(), domain.SaleCreateRequest{
			PharmacistID:  1,
			TenderedCents: 10000,
			Lines: []domain.SaleLineRequest{
				{ProductID: paracetamol, Quantity: quantity},
			},
		})
		if !errors.Is(err, store.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for quantity %d, got %v", quantity, err)
		}
	}
}

func TestRecordSaleUnknownPharmacist(t *testing.T) {
	svc, _ := newTestService()
	paracetamol := productIDByName(t, svc, "Paracetamol 500mg")

	_, err := svc.RecordSale(context.Background(), domain.SaleCreateRequest{
		PharmacistID:  99,
		TenderedCents: 5000,
		Lines: []domain.SaleLineRequest{
			{ProductID: paracetamol, Quantity: 1},
		},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown pharmacist, got %v", err)
	}
}

func TestRecordSaleInsufficientStock(t *testing.T) {
	svc, _ := newTestService()
	amoxicillin := productIDByName(t, svc, "Amoxicillin 500mg")

	_, err := svc.RecordSale(context.Background(), domain.SaleCreateRequest{
		PharmacistID:  1,
		TenderedCents: 9999999,
		Lines: []domain.SaleLineRequest{
			{ProductID: amoxicillin, Quantity: 26},
		},
	})
	var insufficient *store.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.Requested != 26 || insufficient.Available != 25 {
		t.Fatalf("expected requested=26 available=25, got %+v", insufficient)
	}

	product, _ := svc.GetProduct(context.Background(), amoxicillin)
	if product.StockTotal != 25 {
		t.Fatalf("expected stock untouched at 25, got %d", product.StockTotal)
	}
}

func TestRecordSaleFreezesUnitPrice(t *testing.T) {
	svc, _ := newTestService()
	paracetamol := productIDByName(t, svc, "Paracetamol 500mg")

	sale, err := svc.RecordSale(context.Background(), domain.SaleCreateRequest{
		PharmacistID:  1,
		TenderedCents: 2000,
		Lines: []domain.SaleLineRequest{
			{ProductID: paracetamol, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}

	newPrice := int64(9000)
	if _, err := svc.UpdateProduct(adminCtx(), paracetamol, domain.ProductUpdateRequest{SalePriceCents: &newPrice}); err != nil {
		t.Fatalf("update price: %v", err)
	}

	fetched, err := svc.GetSale(context.Background(), sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if fetched.Lines[0].UnitPriceCents != 1500 {
		t.Fatalf("expected unit price frozen at 1500, got %d", fetched.Lines[0].UnitPriceCents)
	}
}

func TestWriteOffStockDrainsSoonestLotFirst(t *testing.T) {
	svc, repo := newTestService()
	paracetamol := productIDByName(t, svc, "Paracetamol 500mg")

	// Seed lots: PCM-2406 (40 units, sooner) and PCM-2409 (60 units, later).
	err := svc.WriteOffStock(context.Background(), domain.StockWriteOffRequest{
		ProductID: paracetamol,
		Quantity:  45,
		Reason:    "water damage in storage",
	})
	if err != nil {
		t.Fatalf("write off: %v", err)
	}

	lots, err := repo.ListLotsForProduct(context.Background(), paracetamol)
	if err != nil {
		t.Fatalf("list lots: %v", err)
	}
	byNumber := make(map[string]int, len(lots))
	for _, lot := range lots {
		byNumber[lot.LotNumber] = lot.Quantity
	}
	if byNumber["PCM-2406"] != 0 || byNumber["PCM-2409"] != 55 {
		t.Fatalf("expected PCM-2406=0 PCM-2409=55, got %v", byNumber)
	}
}

func TestWriteOffStockRequiresReason(t *testing.T) {
	svc, _ := newTestService()
	paracetamol := productIDByName(t, svc, "Paracetamol 500mg")

	err := svc.WriteOffStock(context.Background(), domain.StockWriteOffRequest{
		ProductID: paracetamol,
		Quantity:  1,
		Reason:    "   ",
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestReceiveStockLot(t *testing.T) {
	svc, _ := newTestService()
	vitaminC := productIDByName(t, svc, "Vitamin C 1000mg")

	lot, err := svc.ReceiveStockLot(context.Background(), domain.StockLotReceiveRequest{
		ProductID:  vitaminC,
		LotNumber:  "VTC-2501",
		Quantity:   12,
		ExpiryDate: time.Now().UTC().AddDate(0, 6, 0).Format("2006-01-02"),
	})
	if err != nil {
		t.Fatalf("receive lot: %v", err)
	}
	if lot.ID < 1 || lot.Quantity != 12 {
		t.Fatalf("unexpected lot: %+v", lot)
	}

	product, _ := svc.GetProduct(context.Background(), vitaminC)
	if product.StockTotal != 42 {
		t.Fatalf("expected stock total 42 after receipt, got %d", product.StockTotal)
	}
}

func TestReceiveStockLotRejectsBadDate(t *testing.T) {
	svc, _ := newTestService()
	vitaminC := productIDByName(t, svc, "Vitamin C 1000mg")

	_, err := svc.ReceiveStockLot(context.Background(), domain.StockLotReceiveRequest{
		ProductID:  vitaminC,
		Quantity:   5,
		ExpiryDate: "06/30/2027",
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad date, got %v", err)
	}
}

func TestRefreshStockTotals(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.RefreshStockTotals(adminCtx())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !resp.AllSucceeded {
		t.Fatalf("expected all_succeeded true")
	}
	if resp.RefreshedAt == "" {
		t.Fatalf("expected refreshed_at timestamp")
	}
}

func TestStockAlertsFlagsLowStockAndExpiredLots(t *testing.T) {
	svc, repo := newTestService()

	outOfStock, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name:           "OralitSachet",
		SalePriceCents: 500,
		AlertThreshold: 5,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	expired, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name:           "Cough Syrup 60ml",
		SalePriceCents: 3500,
		AlertThreshold: 2,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if _, err := repo.InsertLot(context.Background(), domain.StockLot{
		ProductID:  expired.ID,
		LotNumber:  "CSY-OLD",
		Quantity:   4,
		ExpiryDate: time.Now().UTC().AddDate(0, 0, -3),
	}); err != nil {
		t.Fatalf("insert expired lot: %v", err)
	}

	report, err := svc.StockAlerts(context.Background())
	if err != nil {
		t.Fatalf("stock alerts: %v", err)
	}
	if report.WindowDays != 30 {
		t.Fatalf("expected window 30, got %d", report.WindowDays)
	}

	var sawLowStock, sawExpired bool
	for _, alert := range report.Alerts {
		if alert.Code == domain.AlertLowStock && alert.ProductID == outOfStock.ID {
			sawLowStock = true
			if alert.Severity != "critical" {
				t.Fatalf("expected critical severity for zero stock, got %s", alert.Severity)
			}
		}
		if alert.Code == domain.AlertExpiredLot && alert.ProductID == expired.ID {
			sawExpired = true
		}
	}
	if !sawLowStock || !sawExpired {
		t.Fatalf("expected low stock and expired alerts, got %+v", report.Alerts)
	}
}

func TestBuildReceipt(t *testing.T) {
	svc, _ := newTestService()
	paracetamol := productIDByName(t, svc, "Paracetamol 500mg")

	sale, err := svc.RecordSale(context.Background(), domain.SaleCreateRequest{
		PharmacistID:  1,
		TenderedCents: 5000,
		Lines: []domain.SaleLineRequest{
			{ProductID: paracetamol, Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}

	receipt, err := svc.BuildReceipt(context.Background(), sale.ID)
	if err != nil {
		t.Fatalf("build receipt: %v", err)
	}
	if receipt.SaleID != sale.ID {
		t.Fatalf("expected receipt for sale %d, got %d", sale.ID, receipt.SaleID)
	}
	if receipt.EscposBase64 == "" {
		t.Fatalf("expected escpos payload")
	}
	if !strings.Contains(receipt.PreviewText, "Paracetamol 500mg x2") {
		t.Fatalf("expected line item in preview, got:\n%s", receipt.PreviewText)
	}
	if !strings.Contains(receipt.PreviewText, "Apotek Uji") {
		t.Fatalf("expected pharmacy name in preview")
	}
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()
	ctx := WithActor(context.Background(), domain.Actor{Username: "sari", Role: domain.RolePharmacist})

	_, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Name:           "Restricted Item",
		SalePriceCents: 100,
	})
	if err == nil || !strings.Contains(err.Error(), "admin role required") {
		t.Fatalf("expected admin role error, got %v", err)
	}
}

func TestEnsurePharmacistForUsernameReturnsExisting(t *testing.T) {
	svc, _ := newTestService()

	pharmacist, err := svc.EnsurePharmacistForUsername(adminCtx(), "sari")
	if err != nil {
		t.Fatalf("ensure pharmacist: %v", err)
	}
	if pharmacist.Name != "Sari Dewi" {
		t.Fatalf("expected seeded record for sari, got %+v", pharmacist)
	}

	pharmacists, err := svc.ListPharmacists(context.Background())
	if err != nil {
		t.Fatalf("list pharmacists: %v", err)
	}
	if len(pharmacists) != 1 {
		t.Fatalf("expected no duplicate record, got %d pharmacists", len(pharmacists))
	}
}

func TestEnsurePharmacistForUsernameCreatesRecord(t *testing.T) {
	svc, _ := newTestService()

	created, err := svc.EnsurePharmacistForUsername(adminCtx(), "budi")
	if err != nil {
		t.Fatalf("ensure pharmacist: %v", err)
	}
	if created.ID < 1 || created.Username != "budi" {
		t.Fatalf("unexpected record: %+v", created)
	}

	again, err := svc.EnsurePharmacistForUsername(adminCtx(), "BUDI")
	if err != nil {
		t.Fatalf("ensure pharmacist again: %v", err)
	}
	if again.ID != created.ID {
		t.Fatalf("expected match on existing record, got %d and %d", created.ID, again.ID)
	}
}

func TestListSalesRejectsInvertedRange(t *testing.T) {
	svc, _ := newTestService()

	from := time.Now().UTC()
	to := from.AddDate(0, 0, -1)
	if _, err := svc.ListSales(context.Background(), from, to, 10); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for inverted range, got %v", err)
	}
}
