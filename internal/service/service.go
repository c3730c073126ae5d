package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"time"

	"apotekku/backend/internal/alerts"
	"apotekku/backend/internal/domain"
	"apotekku/backend/internal/store"
	"apotekku/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo         store.Repository
	alertEngine  *alerts.Engine
	pharmacyName string
}

func New(repo store.Repository, alertEngine *alerts.Engine, pharmacyName string) *Service {
	if pharmacyName == "" {
		pharmacyName = "Apotek Kita"
	}

	return &Service{
		repo:         repo,
		alertEngine:  alertEngine,
		pharmacyName: pharmacyName,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.SalePriceCents < 1 || req.PurchasePriceCents < 0 || req.AlertThreshold < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:               req.Name,
		Description:        strings.TrimSpace(req.Description),
		PurchasePriceCents: req.PurchasePriceCents,
		SalePriceCents:     req.SalePriceCents,
		AlertThreshold:     req.AlertThreshold,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", fmt.Sprintf("%d", created.ID), fmt.Sprintf("name=%s,sale_price=%d", created.Name, created.SalePriceCents))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.PurchasePriceCents != nil {
		if *req.PurchasePriceCents < 0 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.PurchasePriceCents = *req.PurchasePriceCents
	}
	if req.SalePriceCents != nil {
		if *req.SalePriceCents < 1 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.SalePriceCents = *req.SalePriceCents
	}
	if req.AlertThreshold != nil {
		if *req.AlertThreshold < 0 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.AlertThreshold = *req.AlertThreshold
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", fmt.Sprintf("%d", saved.ID), fmt.Sprintf("name=%s", saved.Name))
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}

	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "product_delete", "product", fmt.Sprintf("%d", id), "")
	return nil
}

func (s *Service) ListLots(ctx context.Context, productID int64) ([]domain.StockLot, error) {
	if _, err := s.repo.GetProductByID(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListLotsForProduct(ctx, productID)
}

func (s *Service) ListSellableLots(ctx context.Context, productID int64) ([]domain.StockLot, error) {
	if _, err := s.repo.GetProductByID(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListSellableLotsForProduct(ctx, productID)
}

// ReceiveStockLot records a delivered batch. The expiry date is a plain
// calendar date; receiving an already-expired lot is allowed (it lands on
// the shelf and the alert report flags it) but it never counts as
// sellable stock.
func (s *Service) ReceiveStockLot(ctx context.Context, req domain.StockLotReceiveRequest) (domain.StockLot, error) {
	if req.ProductID < 1 || req.Quantity < 1 {
		return domain.StockLot{}, store.ErrInvalidInput
	}
	expiry, err := time.Parse("2006-01-02", strings.TrimSpace(req.ExpiryDate))
	if err != nil {
		return domain.StockLot{}, store.ErrInvalidInput
	}
	if _, err := s.repo.GetProductByID(ctx, req.ProductID); err != nil {
		return domain.StockLot{}, err
	}

	created, err := s.repo.InsertLot(ctx, domain.StockLot{
		ProductID:  req.ProductID,
		LotNumber:  strings.TrimSpace(req.LotNumber),
		Quantity:   req.Quantity,
		ExpiryDate: expiry,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.StockLot{}, err
	}

	s.logAudit(ctx, "stock_lot_receive", "stock_lot", fmt.Sprintf("%d", created.ID), fmt.Sprintf("product=%d,qty=%d,expiry=%s", created.ProductID, created.Quantity, created.ExpiryDate.Format("2006-01-02")))
	return *created, nil
}

func (s *Service) DeleteStockLot(ctx context.Context, lotID int64) error {
	if err := s.repo.DeleteLot(ctx, lotID); err != nil {
		return err
	}
	s.logAudit(ctx, "stock_lot_delete", "stock_lot", fmt.Sprintf("%d", lotID), "")
	return nil
}

// WriteOffStock removes damaged or recalled stock through the same FEFO
// depletion path a sale uses, so lot state and the cached total stay
// consistent.
func (s *Service) WriteOffStock(ctx context.Context, req domain.StockWriteOffRequest) error {
	if req.ProductID < 1 || req.Quantity < 1 {
		return store.ErrInvalidInput
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return store.ErrInvalidInput
	}
	if _, err := s.repo.GetProductByID(ctx, req.ProductID); err != nil {
		return err
	}

	if err := s.repo.DepleteStock(ctx, req.ProductID, req.Quantity); err != nil {
		return err
	}

	s.logAudit(ctx, "stock_write_off", "product", fmt.Sprintf("%d", req.ProductID), fmt.Sprintf("qty=%d,reason=%s", req.Quantity, reason))
	return nil
}

func (s *Service) RefreshStockTotals(ctx context.Context) (domain.StockRefreshResponse, error) {
	allSucceeded, err := s.repo.RefreshAllProductTotals(ctx)
	if err != nil {
		return domain.StockRefreshResponse{}, err
	}

	s.logAudit(ctx, "stock_totals_refresh", "product", "all", fmt.Sprintf("all_succeeded=%t", allSucceeded))
	return domain.StockRefreshResponse{
		AllSucceeded: allSucceeded,
		RefreshedAt:  time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (s *Service) ExpiredLots(ctx context.Context) ([]domain.StockLot, error) {
	return s.repo.ListExpiredLots(ctx)
}

func (s *Service) ExpiringLots(ctx context.Context) ([]domain.StockLot, error) {
	return s.repo.ListLotsExpiringWithin(ctx, s.alertEngine.WindowDays())
}

func (s *Service) StockAlerts(ctx context.Context) (domain.StockAlertResponse, error) {
	now := time.Now().UTC()
	key := s.alertEngine.CacheKey(now)

	if cached, err := s.alertEngine.Cache().Get(ctx, key); err == nil && cached != nil {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: stock alert cache read failed: %v", err)
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.StockAlertResponse{}, err
	}
	expiring, err := s.repo.ListLotsExpiringWithin(ctx, s.alertEngine.WindowDays())
	if err != nil {
		return domain.StockAlertResponse{}, err
	}
	expired, err := s.repo.ListExpiredLots(ctx)
	if err != nil {
		return domain.StockAlertResponse{}, err
	}

	report := s.alertEngine.Build(products, expiring, expired, now)
	if err := s.alertEngine.Cache().Set(ctx, key, &report, s.alertEngine.CacheTTL()); err != nil {
		log.Printf("[service] WARN: stock alert cache write failed: %v", err)
	}
	return report, nil
}

// RecordSale validates the request, freezes unit prices from the current
// catalog, and hands the whole sale to the repository for atomic
// persistence. Stock sufficiency is the repository's call to make, inside
// its transaction.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	if req.PharmacistID < 1 || len(req.Lines) == 0 {
		return domain.Sale{}, store.ErrInvalidInput
	}
	if _, err := s.repo.GetPharmacistByID(ctx, req.PharmacistID); err != nil {
		return domain.Sale{}, err
	}
	if req.ClientID != nil {
		if _, err := s.repo.GetClientByID(ctx, *req.ClientID); err != nil {
			return domain.Sale{}, err
		}
	}

	lines := make([]domain.SaleLine, 0, len(req.Lines))
	var totalCents int64
	for _, lineReq := range req.Lines {
		if lineReq.Quantity < 1 {
			return domain.Sale{}, store.ErrInvalidInput
		}
		product, err := s.repo.GetProductByID(ctx, lineReq.ProductID)
		if err != nil {
			return domain.Sale{}, err
		}

		lineTotal := product.SalePriceCents * int64(lineReq.Quantity)
		lines = append(lines, domain.SaleLine{
			ProductID:      product.ID,
			Quantity:       lineReq.Quantity,
			UnitPriceCents: product.SalePriceCents,
			LineTotalCents: lineTotal,
		})
		totalCents += lineTotal
	}

	if req.TenderedCents < totalCents {
		return domain.Sale{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateSale(ctx, domain.Sale{
		PharmacistID:  req.PharmacistID,
		ClientID:      req.ClientID,
		TotalCents:    totalCents,
		TenderedCents: req.TenderedCents,
		ChangeCents:   req.TenderedCents - totalCents,
		CreatedAt:     time.Now().UTC(),
		Lines:         lines,
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "sale_record", "sale", fmt.Sprintf("%d", created.ID), fmt.Sprintf("total=%d,lines=%d", created.TotalCents, len(created.Lines)))
	return *created, nil
}

func (s *Service) GetSale(ctx context.Context, id int64) (domain.Sale, error) {
	sale, err := s.repo.GetSaleByID(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if to.IsZero() {
		to = time.Now().UTC().Add(24 * time.Hour)
	}
	if !from.IsZero() && !to.After(from) {
		return nil, store.ErrInvalidInput
	}
	return s.repo.ListSales(ctx, from, to, limit)
}

func (s *Service) BuildReceipt(ctx context.Context, saleID int64) (domain.ReceiptResponse, error) {
	sale, err := s.repo.GetSaleByID(ctx, saleID)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}

	pharmacistName := fmt.Sprintf("#%d", sale.PharmacistID)
	if pharmacist, err := s.repo.GetPharmacistByID(ctx, sale.PharmacistID); err == nil {
		pharmacistName = pharmacist.Name
	}

	lines := []string{
		s.pharmacyName,
		"========================",
		fmt.Sprintf("Sale: %d", sale.ID),
		"Pharmacist: " + pharmacistName,
		"Date: " + sale.CreatedAt.Format("2006-01-02 15:04:05"),
		"------------------------",
	}
	for _, line := range sale.Lines {
		name := fmt.Sprintf("product #%d", line.ProductID)
		if product, err := s.repo.GetProductByID(ctx, line.ProductID); err == nil {
			name = product.Name
		}
		lines = append(lines, fmt.Sprintf("%s x%d", name, line.Quantity))
		lines = append(lines, fmt.Sprintf("  %d", line.LineTotalCents))
	}
	lines = append(lines,
		"------------------------",
		fmt.Sprintf("Total    : %d", sale.TotalCents),
		fmt.Sprintf("Bayar    : %d", sale.TenderedCents),
		fmt.Sprintf("Kembali  : %d", sale.ChangeCents),
		"========================",
		"Semoga lekas sembuh",
		"",
	)

	escpos := []byte{0x1b, 0x40}
	for _, line := range lines {
		escpos = append(escpos, []byte(line)...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, []byte{0x1d, 0x56, 0x41, 0x10}...)

	return domain.ReceiptResponse{
		SaleID:       sale.ID,
		EscposBase64: base64.StdEncoding.EncodeToString(escpos),
		PreviewText:  strings.Join(lines, "\n"),
		FileName:     fmt.Sprintf("receipt-%d.bin", sale.ID),
	}, nil
}

func (s *Service) ListClients(ctx context.Context) ([]domain.Client, error) {
	return s.repo.ListClients(ctx)
}

func (s *Service) CreateClient(ctx context.Context, req domain.ClientCreateRequest) (domain.Client, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Client{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateClient(ctx, domain.Client{
		Name:    req.Name,
		Phone:   strings.TrimSpace(req.Phone),
		Address: strings.TrimSpace(req.Address),
	})
	if err != nil {
		return domain.Client{}, err
	}

	s.logAudit(ctx, "client_create", "client", fmt.Sprintf("%d", created.ID), fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

func (s *Service) GetClient(ctx context.Context, id int64) (domain.Client, error) {
	client, err := s.repo.GetClientByID(ctx, id)
	if err != nil {
		return domain.Client{}, err
	}
	return *client, nil
}

func (s *Service) UpdateClient(ctx context.Context, id int64, req domain.ClientCreateRequest) (domain.Client, error) {
	req.Name = strings.TrimSpace(req.Name)
	if id < 1 || req.Name == "" {
		return domain.Client{}, store.ErrInvalidInput
	}

	updated, err := s.repo.UpdateClient(ctx, domain.Client{
		ID:      id,
		Name:    req.Name,
		Phone:   strings.TrimSpace(req.Phone),
		Address: strings.TrimSpace(req.Address),
	})
	if err != nil {
		return domain.Client{}, err
	}

	s.logAudit(ctx, "client_update", "client", fmt.Sprintf("%d", updated.ID), fmt.Sprintf("name=%s", updated.Name))
	return *updated, nil
}

func (s *Service) DeleteClient(ctx context.Context, id int64) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}

	if err := s.repo.DeleteClient(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "client_delete", "client", fmt.Sprintf("%d", id), "")
	return nil
}

func (s *Service) ListPharmacists(ctx context.Context) ([]domain.Pharmacist, error) {
	return s.repo.ListPharmacists(ctx)
}

func (s *Service) CreatePharmacist(ctx context.Context, req domain.PharmacistCreateRequest) (domain.Pharmacist, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Pharmacist{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Pharmacist{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreatePharmacist(ctx, domain.Pharmacist{
		Name:     req.Name,
		Phone:    strings.TrimSpace(req.Phone),
		Username: strings.TrimSpace(req.Username),
	})
	if err != nil {
		return domain.Pharmacist{}, err
	}

	s.logAudit(ctx, "pharmacist_create", "pharmacist", fmt.Sprintf("%d", created.ID), fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

// EnsurePharmacistForUsername returns the pharmacist record tied to a login
// username, creating one when no record carries it yet. Keeps the pharmacist
// roster in step with user accounts so new logins can record sales.
func (s *Service) EnsurePharmacistForUsername(ctx context.Context, username string) (domain.Pharmacist, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return domain.Pharmacist{}, store.ErrInvalidInput
	}

	pharmacists, err := s.repo.ListPharmacists(ctx)
	if err != nil {
		return domain.Pharmacist{}, err
	}
	for _, pharmacist := range pharmacists {
		if strings.EqualFold(pharmacist.Username, username) {
			return pharmacist, nil
		}
	}

	return s.CreatePharmacist(ctx, domain.PharmacistCreateRequest{Name: username, Username: username})
}

func (s *Service) DeletePharmacist(ctx context.Context, id int64) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}

	if err := s.repo.DeletePharmacist(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "pharmacist_delete", "pharmacist", fmt.Sprintf("%d", id), "")
	return nil
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required")
	}

	if from.IsZero() {
		from = time.Now().UTC().AddDate(0, 0, -7)
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Hour)
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
