// Package memory provides an in-memory Repository used for local
// development and tests. It mirrors the postgres store's semantics,
// including depletion atomicity, without needing a database.
package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"apotekku/backend/internal/domain"
	"apotekku/backend/internal/store"
	"apotekku/backend/internal/xid"
)

type Store struct {
	mu sync.RWMutex

	products     map[int64]domain.Product
	lotsByProd   map[int64][]domain.StockLot
	sales        map[int64]domain.Sale
	clients      map[int64]domain.Client
	pharmacists  map[int64]domain.Pharmacist
	auditLogs    []domain.AuditLog
	users        map[string]domain.UserAccount

	nextProductID    int64
	nextLotID        int64
	nextSaleID       int64
	nextSaleLineID   int64
	nextClientID     int64
	nextPharmacistID int64
}

func New() *Store {
	return &Store{
		products:    make(map[int64]domain.Product),
		lotsByProd:  make(map[int64][]domain.StockLot),
		sales:       make(map[int64]domain.Sale),
		clients:     make(map[int64]domain.Client),
		pharmacists: make(map[int64]domain.Pharmacist),
		users:       make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store preloaded with a small pharmacy catalog so a
// fresh dev server has something to sell.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	today := dateUTC(now)

	paracetamol, _ := s.CreateProduct(context.Background(), domain.Product{
		Name: "Paracetamol 500mg", Description: "Analgesic, strip of 10",
		PurchasePriceCents: 800, SalePriceCents: 1500, AlertThreshold: 20,
	})
	amoxicillin, _ := s.CreateProduct(context.Background(), domain.Product{
		Name: "Amoxicillin 500mg", Description: "Antibiotic, strip of 10",
		PurchasePriceCents: 2500, SalePriceCents: 4200, AlertThreshold: 10,
	})
	vitaminC, _ := s.CreateProduct(context.Background(), domain.Product{
		Name: "Vitamin C 1000mg", Description: "Supplement, bottle of 30",
		PurchasePriceCents: 3000, SalePriceCents: 5500, AlertThreshold: 15,
	})

	seedLots := []domain.StockLot{
		{ProductID: paracetamol.ID, LotNumber: "PCM-2406", Quantity: 40, ExpiryDate: today.AddDate(0, 2, 0)},
		{ProductID: paracetamol.ID, LotNumber: "PCM-2409", Quantity: 60, ExpiryDate: today.AddDate(0, 8, 0)},
		{ProductID: amoxicillin.ID, LotNumber: "AMX-2405", Quantity: 25, ExpiryDate: today.AddDate(0, 1, 15)},
		{ProductID: vitaminC.ID, LotNumber: "VTC-2412", Quantity: 30, ExpiryDate: today.AddDate(1, 0, 0)},
	}
	for _, lot := range seedLots {
		lot.ReceivedAt = now
		if _, err := s.InsertLot(context.Background(), lot); err != nil {
			log.Printf("[memory] WARN: seed lot insert failed: %v", err)
		}
	}

	_, _ = s.CreateClient(context.Background(), domain.Client{Name: "Walk-in", Phone: "", Address: ""})
	_, _ = s.CreatePharmacist(context.Background(), domain.Pharmacist{Name: "Sari Dewi", Phone: "0812000111", Username: "sari"})

	s.seedUsers()
	return s
}

func (s *Store) seedUsers() {
	adminPassword := os.Getenv("SEED_ADMIN_PASSWORD")
	if adminPassword == "" {
		adminPassword = "admin123"
		log.Printf("[memory] WARN: SEED_ADMIN_PASSWORD not set, using default dev password")
	}
	pharmacistPassword := os.Getenv("SEED_PHARMACIST_PASSWORD")
	if pharmacistPassword == "" {
		pharmacistPassword = "apotek123"
		log.Printf("[memory] WARN: SEED_PHARMACIST_PASSWORD not set, using default dev password")
	}

	now := time.Now().UTC()
	for _, seed := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPassword, domain.RoleAdmin},
		{"sari", pharmacistPassword, domain.RolePharmacist},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(seed.password), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("[memory] WARN: seed user %s skipped: %v", seed.username, err)
			continue
		}
		_ = s.CreateUser(context.Background(), domain.UserAccount{
			Username:  seed.username,
			Password:  string(hash),
			Role:      seed.role,
			Active:    true,
			CreatedAt: now,
		})
	}
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

func (s *Store) ListProductIDs(ctx context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.products))
	for id := range s.products {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.SalePriceCents < 1 || product.PurchasePriceCents < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextProductID++
	product.ID = s.nextProductID
	product.StockTotal = 0
	s.products[product.ID] = product

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID < 1 || product.Name == "" || product.SalePriceCents < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	product.StockTotal = existing.StockTotal
	s.products[product.ID] = product

	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.products, id)
	delete(s.lotsByProd, id)
	return nil
}

func (s *Store) ListLotsForProduct(ctx context.Context, productID int64) ([]domain.StockLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lots := cloneLots(s.lotsByProd[productID])
	sort.Slice(lots, func(i, j int) bool { return lots[i].ID < lots[j].ID })
	return lots, nil
}

func (s *Store) ListSellableLotsForProduct(ctx context.Context, productID int64) ([]domain.StockLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	today := dateUTC(time.Now().UTC())
	return sellableLots(s.lotsByProd[productID], today), nil
}

func (s *Store) ListExpiredLots(ctx context.Context) ([]domain.StockLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	today := dateUTC(time.Now().UTC())
	expired := make([]domain.StockLot, 0, 8)
	for _, lots := range s.lotsByProd {
		for _, lot := range lots {
			if lot.ExpiryDate.Before(today) {
				expired = append(expired, lot)
			}
		}
	}
	sortByExpiry(expired)
	return expired, nil
}

func (s *Store) ListLotsExpiringWithin(ctx context.Context, days int) ([]domain.StockLot, error) {
	if days < 0 {
		days = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	today := dateUTC(time.Now().UTC())
	until := today.AddDate(0, 0, days)
	expiring := make([]domain.StockLot, 0, 8)
	for _, lots := range s.lotsByProd {
		for _, lot := range lots {
			if !lot.ExpiryDate.Before(today) && !lot.ExpiryDate.After(until) {
				expiring = append(expiring, lot)
			}
		}
	}
	sortByExpiry(expiring)
	return expiring, nil
}

func (s *Store) InsertLot(ctx context.Context, lot domain.StockLot) (*domain.StockLot, error) {
	if lot.ProductID < 1 || lot.Quantity < 0 || lot.ExpiryDate.IsZero() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[lot.ProductID]; !ok {
		return nil, store.ErrNotFound
	}

	s.nextLotID++
	lot.ID = s.nextLotID
	lot.ExpiryDate = dateUTC(lot.ExpiryDate.UTC())
	if lot.ReceivedAt.IsZero() {
		lot.ReceivedAt = time.Now().UTC()
	}
	s.lotsByProd[lot.ProductID] = append(s.lotsByProd[lot.ProductID], lot)
	s.recomputeTotalLocked(lot.ProductID)

	created := lot
	return &created, nil
}

func (s *Store) UpdateLotQuantity(ctx context.Context, lotID int64, newQuantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for productID, lots := range s.lotsByProd {
		for i := range lots {
			if lots[i].ID == lotID {
				lots[i].Quantity = newQuantity
				s.recomputeTotalLocked(productID)
				return nil
			}
		}
	}
	return store.ErrNotFound
}

func (s *Store) DeleteLot(ctx context.Context, lotID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for productID, lots := range s.lotsByProd {
		for i := range lots {
			if lots[i].ID == lotID {
				s.lotsByProd[productID] = append(lots[:i:i], lots[i+1:]...)
				s.recomputeTotalLocked(productID)
				return nil
			}
		}
	}
	return store.ErrNotFound
}

func (s *Store) RecomputeProductTotal(ctx context.Context, productID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[productID]; !ok {
		return store.ErrNotFound
	}
	s.recomputeTotalLocked(productID)
	return nil
}

func (s *Store) RefreshAllProductTotals(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.products {
		s.recomputeTotalLocked(id)
	}
	return true, nil
}

// DepleteStock consumes quantity units soonest-expiring first. The walk
// mutates a cloned lot slice and only swaps it in once the full quantity
// is satisfied, so a failed depletion leaves no partial decrement behind.
func (s *Store) DepleteStock(ctx context.Context, productID int64, quantity int) error {
	if quantity <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.depleteLocked(productID, quantity)
}

func (s *Store) depleteLocked(productID int64, quantity int) error {
	if _, ok := s.products[productID]; !ok {
		return store.ErrNotFound
	}

	today := dateUTC(time.Now().UTC())
	lots := cloneLots(s.lotsByProd[productID])

	available := 0
	for _, lot := range lots {
		if lot.Quantity > 0 && !lot.ExpiryDate.Before(today) {
			available += lot.Quantity
		}
	}
	if available < quantity {
		return &store.InsufficientStockError{ProductID: productID, Requested: quantity, Available: available}
	}

	order := sellableIndexes(lots, today)
	remaining := quantity
	for _, idx := range order {
		if remaining == 0 {
			break
		}
		used := remaining
		if used > lots[idx].Quantity {
			used = lots[idx].Quantity
		}
		lots[idx].Quantity -= used
		remaining -= used
	}

	s.lotsByProd[productID] = lots
	s.recomputeTotalLocked(productID)
	return nil
}

func (s *Store) recomputeTotalLocked(productID int64) {
	product, ok := s.products[productID]
	if !ok {
		return
	}
	today := dateUTC(time.Now().UTC())
	total := 0
	for _, lot := range s.lotsByProd[productID] {
		if !lot.ExpiryDate.Before(today) {
			total += lot.Quantity
		}
	}
	product.StockTotal = total
	s.products[productID] = product
}

// CreateSale snapshots the lot state of every touched product before the
// per-line depletions, and restores it wholesale if any line fails.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[int64][]domain.StockLot)
	for _, line := range sale.Lines {
		if _, seen := snapshot[line.ProductID]; !seen {
			snapshot[line.ProductID] = cloneLots(s.lotsByProd[line.ProductID])
		}
	}

	s.nextSaleID++
	sale.ID = s.nextSaleID
	for i := range sale.Lines {
		s.nextSaleLineID++
		sale.Lines[i].ID = s.nextSaleLineID
		sale.Lines[i].SaleID = sale.ID

		if err := s.depleteLocked(sale.Lines[i].ProductID, sale.Lines[i].Quantity); err != nil {
			for productID, lots := range snapshot {
				s.lotsByProd[productID] = lots
				s.recomputeTotalLocked(productID)
			}
			return nil, err
		}
	}

	s.sales[sale.ID] = cloneSale(sale)

	created := cloneSale(sale)
	return &created, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneSale(sale)
	return &found, nil
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		sales = append(sales, cloneSale(sale))
	}
	sort.Slice(sales, func(i, j int) bool {
		if sales[i].CreatedAt.Equal(sales[j].CreatedAt) {
			return sales[i].ID > sales[j].ID
		}
		return sales[i].CreatedAt.After(sales[j].CreatedAt)
	})
	if len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) ListClients(ctx context.Context) ([]domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]domain.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].Name < clients[j].Name })
	return clients, nil
}

func (s *Store) CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error) {
	if client.Name == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextClientID++
	client.ID = s.nextClientID
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}
	s.clients[client.ID] = client

	created := client
	return &created, nil
}

func (s *Store) GetClientByID(ctx context.Context, id int64) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &client, nil
}

func (s *Store) UpdateClient(ctx context.Context, client domain.Client) (*domain.Client, error) {
	if client.ID < 1 || client.Name == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.clients[client.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	client.CreatedAt = existing.CreatedAt
	s.clients[client.ID] = client

	updated := client
	return &updated, nil
}

func (s *Store) DeleteClient(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.clients, id)
	return nil
}

func (s *Store) ListPharmacists(ctx context.Context) ([]domain.Pharmacist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pharmacists := make([]domain.Pharmacist, 0, len(s.pharmacists))
	for _, p := range s.pharmacists {
		pharmacists = append(pharmacists, p)
	}
	sort.Slice(pharmacists, func(i, j int) bool { return pharmacists[i].Name < pharmacists[j].Name })
	return pharmacists, nil
}

func (s *Store) CreatePharmacist(ctx context.Context, pharmacist domain.Pharmacist) (*domain.Pharmacist, error) {
	if pharmacist.Name == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextPharmacistID++
	pharmacist.ID = s.nextPharmacistID
	if pharmacist.CreatedAt.IsZero() {
		pharmacist.CreatedAt = time.Now().UTC()
	}
	s.pharmacists[pharmacist.ID] = pharmacist

	created := pharmacist
	return &created, nil
}

func (s *Store) GetPharmacistByID(ctx context.Context, id int64) (*domain.Pharmacist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pharmacist, ok := s.pharmacists[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &pharmacist, nil
}

func (s *Store) DeletePharmacist(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pharmacists[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.pharmacists, id)
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(logs) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

func sellableLots(lots []domain.StockLot, today time.Time) []domain.StockLot {
	sellable := make([]domain.StockLot, 0, len(lots))
	for _, lot := range lots {
		if lot.Quantity > 0 && !lot.ExpiryDate.Before(today) {
			sellable = append(sellable, lot)
		}
	}
	sortByExpiry(sellable)
	return sellable
}

// sellableIndexes returns the indexes of sellable lots in depletion order:
// soonest expiry first, lower id breaking ties.
func sellableIndexes(lots []domain.StockLot, today time.Time) []int {
	order := make([]int, 0, len(lots))
	for i, lot := range lots {
		if lot.Quantity > 0 && !lot.ExpiryDate.Before(today) {
			order = append(order, i)
		}
	}
	sort.Slice(order, func(a, b int) bool {
		li, lj := lots[order[a]], lots[order[b]]
		if li.ExpiryDate.Equal(lj.ExpiryDate) {
			return li.ID < lj.ID
		}
		return li.ExpiryDate.Before(lj.ExpiryDate)
	})
	return order
}

func sortByExpiry(lots []domain.StockLot) {
	sort.Slice(lots, func(i, j int) bool {
		if lots[i].ExpiryDate.Equal(lots[j].ExpiryDate) {
			return lots[i].ID < lots[j].ID
		}
		return lots[i].ExpiryDate.Before(lots[j].ExpiryDate)
	})
}

func cloneLots(lots []domain.StockLot) []domain.StockLot {
	out := make([]domain.StockLot, len(lots))
	copy(out, lots)
	return out
}

func cloneSale(sale domain.Sale) domain.Sale {
	out := sale
	out.Lines = make([]domain.SaleLine, len(sale.Lines))
	copy(out.Lines, sale.Lines)
	if sale.ClientID != nil {
		id := *sale.ClientID
		out.ClientID = &id
	}
	return out
}

func dateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}
