package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"apotekku/backend/internal/domain"
	"apotekku/backend/internal/store"
	"apotekku/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, purchase_price_cents, sale_price_cents, stock_total, alert_threshold
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.PurchasePriceCents, &p.SalePriceCents, &p.StockTotal, &p.AlertThreshold); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) ListProductIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0, 128)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ids, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.SalePriceCents < 1 || product.PurchasePriceCents < 0 {
		return nil, store.ErrInvalidInput
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (name, description, purchase_price_cents, sale_price_cents, stock_total, alert_threshold, created_at, updated_at)
		VALUES ($1,$2,$3,$4,0,$5,now(),now())
		RETURNING id
	`, product.Name, product.Description, product.PurchasePriceCents, product.SalePriceCents, product.AlertThreshold).Scan(&product.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, persistErr("product insert", err)
	}

	product.StockTotal = 0
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, purchase_price_cents, sale_price_cents, stock_total, alert_threshold
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.Description, &product.PurchasePriceCents, &product.SalePriceCents, &product.StockTotal, &product.AlertThreshold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID < 1 || product.Name == "" || product.SalePriceCents < 1 {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, description = $3, purchase_price_cents = $4, sale_price_cents = $5, alert_threshold = $6, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Description, product.PurchasePriceCents, product.SalePriceCents, product.AlertThreshold)
	if err != nil {
		return nil, persistErr("product update", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.GetProductByID(ctx, product.ID)
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return persistErr("product delete", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListLotsForProduct(ctx context.Context, productID int64) ([]domain.StockLot, error) {
	return s.queryLots(ctx, `
		SELECT id, product_id, lot_number, quantity, expiry_date, received_at
		FROM stock_lots
		WHERE product_id = $1
		ORDER BY id
	`, productID)
}

// ListSellableLotsForProduct returns lots with remaining quantity and an
// expiry date of today or later, soonest-expiring first. This ordering is
// the contract the depletion walk relies on.
func (s *Store) ListSellableLotsForProduct(ctx context.Context, productID int64) ([]domain.StockLot, error) {
	today := nowDateUTC(time.Now().UTC())
	return s.queryLots(ctx, `
		SELECT id, product_id, lot_number, quantity, expiry_date, received_at
		FROM stock_lots
		WHERE product_id = $1 AND quantity > 0 AND expiry_date >= $2
		ORDER BY expiry_date ASC, id ASC
	`, productID, today)
}

func (s *Store) ListExpiredLots(ctx context.Context) ([]domain.StockLot, error) {
	today := nowDateUTC(time.Now().UTC())
	return s.queryLots(ctx, `
		SELECT id, product_id, lot_number, quantity, expiry_date, received_at
		FROM stock_lots
		WHERE expiry_date < $1
		ORDER BY expiry_date ASC, id ASC
	`, today)
}

func (s *Store) ListLotsExpiringWithin(ctx context.Context, days int) ([]domain.StockLot, error) {
	if days < 0 {
		days = 0
	}
	today := nowDateUTC(time.Now().UTC())
	until := today.AddDate(0, 0, days)
	return s.queryLots(ctx, `
		SELECT id, product_id, lot_number, quantity, expiry_date, received_at
		FROM stock_lots
		WHERE expiry_date >= $1 AND expiry_date <= $2
		ORDER BY expiry_date ASC, id ASC
	`, today, until)
}

func (s *Store) queryLots(ctx context.Context, query string, args ...any) ([]domain.StockLot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lots := make([]domain.StockLot, 0, 16)
	for rows.Next() {
		var lot domain.StockLot
		if err := rows.Scan(&lot.ID, &lot.ProductID, &lot.LotNumber, &lot.Quantity, &lot.ExpiryDate, &lot.ReceivedAt); err != nil {
			return nil, err
		}
		lot.ExpiryDate = nowDateUTC(lot.ExpiryDate.UTC())
		lot.ReceivedAt = lot.ReceivedAt.UTC()
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return lots, nil
}

func (s *Store) InsertLot(ctx context.Context, lot domain.StockLot) (*domain.StockLot, error) {
	if lot.ProductID < 1 || lot.Quantity < 0 || lot.ExpiryDate.IsZero() {
		return nil, store.ErrInvalidInput
	}
	if lot.ReceivedAt.IsZero() {
		lot.ReceivedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, persistErr("lot insert begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO stock_lots (product_id, lot_number, quantity, expiry_date, received_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		RETURNING id
	`, lot.ProductID, lot.LotNumber, lot.Quantity, nowDateUTC(lot.ExpiryDate.UTC()), lot.ReceivedAt).Scan(&lot.ID)
	if err != nil {
		return nil, persistErr("lot insert", err)
	}

	if err := recomputeTotalTx(ctx, tx, lot.ProductID, nowDateUTC(time.Now().UTC())); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, persistErr("lot insert commit", err)
	}

	created := lot
	created.ExpiryDate = nowDateUTC(lot.ExpiryDate.UTC())
	return &created, nil
}

func (s *Store) UpdateLotQuantity(ctx context.Context, lotID int64, newQuantity int) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return persistErr("lot update begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var productID int64
	err = tx.QueryRowContext(ctx, `
		UPDATE stock_lots
		SET quantity = $2, updated_at = now()
		WHERE id = $1
		RETURNING product_id
	`, lotID, newQuantity).Scan(&productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return persistErr("lot update", err)
	}

	if err := recomputeTotalTx(ctx, tx, productID, nowDateUTC(time.Now().UTC())); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return persistErr("lot update commit", err)
	}
	return nil
}

func (s *Store) DeleteLot(ctx context.Context, lotID int64) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return persistErr("lot delete begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var productID int64
	err = tx.QueryRowContext(ctx, `
		DELETE FROM stock_lots
		WHERE id = $1
		RETURNING product_id
	`, lotID).Scan(&productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return persistErr("lot delete", err)
	}

	if err := recomputeTotalTx(ctx, tx, productID, nowDateUTC(time.Now().UTC())); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return persistErr("lot delete commit", err)
	}
	return nil
}

// RecomputeProductTotal rewrites the product's cached stock total as the
// sum of all non-expired lot quantities. No matching lots means zero, not
// an error. Idempotent.
func (s *Store) RecomputeProductTotal(ctx context.Context, productID int64) error {
	today := nowDateUTC(time.Now().UTC())
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET stock_total = COALESCE((
			SELECT SUM(quantity) FROM stock_lots
			WHERE product_id = $1 AND expiry_date >= $2
		), 0), updated_at = now()
		WHERE id = $1
	`, productID, today)
	if err != nil {
		return persistErr("stock total recompute", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RefreshAllProductTotals recomputes every product's cached total in a
// single transaction. Per-product failures are isolated with savepoints so
// the loop continues, but the batch only commits when every product
// succeeded; otherwise the whole batch rolls back and false is returned.
func (s *Store) RefreshAllProductTotals(ctx context.Context) (bool, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return false, persistErr("refresh begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM products ORDER BY id`)
	if err != nil {
		return false, persistErr("refresh product scan", err)
	}
	ids := make([]int64, 0, 128)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return false, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return false, err
	}
	_ = rows.Close()

	today := nowDateUTC(time.Now().UTC())
	allSucceeded := true
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `SAVEPOINT refresh_product`); err != nil {
			return false, persistErr("refresh savepoint", err)
		}
		if err := recomputeTotalTx(ctx, tx, id, today); err != nil {
			log.Printf("[postgres] WARN: stock total refresh failed for product %d: %v", id, err)
			if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT refresh_product`); rbErr != nil {
				return false, persistErr("refresh savepoint rollback", rbErr)
			}
			allSucceeded = false
			continue
		}
		if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT refresh_product`); err != nil {
			return false, persistErr("refresh savepoint release", err)
		}
	}

	if !allSucceeded {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, persistErr("refresh commit", err)
	}
	return true, nil
}

// DepleteStock removes quantity units of a product from stock, consuming
// sellable lots soonest-expiring first, in one serializable transaction.
// Whatever the outcome, a best-effort recompute of the cached total runs
// after the transaction is released so the total cannot drift.
func (s *Store) DepleteStock(ctx context.Context, productID int64, quantity int) error {
	if quantity <= 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return persistErr("depletion begin", err)
	}
	defer s.recomputeTotalBestEffort(ctx, productID)
	defer func() { _ = tx.Rollback() }()

	if err := depleteTx(ctx, tx, productID, quantity); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return persistErr("depletion commit", err)
	}
	return nil
}

// depleteTx performs the FEFO walk inside an open transaction: lock the
// sellable lots in expiry order, verify availability, decrement greedily,
// then recompute the cached total.
func depleteTx(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	today := nowDateUTC(time.Now().UTC())

	lotRows, err := tx.QueryContext(ctx, `
		SELECT id, quantity
		FROM stock_lots
		WHERE product_id = $1 AND quantity > 0 AND expiry_date >= $2
		ORDER BY expiry_date ASC, id ASC
		FOR UPDATE
	`, productID, today)
	if err != nil {
		return persistErr("sellable lot read", err)
	}
	type lotState struct {
		id        int64
		available int
	}
	lots := make([]lotState, 0, 8)
	for lotRows.Next() {
		var lot lotState
		if err := lotRows.Scan(&lot.id, &lot.available); err != nil {
			_ = lotRows.Close()
			return persistErr("sellable lot scan", err)
		}
		lots = append(lots, lot)
	}
	if err := lotRows.Err(); err != nil {
		_ = lotRows.Close()
		return persistErr("sellable lot scan", err)
	}
	_ = lotRows.Close()

	available := 0
	for _, lot := range lots {
		available += lot.available
	}
	if available < quantity {
		return &store.InsufficientStockError{ProductID: productID, Requested: quantity, Available: available}
	}

	remaining := quantity
	for _, lot := range lots {
		if remaining == 0 {
			break
		}
		used := remaining
		if used > lot.available {
			used = lot.available
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE stock_lots
			SET quantity = quantity - $1, updated_at = now()
			WHERE id = $2
		`, used, lot.id); err != nil {
			return persistErr("lot decrement", err)
		}
		remaining -= used
	}

	return recomputeTotalTx(ctx, tx, productID, today)
}

func recomputeTotalTx(ctx context.Context, tx *sql.Tx, productID int64, today time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET stock_total = COALESCE((
			SELECT SUM(quantity) FROM stock_lots
			WHERE product_id = $1 AND expiry_date >= $2
		), 0), updated_at = now()
		WHERE id = $1
	`, productID, today)
	if err != nil {
		return persistErr("stock total recompute", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return persistErr("stock total recompute", err)
	}
	if affected == 0 {
		return persistErr("stock total recompute", store.ErrNotFound)
	}
	return nil
}

// recomputeTotalBestEffort is the safety net run after every depletion
// transaction is released: it recomputes the cached total against whatever
// lot state actually persisted. Failures are logged, never escalated.
func (s *Store) recomputeTotalBestEffort(ctx context.Context, productID int64) {
	if err := s.RecomputeProductTotal(context.WithoutCancel(ctx), productID); err != nil {
		log.Printf("[postgres] WARN: best-effort stock total recompute failed for product %d: %v", productID, err)
	}
}

// CreateSale persists the sale header and its lines, depleting stock per
// line, all inside one serializable transaction. Any failure rolls back
// the entire sale including stock already decremented within it.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, persistErr("sale begin", err)
	}
	productIDs := uniqueProductIDs(sale.Lines)
	defer func() {
		for _, id := range productIDs {
			s.recomputeTotalBestEffort(ctx, id)
		}
	}()
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO sales (pharmacist_id, client_id, total_cents, tendered_cents, change_cents, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, sale.PharmacistID, nullInt64(sale.ClientID), sale.TotalCents, sale.TenderedCents, sale.ChangeCents, sale.CreatedAt).Scan(&sale.ID)
	if err != nil {
		return nil, persistErr("sale header insert", err)
	}

	for i := range sale.Lines {
		line := &sale.Lines[i]
		line.SaleID = sale.ID
		err = tx.QueryRowContext(ctx, `
			INSERT INTO sale_lines (sale_id, product_id, quantity, unit_price_cents, line_total_cents)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING id
		`, line.SaleID, line.ProductID, line.Quantity, line.UnitPriceCents, line.LineTotalCents).Scan(&line.ID)
		if err != nil {
			return nil, persistErr("sale line insert", err)
		}

		if err := depleteTx(ctx, tx, line.ProductID, line.Quantity); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, persistErr("sale commit", err)
	}

	return &sale, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id int64) (*domain.Sale, error) {
	var sale domain.Sale
	var clientID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, pharmacist_id, client_id, total_cents, tendered_cents, change_cents, created_at
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.PharmacistID, &clientID, &sale.TotalCents, &sale.TenderedCents, &sale.ChangeCents, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if clientID.Valid {
		sale.ClientID = &clientID.Int64
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, product_id, quantity, unit_price_cents, line_total_cents
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ID, &line.SaleID, &line.ProductID, &line.Quantity, &line.UnitPriceCents, &line.LineTotalCents); err != nil {
			return nil, err
		}
		sale.Lines = append(sale.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pharmacist_id, client_id, total_cents, tendered_cents, change_cents, created_at
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		var clientID sql.NullInt64
		if err := rows.Scan(&sale.ID, &sale.PharmacistID, &clientID, &sale.TotalCents, &sale.TenderedCents, &sale.ChangeCents, &sale.CreatedAt); err != nil {
			return nil, err
		}
		if clientID.Valid {
			sale.ClientID = &clientID.Int64
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sales, nil
}

func (s *Store) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, address, created_at
		FROM clients
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clients := make([]domain.Client, 0, 64)
	for rows.Next() {
		var c domain.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return clients, nil
}

func (s *Store) CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error) {
	if client.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO clients (name, phone, address, created_at)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, client.Name, client.Phone, client.Address, client.CreatedAt).Scan(&client.ID)
	if err != nil {
		return nil, persistErr("client insert", err)
	}
	created := client
	return &created, nil
}

func (s *Store) GetClientByID(ctx context.Context, id int64) (*domain.Client, error) {
	var client domain.Client
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, address, created_at
		FROM clients
		WHERE id = $1
	`, id).Scan(&client.ID, &client.Name, &client.Phone, &client.Address, &client.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	client.CreatedAt = client.CreatedAt.UTC()
	return &client, nil
}

func (s *Store) UpdateClient(ctx context.Context, client domain.Client) (*domain.Client, error) {
	if client.ID < 1 || client.Name == "" {
		return nil, store.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE clients
		SET name = $2, phone = $3, address = $4
		WHERE id = $1
	`, client.ID, client.Name, client.Phone, client.Address)
	if err != nil {
		return nil, persistErr("client update", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetClientByID(ctx, client.ID)
}

func (s *Store) DeleteClient(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE id = $1`, id)
	if err != nil {
		return persistErr("client delete", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListPharmacists(ctx context.Context) ([]domain.Pharmacist, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, username, created_at
		FROM pharmacists
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pharmacists := make([]domain.Pharmacist, 0, 16)
	for rows.Next() {
		var p domain.Pharmacist
		if err := rows.Scan(&p.ID, &p.Name, &p.Phone, &p.Username, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		pharmacists = append(pharmacists, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return pharmacists, nil
}

func (s *Store) CreatePharmacist(ctx context.Context, pharmacist domain.Pharmacist) (*domain.Pharmacist, error) {
	if pharmacist.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if pharmacist.CreatedAt.IsZero() {
		pharmacist.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO pharmacists (name, phone, username, created_at)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, pharmacist.Name, pharmacist.Phone, pharmacist.Username, pharmacist.CreatedAt).Scan(&pharmacist.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, persistErr("pharmacist insert", err)
	}
	created := pharmacist
	return &created, nil
}

func (s *Store) GetPharmacistByID(ctx context.Context, id int64) (*domain.Pharmacist, error) {
	var p domain.Pharmacist
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, username, created_at
		FROM pharmacists
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Phone, &p.Username, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) DeletePharmacist(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pharmacists WHERE id = $1`, id)
	if err != nil {
		return persistErr("pharmacist delete", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return persistErr("user insert", err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return persistErr("user password update", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func uniqueProductIDs(lines []domain.SaleLine) []int64 {
	if len(lines) == 0 {
		return nil
	}
	set := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if _, exists := set[line.ProductID]; exists {
			continue
		}
		set[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func persistErr(op string, err error) error {
	return &store.PersistenceError{Op: op, Err: err}
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}
