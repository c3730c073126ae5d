package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"apotekku/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// InsufficientStockError reports a depletion request that exceeds the
// sellable (non-expired, positive-quantity) stock across all lots of a
// product. It always aborts the enclosing transaction.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// PersistenceError wraps any storage-layer failure (connection loss,
// constraint violation, zero rows affected on an insert expected to
// succeed). It always aborts the enclosing transaction.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListProductIDs(ctx context.Context) ([]int64, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id int64) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error

	ListLotsForProduct(ctx context.Context, productID int64) ([]domain.StockLot, error)
	ListSellableLotsForProduct(ctx context.Context, productID int64) ([]domain.StockLot, error)
	InsertLot(ctx context.Context, lot domain.StockLot) (*domain.StockLot, error)
	UpdateLotQuantity(ctx context.Context, lotID int64, newQuantity int) error
	DeleteLot(ctx context.Context, lotID int64) error
	ListExpiredLots(ctx context.Context) ([]domain.StockLot, error)
	ListLotsExpiringWithin(ctx context.Context, days int) ([]domain.StockLot, error)
	RecomputeProductTotal(ctx context.Context, productID int64) error
	RefreshAllProductTotals(ctx context.Context) (bool, error)

	DepleteStock(ctx context.Context, productID int64, quantity int) error

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, id int64) (*domain.Sale, error)
	ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error)

	ListClients(ctx context.Context) ([]domain.Client, error)
	CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error)
	GetClientByID(ctx context.Context, id int64) (*domain.Client, error)
	UpdateClient(ctx context.Context, client domain.Client) (*domain.Client, error)
	DeleteClient(ctx context.Context, id int64) error

	ListPharmacists(ctx context.Context) ([]domain.Pharmacist, error)
	CreatePharmacist(ctx context.Context, pharmacist domain.Pharmacist) (*domain.Pharmacist, error)
	GetPharmacistByID(ctx context.Context, id int64) (*domain.Pharmacist, error)
	DeletePharmacist(ctx context.Context, id int64) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
