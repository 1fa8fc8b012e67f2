package repo

import (
	"context"
	"errors"

	"github.com/bookstore/checkout/internal/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrBookNotFound is returned when a book is not found
	ErrBookNotFound = errors.New("book not found")

	// ErrBookAlreadyExists is returned when trying to create a book that already exists
	ErrBookAlreadyExists = errors.New("book already exists")

	// ErrMissingSKU is returned when a book carries no SKU
	ErrMissingSKU = errors.New("book sku is required")

	// ErrStockEntryNotFound is returned when a book has no ledger row
	ErrStockEntryNotFound = errors.New("stock entry not found")

	// ErrInsufficientStock is returned when a reservation asks for more units than are available
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidQuantity is returned for non-positive quantities
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrOrderNotFound is returned when an order is not found
	ErrOrderNotFound = errors.New("order not found")

	// ErrPendingOrderExists is returned when an owner already holds a PENDING order
	ErrPendingOrderExists = errors.New("pending order already exists")

	// ErrStaleOrder is returned when an order changed status under a conditional update
	ErrStaleOrder = errors.New("order status changed concurrently")
)

// Tx groups the repositories bound to one unit of work
type Tx struct {
	Catalog      *CatalogRepository
	Stock        *StockLedger
	Orders       *OrderRepository
	Reservations *ReservationRepository
	Carts        *CartRepository
}

// Store hands out repositories, either bound to the connection pool or to a transaction
type Store struct {
	db  *db.DB
	log *zap.Logger
}

// NewStore creates a new store
func NewStore(database *db.DB, logger *zap.Logger) *Store {
	return &Store{
		db:  database,
		log: logger,
	}
}

// Repos returns repositories that run each statement on its own
func (s *Store) Repos() *Tx {
	return s.bind(s.db)
}

// InTx runs fn inside a single database transaction. The transaction commits
// when fn returns nil and rolls back otherwise, so every ledger mutation made
// through tx is undone together with the order writes that caused it.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(s.bind(&db.DB{DB: gtx}))
	})
}

func (s *Store) bind(database *db.DB) *Tx {
	return &Tx{
		Catalog:      NewCatalogRepository(database, s.log),
		Stock:        NewStockLedger(database, s.log),
		Orders:       NewOrderRepository(database, s.log),
		Reservations: NewReservationRepository(database, s.log),
		Carts:        NewCartRepository(database, s.log),
	}
}
