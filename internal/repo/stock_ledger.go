package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bookstore/checkout/internal/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockLedger holds the per-book available quantity. Mutations are single
// conditional statements, so concurrent callers never lose updates and the
// available count cannot go below zero.
type StockLedger struct {
	db  *db.DB
	log *zap.Logger
}

// NewStockLedger creates a new stock ledger
func NewStockLedger(database *db.DB, logger *zap.Logger) *StockLedger {
	return &StockLedger{
		db:  database,
		log: logger,
	}
}

// Reserve subtracts qty from the book's available units, failing with
// ErrInsufficientStock when fewer than qty are left.
func (l *StockLedger) Reserve(ctx context.Context, sku string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	result := l.db.WithContext(ctx).Model(&db.StockEntry{}).
		Where("book_sku = ? AND available >= ?", sku, qty).
		Updates(map[string]interface{}{
			"available":  gorm.Expr("available - ?", qty),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		l.log.Error("Failed to reserve stock", zap.String("sku", sku), zap.Error(result.Error))
		return fmt.Errorf("failed to reserve stock for %s: %w", sku, result.Error)
	}

	if result.RowsAffected == 0 {
		if _, err := l.Available(ctx, sku); err != nil {
			return err
		}
		return ErrInsufficientStock
	}

	return nil
}

// Release adds qty back to the book's available units. Callers release a
// reservation at most once.
func (l *StockLedger) Release(ctx context.Context, sku string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	result := l.db.WithContext(ctx).Model(&db.StockEntry{}).
		Where("book_sku = ?", sku).
		Updates(map[string]interface{}{
			"available":  gorm.Expr("available + ?", qty),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		l.log.Error("Failed to release stock", zap.String("sku", sku), zap.Error(result.Error))
		return fmt.Errorf("failed to release stock for %s: %w", sku, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStockEntryNotFound
	}

	return nil
}

// Restock adds delivered units, creating the ledger row when missing.
func (l *StockLedger) Restock(ctx context.Context, sku string, qty int) error {
	if err := l.Ensure(ctx, sku); err != nil {
		return err
	}
	if err := l.Release(ctx, sku, qty); err != nil {
		return err
	}

	l.log.Info("Stock replenished", zap.String("sku", sku), zap.Int("quantity", qty))
	return nil
}

// Ensure creates an empty ledger row for the book if none exists
func (l *StockLedger) Ensure(ctx context.Context, sku string) error {
	entry := &db.StockEntry{BookSKU: sku, UpdatedAt: time.Now()}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to create stock entry for %s: %w", sku, err)
	}
	return nil
}

// SetAvailable overwrites the available units of a book (inventory counts, seeding)
func (l *StockLedger) SetAvailable(ctx context.Context, sku string, qty int) error {
	if qty < 0 {
		return ErrInvalidQuantity
	}

	entry := &db.StockEntry{BookSKU: sku, Available: qty, UpdatedAt: time.Now()}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "book_sku"}},
		DoUpdates: clause.AssignmentColumns([]string{"available", "updated_at"}),
	}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to set stock for %s: %w", sku, err)
	}
	return nil
}

// Available returns the units of a book that can still be reserved
func (l *StockLedger) Available(ctx context.Context, sku string) (int, error) {
	var entry db.StockEntry
	err := l.db.WithContext(ctx).Where("book_sku = ?", sku).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrStockEntryNotFound
		}
		return 0, fmt.Errorf("failed to read stock for %s: %w", sku, err)
	}
	return entry.Available, nil
}
