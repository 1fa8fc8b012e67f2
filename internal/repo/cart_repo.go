package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/bookstore/checkout/internal/db"
	"go.uber.org/zap"
	"gorm.io/gorm/clause"
)

// CartRepository reads and clears shopping carts
type CartRepository struct {
	db  *db.DB
	log *zap.Logger
}

// NewCartRepository creates a new cart repository
func NewCartRepository(database *db.DB, logger *zap.Logger) *CartRepository {
	return &CartRepository{
		db:  database,
		log: logger,
	}
}

// GetCartLines returns the owner's cart lines ordered by SKU
func (r *CartRepository) GetCartLines(ctx context.Context, ownerID string) ([]db.CartItem, error) {
	var items []db.CartItem
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("book_sku").Find(&items).Error; err != nil {
		r.log.Error("Failed to load cart", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	return items, nil
}

// PutItem sets the quantity of a book in the owner's cart
func (r *CartRepository) PutItem(ctx context.Context, ownerID, sku string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	item := &db.CartItem{OwnerID: ownerID, BookSKU: sku, Quantity: qty, AddedAt: time.Now()}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "book_sku"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity"}),
	}).Create(item).Error
	if err != nil {
		return fmt.Errorf("failed to update cart: %w", err)
	}
	return nil
}

// ClearCart removes every line of the owner's cart
func (r *CartRepository) ClearCart(ctx context.Context, ownerID string) error {
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Delete(&db.CartItem{}).Error; err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}
