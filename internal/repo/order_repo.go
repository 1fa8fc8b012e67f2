package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bookstore/checkout/internal/db"
	"github.com/bookstore/checkout/internal/order"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderRepository handles order and order line persistence
type OrderRepository struct {
	db  *db.DB
	log *zap.Logger
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(database *db.DB, logger *zap.Logger) *OrderRepository {
	return &OrderRepository{
		db:  database,
		log: logger,
	}
}

// Create inserts an order together with its lines
func (r *OrderRepository) Create(ctx context.Context, o *db.Order) error {
	if err := r.db.WithContext(ctx).Create(o).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrPendingOrderExists
		}
		r.log.Error("Failed to create order", zap.String("order_id", o.ID), zap.Error(err))
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// FindPendingForUpdate loads the owner's PENDING order and locks its row
// until the surrounding transaction ends.
func (r *OrderRepository) FindPendingForUpdate(ctx context.Context, ownerID string) (*db.Order, error) {
	return r.first(ctx, true, "owner_id = ? AND status = ?", ownerID, order.StatusPending)
}

// FindPending loads the owner's PENDING order without locking
func (r *OrderRepository) FindPending(ctx context.Context, ownerID string) (*db.Order, error) {
	return r.first(ctx, false, "owner_id = ? AND status = ?", ownerID, order.StatusPending)
}

// GetForUpdate loads an order by id and locks its row
func (r *OrderRepository) GetForUpdate(ctx context.Context, orderID string) (*db.Order, error) {
	return r.first(ctx, true, "id = ?", orderID)
}

// GetForOwner loads an order by id, restricted to its owner
func (r *OrderRepository) GetForOwner(ctx context.Context, ownerID, orderID string) (*db.Order, error) {
	return r.first(ctx, false, "id = ? AND owner_id = ?", orderID, ownerID)
}

func (r *OrderRepository) first(ctx context.Context, lock bool, query string, args ...interface{}) (*db.Order, error) {
	q := r.db.WithContext(ctx)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var o db.Order
	if err := q.Where(query, args...).First(&o).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		r.log.Error("Failed to load order", zap.Error(err))
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	// Lines are read after the row lock is held.
	if err := r.db.WithContext(ctx).Where("order_id = ?", o.ID).Order("id").Find(&o.Lines).Error; err != nil {
		return nil, fmt.Errorf("failed to load order lines: %w", err)
	}

	return &o, nil
}

// UpdateStatus persists a status change made with one of the db.Order Mark
// methods. The write only applies while the stored status is still from.
func (r *OrderRepository) UpdateStatus(ctx context.Context, o *db.Order, from order.Status) error {
	o.UpdatedAt = time.Now()
	result := r.db.WithContext(ctx).Model(&db.Order{}).
		Where("id = ? AND status = ?", o.ID, from).
		Select("status", "expires_at", "closed_at", "updated_at").
		Updates(map[string]interface{}{
			"status":     o.Status,
			"expires_at": o.ExpiresAt,
			"closed_at":  o.ClosedAt,
			"updated_at": o.UpdatedAt,
		})
	if result.Error != nil {
		r.log.Error("Failed to update order status", zap.String("order_id", o.ID), zap.Error(result.Error))
		return fmt.Errorf("failed to update order status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStaleOrder
	}
	return nil
}

// DeleteLines removes all lines of an order
func (r *OrderRepository) DeleteLines(ctx context.Context, orderID string) error {
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Delete(&db.OrderLine{}).Error; err != nil {
		return fmt.Errorf("failed to delete order lines: %w", err)
	}
	return nil
}

// DeleteIfStatus removes an order and its lines when it still has the given
// status. It reports whether a row was deleted.
func (r *OrderRepository) DeleteIfStatus(ctx context.Context, orderID string, status order.Status) (bool, error) {
	result := r.db.WithContext(ctx).Where("id = ? AND status = ?", orderID, status).Delete(&db.Order{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete order: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	if err := r.DeleteLines(ctx, orderID); err != nil {
		return false, err
	}
	return true, nil
}

// ListByStatus returns all orders in a status, without lines
func (r *OrderRepository) ListByStatus(ctx context.Context, status order.Status) ([]*db.Order, error) {
	var orders []*db.Order
	if err := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s orders: %w", status, err)
	}
	return orders, nil
}

// CountByStatus returns the number of orders per status
func (r *OrderRepository) CountByStatus(ctx context.Context) (map[order.Status]int64, error) {
	var rows []struct {
		Status order.Status
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&db.Order{}).
		Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}

	counts := make(map[order.Status]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
