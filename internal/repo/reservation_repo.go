package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/bookstore/checkout/internal/db"
	"github.com/bookstore/checkout/internal/order"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReservationRepository stores the mirror of a PENDING order's stock holds
type ReservationRepository struct {
	db  *db.DB
	log *zap.Logger
}

// NewReservationRepository creates a new reservation repository
func NewReservationRepository(database *db.DB, logger *zap.Logger) *ReservationRepository {
	return &ReservationRepository{
		db:  database,
		log: logger,
	}
}

// Create stores a reservation. An owner holds at most one.
func (r *ReservationRepository) Create(ctx context.Context, res *db.Reservation) error {
	if err := r.db.WithContext(ctx).Create(res).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrPendingOrderExists
		}
		r.log.Error("Failed to create reservation", zap.String("owner_id", res.OwnerID), zap.Error(err))
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

// GetByOwner returns the owner's reservation, or nil when there is none
func (r *ReservationRepository) GetByOwner(ctx context.Context, ownerID string) (*db.Reservation, error) {
	var res db.Reservation
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&res).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load reservation: %w", err)
	}
	return &res, nil
}

// DeleteByOrder removes the reservation mirroring an order
func (r *ReservationRepository) DeleteByOrder(ctx context.Context, orderID string) error {
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Delete(&db.Reservation{}).Error; err != nil {
		return fmt.Errorf("failed to delete reservation: %w", err)
	}
	return nil
}

// DeleteOrphans removes reservations whose order is no longer PENDING and
// returns how many were removed.
func (r *ReservationRepository) DeleteOrphans(ctx context.Context) (int64, error) {
	pending := r.db.WithContext(ctx).Model(&db.Order{}).Select("id").Where("status = ?", order.StatusPending)
	result := r.db.WithContext(ctx).Where("order_id NOT IN (?)", pending).Delete(&db.Reservation{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete orphan reservations: %w", result.Error)
	}
	return result.RowsAffected, nil
}
