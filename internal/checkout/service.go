// Package checkout turns a shopper's cart into a time-limited PENDING order
// and settles it as PAID, CANCELLED or EXPIRED.
//
// Every operation runs as one database transaction. Stock reservations,
// order writes, reservation records and cart changes commit or roll back
// together. Timers are armed or disarmed only after the commit.
package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bookstore/checkout/internal/clock"
	"github.com/bookstore/checkout/internal/db"
	"github.com/bookstore/checkout/internal/events"
	"github.com/bookstore/checkout/internal/metrics"
	"github.com/bookstore/checkout/internal/order"
	"github.com/bookstore/checkout/internal/payment"
	"github.com/bookstore/checkout/internal/repo"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// UnitOfWork runs repository work atomically
type UnitOfWork interface {
	InTx(ctx context.Context, fn func(tx *repo.Tx) error) error
	Repos() *repo.Tx
}

// Scheduler arms the deferred expire and purge of orders
type Scheduler interface {
	Arm(orderID string, ttl time.Duration)
	ArmPurge(orderID string, delay time.Duration)
	Disarm(orderID string)
	Armed(orderID string) bool
}

// Authorizer approves or declines a payment
type Authorizer interface {
	Authorize(ctx context.Context, proof payment.Proof) (bool, error)
}

// Publisher emits order lifecycle events
type Publisher interface {
	PublishOrderEvent(ctx context.Context, eventType string, payload map[string]interface{}) error
}

// Options holds the orchestrator timing and pricing settings
type Options struct {
	ReservationTTL time.Duration
	PurgeDelay     time.Duration
	TaxRate        decimal.Decimal
}

// Service is the checkout orchestrator
type Service struct {
	store     UnitOfWork
	sched     Scheduler
	payments  Authorizer
	publisher Publisher
	clock     clock.Clock
	metrics   *metrics.Collectors
	tracer    trace.Tracer
	opts      Options
	log       *zap.Logger

	publishing sync.WaitGroup
}

// NewService creates a checkout orchestrator
func NewService(
	store UnitOfWork,
	sched Scheduler,
	payments Authorizer,
	publisher Publisher,
	clk clock.Clock,
	m *metrics.Collectors,
	opts Options,
	log *zap.Logger,
) *Service {
	return &Service{
		store:     store,
		sched:     sched,
		payments:  payments,
		publisher: publisher,
		clock:     clk,
		metrics:   m,
		tracer:    otel.Tracer("github.com/bookstore/checkout/internal/checkout"),
		opts:      opts,
		log:       log,
	}
}

// Start reserves stock for every cart line and creates a PENDING order that
// expires after the reservation TTL. An owner that already holds a PENDING
// order gets that order back unchanged.
func (s *Service) Start(ctx context.Context, ownerID string) (*Snapshot, error) {
	var snap *Snapshot
	err := s.run(ctx, "start", ownerID, func(ctx context.Context) error {
		o, created, err := s.start(ctx, ownerID)
		if err != nil {
			return err
		}
		snap = snapshotOf(o)
		if !created {
			s.log.Info("Returning existing pending order",
				zap.String("order_id", o.ID),
				zap.String("owner_id", ownerID),
			)
			return nil
		}

		s.sched.Arm(o.ID, s.opts.ReservationTTL)
		s.metrics.OrderTransition(string(order.StatusPending))
		s.publish(ctx, events.EventTypeOrderReserved, snap)
		s.log.Info("Order reserved",
			zap.String("order_id", o.ID),
			zap.String("owner_id", ownerID),
			zap.String("total", o.Total.String()),
			zap.Timep("expires_at", o.ExpiresAt),
		)
		return nil
	})
	return snap, err
}

func (s *Service) start(ctx context.Context, ownerID string) (*db.Order, bool, error) {
	var placed *db.Order
	created := false

	err := s.store.InTx(ctx, func(tx *repo.Tx) error {
		lines, err := tx.Carts.GetCartLines(ctx, ownerID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return newError(KindEmptyCart, "")
		}
		for _, line := range lines {
			if line.Quantity <= 0 {
				return newError(KindInvalidCart, line.BookSKU)
			}
		}

		existing, err := tx.Orders.FindPendingForUpdate(ctx, ownerID)
		if err == nil {
			placed = existing
			return nil
		}
		if !errors.Is(err, repo.ErrOrderNotFound) {
			return err
		}

		now := s.clock.Now()
		expiresAt := now.Add(s.opts.ReservationTTL)
		o := &db.Order{
			ID:        uuid.New().String(),
			OwnerID:   ownerID,
			Status:    order.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
			ExpiresAt: &expiresAt,
		}

		items := make([]db.ReservedItem, 0, len(lines))
		subtotal := decimal.Zero
		for _, line := range lines {
			book, err := tx.Catalog.GetBook(ctx, line.BookSKU)
			if errors.Is(err, repo.ErrBookNotFound) {
				return newError(KindNotFound, line.BookSKU)
			}
			if err != nil {
				return err
			}
			if !book.Active {
				return newError(KindNotFound, line.BookSKU)
			}

			if err := tx.Stock.Reserve(ctx, book.SKU, line.Quantity); err != nil {
				if errors.Is(err, repo.ErrInsufficientStock) || errors.Is(err, repo.ErrStockEntryNotFound) {
					return newError(KindInsufficientStock, book.Title)
				}
				return err
			}

			lineTotal := book.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
			o.Lines = append(o.Lines, db.OrderLine{
				OrderID:   o.ID,
				BookSKU:   book.SKU,
				Quantity:  line.Quantity,
				UnitPrice: book.Price,
				LineTotal: lineTotal,
			})
			items = append(items, db.ReservedItem{
				BookSKU:   book.SKU,
				Quantity:  line.Quantity,
				UnitPrice: book.Price,
			})
			subtotal = subtotal.Add(lineTotal)
		}
		o.Subtotal = subtotal
		o.Total = s.applyTax(subtotal)

		if err := tx.Orders.Create(ctx, o); err != nil {
			return err
		}

		res := &db.Reservation{
			ID:          uuid.New().String(),
			OwnerID:     ownerID,
			OrderID:     o.ID,
			TotalAmount: o.Total,
			ExpiresAt:   expiresAt,
			CreatedAt:   now,
		}
		if err := res.SetItems(items); err != nil {
			return err
		}
		if err := tx.Reservations.Create(ctx, res); err != nil {
			return err
		}

		placed = o
		created = true
		return nil
	})

	if errors.Is(err, repo.ErrPendingOrderExists) {
		// A concurrent Start for the same owner committed first.
		existing, findErr := s.store.Repos().Orders.FindPending(ctx, ownerID)
		if findErr != nil {
			return nil, false, findErr
		}
		return existing, false, nil
	}
	if err != nil {
		if KindOf(err) == KindInsufficientStock {
			s.metrics.StockShortage()
		}
		return nil, false, err
	}
	return placed, created, nil
}

// Pay settles the owner's PENDING order. The reserved stock stays consumed
// and the cart is cleared. A declined payment leaves the order PENDING.
func (s *Service) Pay(ctx context.Context, ownerID string, proof payment.Proof) (*Snapshot, error) {
	var snap *Snapshot
	err := s.run(ctx, "pay", ownerID, func(ctx context.Context) error {
		var paid *db.Order
		lapsed := ""

		err := s.store.InTx(ctx, func(tx *repo.Tx) error {
			o, err := tx.Orders.FindPendingForUpdate(ctx, ownerID)
			if errors.Is(err, repo.ErrOrderNotFound) {
				return newError(KindNoPendingOrder, "")
			}
			if err != nil {
				return err
			}

			now := s.clock.Now()
			if o.ExpiresAt != nil && !now.Before(*o.ExpiresAt) {
				lapsed = o.ID
				return newError(KindOrderExpired, o.ID)
			}

			approved, err := s.payments.Authorize(ctx, proof)
			if err != nil {
				return err
			}
			if !approved {
				return newError(KindPaymentDeclined, "")
			}

			if err := o.MarkPaid(now); err != nil {
				return err
			}
			if err := tx.Orders.UpdateStatus(ctx, o, order.StatusPending); err != nil {
				if errors.Is(err, repo.ErrStaleOrder) {
					return newError(KindNoPendingOrder, "")
				}
				return err
			}
			if err := tx.Reservations.DeleteByOrder(ctx, o.ID); err != nil {
				return err
			}
			if err := tx.Carts.ClearCart(ctx, ownerID); err != nil {
				return err
			}
			paid = o
			return nil
		})

		if lapsed != "" && !s.sched.Armed(lapsed) {
			// The timer was lost; let it run now.
			s.sched.Arm(lapsed, 0)
		}
		if err != nil {
			return err
		}

		s.sched.Disarm(paid.ID)
		s.metrics.OrderTransition(string(order.StatusPaid))
		snap = snapshotOf(paid)
		s.publish(ctx, events.EventTypeOrderPaid, snap)
		s.log.Info("Order paid",
			zap.String("order_id", paid.ID),
			zap.String("owner_id", ownerID),
			zap.String("total", paid.Total.String()),
		)
		return nil
	})
	return snap, err
}

// Cancel abandons the owner's PENDING order and returns its stock. It is a
// no-op when the owner has no PENDING order.
func (s *Service) Cancel(ctx context.Context, ownerID string) (*CancelResult, error) {
	result := &CancelResult{}
	err := s.run(ctx, "cancel", ownerID, func(ctx context.Context) error {
		var cancelled *db.Order

		err := s.store.InTx(ctx, func(tx *repo.Tx) error {
			o, err := tx.Orders.FindPendingForUpdate(ctx, ownerID)
			if errors.Is(err, repo.ErrOrderNotFound) {
				return nil
			}
			if err != nil {
				return err
			}

			if err := releaseLines(ctx, tx, o); err != nil {
				return err
			}
			if err := o.MarkCancelled(s.clock.Now()); err != nil {
				return err
			}
			if err := tx.Orders.UpdateStatus(ctx, o, order.StatusPending); err != nil {
				return err
			}
			if err := tx.Orders.DeleteLines(ctx, o.ID); err != nil {
				return err
			}
			if err := tx.Reservations.DeleteByOrder(ctx, o.ID); err != nil {
				return err
			}
			if err := tx.Carts.ClearCart(ctx, ownerID); err != nil {
				return err
			}
			cancelled = o
			return nil
		})
		if err != nil || cancelled == nil {
			return err
		}

		s.sched.Disarm(cancelled.ID)
		s.metrics.OrderTransition(string(order.StatusCancelled))
		// Publish the released lines, then drop them from the returned view
		// since they are no longer stored.
		snap := snapshotOf(cancelled)
		s.publish(ctx, events.EventTypeOrderCancelled, snap)
		snap.Lines = []Line{}

		result.Cancelled = true
		result.Order = snap
		s.log.Info("Order cancelled",
			zap.String("order_id", cancelled.ID),
			zap.String("owner_id", ownerID),
		)
		return nil
	})
	return result, err
}

// Expire moves a PENDING order to EXPIRED and returns its stock. It reports
// false when the order is gone or already left PENDING.
func (s *Service) Expire(ctx context.Context, orderID string) (bool, error) {
	var expired *db.Order
	err := s.run(ctx, "expire", "", func(ctx context.Context) error {
		return s.store.InTx(ctx, func(tx *repo.Tx) error {
			o, err := tx.Orders.GetForUpdate(ctx, orderID)
			if errors.Is(err, repo.ErrOrderNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if o.Status != order.StatusPending {
				return nil
			}

			if err := releaseLines(ctx, tx, o); err != nil {
				return err
			}
			if err := o.MarkExpired(s.clock.Now()); err != nil {
				return err
			}
			if err := tx.Orders.UpdateStatus(ctx, o, order.StatusPending); err != nil {
				return err
			}
			if err := tx.Reservations.DeleteByOrder(ctx, o.ID); err != nil {
				return err
			}
			expired = o
			return nil
		})
	})
	if err != nil {
		return false, err
	}
	if expired == nil {
		return false, nil
	}

	s.metrics.OrderTransition(string(order.StatusExpired))
	s.publish(ctx, events.EventTypeOrderExpired, snapshotOf(expired))
	s.log.Info("Order expired",
		zap.String("order_id", expired.ID),
		zap.String("owner_id", expired.OwnerID),
	)
	return true, nil
}

// Purge deletes an EXPIRED order. Orders in any other status are kept.
func (s *Service) Purge(ctx context.Context, orderID string) error {
	deleted := false
	err := s.run(ctx, "purge", "", func(ctx context.Context) error {
		return s.store.InTx(ctx, func(tx *repo.Tx) error {
			var err error
			deleted, err = tx.Orders.DeleteIfStatus(ctx, orderID, order.StatusExpired)
			return err
		})
	})
	if err != nil {
		return err
	}
	if deleted {
		s.publish(ctx, events.EventTypeOrderPurged, &Snapshot{ID: orderID, Status: order.StatusExpired})
		s.log.Info("Expired order purged", zap.String("order_id", orderID))
	}
	return nil
}

// Checkout starts and pays in one call. When payment fails the order stays
// PENDING until it is paid, cancelled or expires.
func (s *Service) Checkout(ctx context.Context, ownerID string, proof payment.Proof) (*Snapshot, error) {
	if _, err := s.Start(ctx, ownerID); err != nil {
		return nil, err
	}
	return s.Pay(ctx, ownerID, proof)
}

// GetPending returns the owner's PENDING order
func (s *Service) GetPending(ctx context.Context, ownerID string) (*Snapshot, error) {
	o, err := s.store.Repos().Orders.FindPending(ctx, ownerID)
	if errors.Is(err, repo.ErrOrderNotFound) {
		return nil, wrap("get pending", newError(KindNoPendingOrder, ""))
	}
	if err != nil {
		return nil, wrap("get pending", err)
	}
	return snapshotOf(o), nil
}

// GetOrder returns one of the owner's orders in any status
func (s *Service) GetOrder(ctx context.Context, ownerID, orderID string) (*Snapshot, error) {
	o, err := s.store.Repos().Orders.GetForOwner(ctx, ownerID, orderID)
	if errors.Is(err, repo.ErrOrderNotFound) {
		return nil, wrap("get order", newError(KindNotFound, orderID))
	}
	if err != nil {
		return nil, wrap("get order", err)
	}
	return snapshotOf(o), nil
}

// Flush waits for in-flight event publishes
func (s *Service) Flush() {
	s.publishing.Wait()
}

func releaseLines(ctx context.Context, tx *repo.Tx, o *db.Order) error {
	for _, line := range o.Lines {
		if err := tx.Stock.Release(ctx, line.BookSKU, line.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) applyTax(subtotal decimal.Decimal) decimal.Decimal {
	if s.opts.TaxRate.IsZero() {
		return subtotal
	}
	return subtotal.Add(subtotal.Mul(s.opts.TaxRate)).Round(2)
}

// run wraps an operation with a span, a duration metric and error typing
func (s *Service) run(ctx context.Context, op, ownerID string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "checkout."+op)
	defer span.End()
	if ownerID != "" {
		span.SetAttributes(attribute.String("checkout.owner_id", ownerID))
	}

	begin := time.Now()
	err := fn(ctx)
	if err == nil {
		s.metrics.ObserveOperation(op, "ok", time.Since(begin))
		return nil
	}

	typed := wrap(op, err)
	s.metrics.ObserveOperation(op, typed.Kind.String(), time.Since(begin))
	span.RecordError(typed)
	if typed.Kind == KindInternal {
		span.SetStatus(codes.Error, typed.Error())
		s.log.Error("Checkout operation failed",
			zap.String("operation", op),
			zap.String("owner_id", ownerID),
			zap.Error(err),
		)
	}
	return typed
}

func (s *Service) publish(ctx context.Context, eventType string, snap *Snapshot) {
	payload := snap.eventPayload()
	correlationID := events.CorrelationID(ctx)

	s.publishing.Add(1)
	go func() {
		defer s.publishing.Done()
		pubCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if correlationID != "" {
			pubCtx = events.WithCorrelationID(pubCtx, correlationID)
		}
		if err := s.publisher.PublishOrderEvent(pubCtx, eventType, payload); err != nil {
			s.log.Warn("Failed to publish order event",
				zap.String("event_type", eventType),
				zap.String("order_id", snap.ID),
				zap.Error(err),
			)
		}
	}()
}
