package checkout

import (
	"context"
	"time"

	"github.com/bookstore/checkout/internal/order"
	"go.uber.org/zap"
)

// Recover re-arms timers for orders left behind by a previous process.
// PENDING orders get their remaining TTL, which is zero when it already
// lapsed. EXPIRED orders get the rest of their purge delay. Reservations
// whose order is no longer PENDING are dropped.
func (s *Service) Recover(ctx context.Context) error {
	return s.run(ctx, "recover", "", func(ctx context.Context) error {
		repos := s.store.Repos()
		now := s.clock.Now()

		pending, err := repos.Orders.ListByStatus(ctx, order.StatusPending)
		if err != nil {
			return err
		}
		for _, o := range pending {
			var remaining time.Duration
			if o.ExpiresAt != nil {
				remaining = o.ExpiresAt.Sub(now)
			}
			s.sched.Arm(o.ID, clampZero(remaining))
		}

		expired, err := repos.Orders.ListByStatus(ctx, order.StatusExpired)
		if err != nil {
			return err
		}
		for _, o := range expired {
			closedAt := o.UpdatedAt
			if o.ClosedAt != nil {
				closedAt = *o.ClosedAt
			}
			s.sched.ArmPurge(o.ID, clampZero(closedAt.Add(s.opts.PurgeDelay).Sub(now)))
		}

		orphans, err := repos.Reservations.DeleteOrphans(ctx)
		if err != nil {
			return err
		}

		s.log.Info("Recovered order timers",
			zap.Int("pending", len(pending)),
			zap.Int("expired", len(expired)),
			zap.Int64("orphan_reservations", orphans),
		)
		return nil
	})
}

// RefreshStats updates the catalog and order gauges
func (s *Service) RefreshStats(ctx context.Context) error {
	repos := s.store.Repos()
	total, active, err := repos.Catalog.GetStats(ctx)
	if err != nil {
		return wrap("refresh stats", err)
	}
	s.metrics.SetCatalogBooks(total, active)

	counts, err := repos.Orders.CountByStatus(ctx)
	if err != nil {
		return wrap("refresh stats", err)
	}
	for _, status := range []order.Status{order.StatusPending, order.StatusPaid, order.StatusExpired, order.StatusCancelled} {
		s.metrics.SetOrders(string(status), counts[status])
	}
	return nil
}

func clampZero(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
