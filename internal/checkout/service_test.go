package checkout

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bookstore/checkout/internal/clock"
	"github.com/bookstore/checkout/internal/db"
	"github.com/bookstore/checkout/internal/db/dbtest"
	"github.com/bookstore/checkout/internal/events"
	"github.com/bookstore/checkout/internal/metrics"
	"github.com/bookstore/checkout/internal/order"
	"github.com/bookstore/checkout/internal/payment"
	"github.com/bookstore/checkout/internal/repo"
	"github.com/bookstore/checkout/internal/scheduler"
	"github.com/bookstore/checkout/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	ttl        = 15 * time.Minute
	purgeDelay = time.Hour
)

// MockPublisher records published order events
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishOrderEvent(ctx context.Context, eventType string, payload map[string]interface{}) error {
	args := m.Called(ctx, eventType, payload)
	return args.Error(0)
}

type fixture struct {
	svc   *Service
	store *repo.Store
	sched *scheduler.Scheduler
	clk   *clock.Fake
	pub   *MockPublisher
	reg   *prometheus.Registry
	log   *zap.Logger
}

func setupService(t *testing.T, taxRate decimal.Decimal) *fixture {
	t.Helper()

	log := logger.NewLogger("test", "error")
	store := repo.NewStore(dbtest.New(t), log)
	clk := clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	pub := new(MockPublisher)
	pub.On("PublishOrderEvent", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	f := &fixture{store: store, clk: clk, pub: pub, log: log}
	f.svc, f.sched = f.newService(taxRate)
	t.Cleanup(func() {
		f.sched.Stop()
		f.svc.Flush()
	})
	return f
}

// newService wires a service and scheduler over the fixture's store, the way
// a freshly started process would.
func (f *fixture) newService(taxRate decimal.Decimal) (*Service, *scheduler.Scheduler) {
	f.reg = prometheus.NewRegistry()
	m := metrics.New(f.reg)
	sched := scheduler.New(f.clk, scheduler.Options{
		PurgeDelay:   purgeDelay,
		RetryInitial: time.Second,
		RetryMax:     10 * time.Second,
	}, m, f.log)

	svc := NewService(f.store, sched, payment.NewSimulator(0, f.log), f.pub, f.clk, m, Options{
		ReservationTTL: ttl,
		PurgeDelay:     purgeDelay,
		TaxRate:        taxRate,
	}, f.log)
	sched.Start(svc)
	return svc, sched
}

func (f *fixture) addBook(t *testing.T, sku, title, price string, stock int) {
	t.Helper()
	ctx := context.Background()
	repos := f.store.Repos()
	require.NoError(t, repos.Catalog.CreateBook(ctx, &db.Book{
		SKU:      sku,
		Title:    title,
		Author:   "Test Author",
		Price:    decimal.RequireFromString(price),
		Currency: "USD",
		Active:   true,
	}))
	require.NoError(t, repos.Stock.SetAvailable(ctx, sku, stock))
}

func (f *fixture) addToCart(t *testing.T, owner, sku string, qty int) {
	t.Helper()
	require.NoError(t, f.svc.AddToCart(context.Background(), owner, sku, qty))
}

func (f *fixture) available(t *testing.T, sku string) int {
	t.Helper()
	n, err := f.store.Repos().Stock.Available(context.Background(), sku)
	require.NoError(t, err)
	return n
}

func (f *fixture) status(t *testing.T, owner, orderID string) order.Status {
	t.Helper()
	snap, err := f.svc.GetOrder(context.Background(), owner, orderID)
	require.NoError(t, err)
	return snap.Status
}

func (f *fixture) assertPublished(t *testing.T, eventType string) {
	t.Helper()
	f.svc.Flush()
	f.pub.AssertCalled(t, "PublishOrderEvent", mock.Anything, eventType, mock.Anything)
}

func TestStartReservesStockAndArmsExpiry(t *testing.T) {
	f := setupService(t, decimal.Zero)
	ctx := context.Background()
	f.addBook(t, "BOOK-001", "Dune", "10.00", 5)
	f.addToCart(t, "alice", "BOOK-001", 2)

	snap, err := f.svc.Start(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, order.StatusPending, snap.Status)
	assert.True(t, decimal.RequireFromString("20.00").Equal(snap.Total))
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, 2, snap.Lines[0].Quantity)
	require.NotNil(t, snap.ExpiresAt)
	assert.Equal(t, f.clk.Now().Add(ttl), *snap.ExpiresAt)

	assert.Equal(t, 3, f.available(t, "BOOK-001"))
	assert.True(t, f.sched.Armed(snap.ID))

	res, err := f.store.Repos().Reservations.GetByOwner(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, snap.ID, res.OrderID)

	f.assertPublished(t, events.EventTypeOrderReserved)
}

func TestStartAppliesTax(t *testing.T) {
	f := setupService(t, decimal.RequireFromString("0.10"))
	f.addBook(t, "BOOK-001", "Dune", "10.00", 5)
	f.addToCart(t, "alice", "BOOK-001", 2)

	snap, err := f.svc.Start(context.Background(), "alice")
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("20.00").Equal(snap.Subtotal))
	assert.True(t, decimal.RequireFromString("22.00").Equal(snap.Total))
}

func TestStartEmptyCart(t *testing.T) {
	f := setupService(t, decimal.Zero)

	_, err := f.svc.Start(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, KindEmptyCart, KindOf(err))
}

func TestStartInsufficientStockRollsBack(t *testing.T) {
	f := setupService(t, decimal.Zero)
	ctx := context.Background()
	f.addBook(t, "BOOK-001", "Dune", "10.00", 5)
	f.addBook(t, "BOOK-002", "Emma", "8.50", 1)
	f.addToCart(t, "alice", "BOOK-001", 2)
	f.addToCart(t, "alice", "BOOK-002", 3)

	_, err := f.svc.Start(ctx, "alice")
	require.ErrorIs(t, err, ErrInsufficientStock)

	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "Emma", cerr.Subject)

	assert.Equal(t, 5, f.available(t, "BOOK-001"), "earlier lines must be rolled back")
	assert.Equal(t, 1, f.available(t, "BOOK-002"))

	_, err = f.svc.GetPending(ctx, "alice")
	assert.ErrorIs(t, err, ErrNoPendingOrder)
}

func TestStartReturnsExistingPendingOrder(t *testing.T) {
	f := setupService(t, decimal.Zero)
	ctx := context.Background()
	f.addBook(t, "BOOK-001", "Dune", "10.00", 5)
	f.addToCart(t, "alice", "BOOK-001", 2)

	first, err := f.svc.Start(ctx, "alice")
	require.NoError(t, err)
	second, err := f.svc.Start(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 3, f.available(t, "BOOK-001"))
}

func TestConcurrentStartCreatesOnePendingOrder(t *testing.T) {
	f := setupService(t, decimal.Zero)
	ctx := context.Background()
	f.addBook(t, "BOOK-001", "Dune", "10.00", 50)
	f.addToCart(t, "alice", "BOOK-001", 2)

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := f.svc.Start(ctx, "alice")
			if assert.NoError(t, err) {
				ids[i] = snap.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 48, f.available(t, "BOOK-001"))

	counts, err := f.store.Repos().Orders.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[order.StatusPending])
}

// lostRaceStore commits a competing PENDING order for the owner on the first
// transaction and then fails it the way the unique index would.
type lostRaceStore struct {
	*repo.Store
	once  sync.Once
	rival *db.Order
}

func (s *lostRaceStore) InTx(ctx context.Context, fn func(tx *repo.Tx) error) error {
	lost := false
	s.once.Do(func() { lost = true })
	if !lost {
		return s.Store.InTx(ctx, fn)
	}
	if err := s.Store.InTx(ctx, func(tx *repo.Tx) error {
		return tx.Orders.Create(ctx, s.rival)
	}); err != nil {
		return err
	}
	return repo.ErrPendingOrderExists
}

func TestStartReturnsOrderFromConcurrentWinner(t *testing.T) {
	f := setupService(t, decimal.Zero)
	ctx := context.Background()
	f.addBook(t, "BOOK-001", "Dune", "10.00", 5)
	f.addToCart(t, "alice", "BOOK-001", 2)

	now := f.clk.Now()
	expiresAt := now.Add(ttl)
	store := &lostRaceStore{Store: f.store, rival: &db.Order{
		ID:        "rival-order",
		OwnerID:   "alice",
		Status:    order.StatusPending,
		Subtotal:  decimal.RequireFromString("20.00"),
		Total:     decimal.RequireFromString("20.00"),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: &expiresAt,
	}}
	svc := NewService(store, f.sched, payment.NewSimulator(0, f.log), f.pub, f.clk,
		metrics.New(prometheus.NewRegistry()), Options{ReservationTTL: ttl, PurgeDelay: purgeDelay}, f.log)

	snap, err := svc.Start(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "rival-order", snap.ID)
	assert.Equal(t, order.StatusPending, snap.Status)

	// The loser neither reserves stock nor arms a timer.
	assert.Equal(t, 5, f.available(t, "BOOK-001"))
	assert.False(t, f.sched.Armed("rival-order"))
	assert.Zero(t, f.sched.Len())
	svc.Flush()
	f.pub.AssertNotCalled(t, "PublishOrderEvent", mock.Anything, events.EventTypeOrderReserved, mock.Anything)
}

func TestPaySettlesOrder(t *testing.T) {
	f := setupService(t, decimal.Zero)
	ctx := context.Background()
	f.addBook(t, "BOOK-001", "Dune", "10.00", 5)
	f.addToCart(t, "alice", "BOOK-001", 2)

	started, err := f.svc.Start(ctx, "alice")
	require.NoError(t, err)

	paid, err := f.svc.Pay(ctx, "alice", payment.Proof{Token: "tok_visa"})
	require.NoError(t, err)
	assert.Equal(t, started.ID, paid.ID)
	assert.Equal(t, order.StatusPaid, paid.Status)
	assert.Nil(t, paid.ExpiresAt)
	assert.False(t, f.sched.Armed(paid.ID))

	cart, err := f.svc.GetCart(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, cart)

	res, err := f.store.Repos().Reservations.GetByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, res)

	// Stock stays consumed past the order's deadline.
	f.clk.Advance(ttl + purgeDelay)
	assert.Equal(t, 3, f.available(t, "BOOK-001"))
	assert.Equal(t, order.StatusPaid, f.status(t, "alice", paid.ID))

	f.assertPublished(t, events.EventTypeOrderPaid)
}

func TestPayDeclinedKeepsOrderPending(t *testing.T) {
	f := setupService(t, decimal.Zero)
	ctx := context.Background()
	f.addBook(t, "BOOK-001", "Dune", "10.00", 5)
	f.addToCart(t, "alice", "BOOK-001", 2)

	started, err := f.svc.Start(ctx, "alice")
	require.NoError(t, err)

	_, err = f.svc.Pay(ctx, "alice", payment.Proof{Token: payment.DeclinePrefix + "_card"})
	assert.ErrorIs(t, err, ErrPaymentDeclined)

	assert.Equal(t, order.StatusPending, f.status(t, "alice", started.ID))
	assert.Equal(t, 3, f.available(t, "BOOK-001"))
	assert.True(t, f.sched.Armed(started.ID))
}

func TestPayWithoutPendingOrder(t *testing.T) {
	f := setupService(t, decimal.Zero)

	_, err := f.svc.Pay(context.Background(), "alice", payment.Proof{Token: "tok"})
	assert.ErrorIs(t, err, ErrNoPendingOrder)
}

func TestPayAfterDeadlineExpiresOrder(t *testing.T) {
	f := setupService(t, decimal.Zero)
	ctx := context.Background()
	f.addBook(t, "BOOK-001", "Dune", "10.00", 5)
	f.addToCart(t, "alice", "BOOK-001", 2)

	started, err := f.svc.Start(ctx, "alice")
	require.NoError(t, err)

	// Simulate a timer that has not fired yet.
	f.sched.Disarm(started.ID)
	f.clk.Advance(ttl + time.Second)

	_, err = f.svc.Pay(ctx, "alice", payment.Proof{Token: "tok"})
	require.ErrorIs(t, err, ErrOrderExpired)
	assert.True(t, f.sched.Armed(started.ID))

	f.clk.Advance(0)
	assert.Equal(t, order.StatusExpired, f.status(t, "alice", started.ID))
	assert.Equal(t, 5, f.available(t, "BOOK-001"))
}

// payingHandler lets the owner try to pay while the expire timer is firing
type payingHandler struct {
	*Service
	pay     func()
	expires int
}

func (h *payingHandler) Expire(ctx context.Context, orderID string) (bool, error) {
	h.expires++
	if h.expires == 1 {
		h.pay()
	}
	return h.Service.Expire(ctx, orderID)
}

func TestPayDuringExpireStillPurges(t *testing.T) {
	f := setupService(t, decimal.Zero)
	ctx := context.Background()
	f.addBook(t, "BOOK-001", "Dune", "10.00", 5)
	f.addToCart(t, "alice", "BOOK-001", 2)

	started, err := f.svc.Start(ctx, "alice")
	require.NoError(t, err)

	var payErr error
	h := &payingHandler{Service: f.svc, pay: func() {
		_, payErr = f.svc.Pay(ctx, "alice", payment.Proof{Token: "tok"})
	}}
	f.sched.Start(h)

	f.clk.Advance(ttl)
	assert.ErrorIs(t, payErr, ErrOrderExpired)
	assert.Equal(t, 1, h.expires)
	assert.Equal(t, order.StatusExpired, f.status(t, "alice", started.ID))
	assert.Equal(t, 5, f.available(t, "BOOK-001"))
	assert.True(t, f.sched.Armed(started.ID), "purge timer should be armed")

	f.clk.Advance(purgeDelay)
	assert.Equal(t, 1, h.expires)
	_, err = f.svc.GetOrder(ctx, "alice", started.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, f.sched.Len())
}

func TestCancelRestoresStockAndIsIdempotent(t *testing.T) {
	f := setupService(t, decimal.Zero)
	ctx := context.Background()
	f.addBook(t, "BOOK-001", "Dune", "10.00", 5)
	f.addBook(t, "BOOK-002", "Emma", "8.50", 4)
	f.addToCart(t, "alice", "BOOK-001", 3)
	f.addToCart(t, "alice", "BOOK-002", 4)

	started, err := f.svc.Start(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, f.available(t, "BOOK-001"))
	assert.Equal(t, 0, f.available(t, "BOOK-002"))

	result, err := f.svc.Cancel(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	assert.Equal(t, started.ID, result.Order.ID)
	assert.Equal(t, order.StatusCancelled, result.Order.Status)
	assert.False(t, f.sched.Armed(started.ID))

	assert.Equal(t, 5, f.available(t, "BOOK-001"))
	assert.Equal(t, 4, f.available(t, "BOOK-002"))

	again, err := f.svc.Cancel(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, again.Cancelled)
	assert.Nil(t, again.Order)
	assert.Equal(t, 5, f.available(t, "BOOK-001"))
	assert.Equal(t, 4, f.available(t, "BOOK-002"))

	kept, err := f.svc.GetOrder(ctx, "alice", started.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, kept.Status)
	assert.Empty(t, kept.Lines)

	f.assertPublished(t, events.EventTypeOrderCancelled)
}

func TestCompetingOwnersShareStock(t *testing.T) {
	f := setupService(t, decimal.Zero)
	ctx := context.Background()
	f.addBook(t, "BOOK-001", "Dune", "10.00", 5)
	f.addToCart(t, "alice", "BOOK-001", 5)
	f.addToCart(t, "bob", "BOOK-001", 1)

	_, err := f.svc.Start(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, f.available(t, "BOOK-001"))

	_, err = f.svc.Start(ctx, "bob")
	assert.ErrorIs(t, err, ErrInsufficientStock)

	_, err = f.svc.Cancel(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 5, f.available(t, "BOOK-001"))

	_, err = f.svc.Start(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 4, f.available(t, "BOOK-001"))
}

func TestUnpaidOrderExpiresAndIsPurged(t *testing.T) {
	f := setupService(t, decimal.Zero)
	ctx := context.Background()
	f.addBook(t, "BOOK-001", "Dune", "10.00", 5)
	f.addToCart(t, "alice", "BOOK-001", 2)

	started, err := f.svc.Start(ctx, "alice")
	require.NoError(t, err)

	f.clk.Advance(ttl - time.Second)
	assert.Equal(t, order.StatusPending, f.status(t, "alice", started.ID))

	f.clk.Advance(time.Second)
	assert.Equal(t, order.StatusExpired, f.status(t, "alice", started.ID))
	assert.Equal(t, 5, f.available(t, "BOOK-001"))

	_, err = f.svc.GetPending(ctx, "alice")
	assert.ErrorIs(t, err, ErrNoPendingOrder)
	_, err = f.svc.Pay(ctx, "alice", payment.Proof{Token: "tok"})
	assert.ErrorIs(t, err, ErrNoPendingOrder)

	f.clk.Advance(purgeDelay)
	_, err = f.svc.GetOrder(ctx, "alice", started.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, f.sched.Len())

	f.assertPublished(t, events.EventTypeOrderExpired)
	f.assertPublished(t, events.EventTypeOrderPurged)
}

func TestPayRacingExpireSettlesOnce(t *testing.T) {
	for i := 0; i < 10; i++ {
		f := setupService(t, decimal.Zero)
		ctx := context.Background()
		f.addBook(t, "BOOK-001", "Dune", "10.00", 5)
		f.addToCart(t, "alice", "BOOK-001", 2)

		started, err := f.svc.Start(ctx, "alice")
		require.NoError(t, err)

		var wg sync.WaitGroup
		var payErr, expireErr error
		var expired bool
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, payErr = f.svc.Pay(ctx, "alice", payment.Proof{Token: "tok"})
		}()
		go func() {
			defer wg.Done()
			expired, expireErr = f.svc.Expire(ctx, started.ID)
		}()
		wg.Wait()
		require.NoError(t, expireErr)

		switch f.status(t, "alice", started.ID) {
		case order.StatusPaid:
			assert.NoError(t, payErr)
			assert.False(t, expired)
			assert.Equal(t, 3, f.available(t, "BOOK-001"))
		case order.StatusExpired:
			assert.ErrorIs(t, payErr, ErrNoPendingOrder)
			assert.True(t, expired)
			assert.Equal(t, 5, f.available(t, "BOOK-001"))
		default:
			t.Fatalf("order left in unexpected state")
		}
	}
}

func TestExpireIgnoresSettledOrders(t *testing.T) {
	f := setupService(t, decimal.Zero)
	ctx := context.Background()
	f.addBook(t, "BOOK-001", "Dune", "10.00", 5)
	f.addToCart(t, "alice", "BOOK-001", 2)

	started, err := f.svc.Start(ctx, "alice")
	require.NoError(t, err)
	_, err = f.svc.Pay(ctx, "alice", payment.Proof{Token: "tok"})
	require.NoError(t, err)

	expired, err := f.svc.Expire(ctx, started.ID)
	require.NoError(t, err)
	assert.False(t, expired)
	assert.Equal(t, 3, f.available(t, "BOOK-001"))

	expired, err = f.svc.Expire(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, expired)

	require.NoError(t, f.svc.Purge(ctx, started.ID))
	assert.Equal(t, order.StatusPaid, f.status(t, "alice", started.ID))
}

func TestCheckoutStartsAndPays(t *testing.T) {
	f := setupService(t, decimal.Zero)
	ctx := context.Background()
	f.addBook(t, "BOOK-001", "Dune", "10.00", 5)
	f.addToCart(t, "alice", "BOOK-001", 1)

	snap, err := f.svc.Checkout(ctx, "alice", payment.Proof{Token: "tok", CardNumber: "4242424242424242"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, snap.Status)
	assert.Equal(t, 4, f.available(t, "BOOK-001"))

	_, err = f.svc.Checkout(ctx, "alice", payment.Proof{Token: "tok"})
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestRecoverRearmsTimers(t *testing.T) {
	f := setupService(t, decimal.Zero)
	ctx := context.Background()
	f.addBook(t, "BOOK-001", "Dune", "10.00", 10)
	f.addToCart(t, "alice", "BOOK-001", 2)
	f.addToCart(t, "bob", "BOOK-001", 3)

	pending, err := f.svc.Start(ctx, "alice")
	require.NoError(t, err)
	lapsed, err := f.svc.Start(ctx, "bob")
	require.NoError(t, err)

	// Let bob's order expire, then crash before alice's deadline.
	expired, err := f.svc.Expire(ctx, lapsed.ID)
	require.NoError(t, err)
	require.True(t, expired)
	f.sched.Stop()
	f.svc.Flush()

	svc, sched := f.newService(decimal.Zero)
	t.Cleanup(sched.Stop)
	require.NoError(t, svc.Recover(ctx))
	assert.True(t, sched.Armed(pending.ID))
	assert.True(t, sched.Armed(lapsed.ID))

	f.clk.Advance(ttl)
	assert.Equal(t, order.StatusExpired, f.status(t, "alice", pending.ID))
	assert.Equal(t, 10, f.available(t, "BOOK-001"))

	f.clk.Advance(purgeDelay)
	_, err = svc.GetOrder(ctx, "bob", lapsed.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.GetOrder(ctx, "alice", pending.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	svc.Flush()
}

func TestAddToCartValidation(t *testing.T) {
	f := setupService(t, decimal.Zero)
	ctx := context.Background()
	f.addBook(t, "BOOK-001", "Dune", "10.00", 5)

	err := f.svc.AddToCart(ctx, "alice", "BOOK-001", 0)
	assert.ErrorIs(t, err, ErrInvalidCart)

	err = f.svc.AddToCart(ctx, "alice", "BOOK-404", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	f.addToCart(t, "alice", "BOOK-001", 2)
	f.addToCart(t, "alice", "BOOK-001", 3)
	cart, err := f.svc.GetCart(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, cart, 1)
	assert.Equal(t, 3, cart[0].Quantity)
	assert.True(t, cart[0].Available)
	assert.True(t, decimal.RequireFromString("10.00").Equal(cart[0].UnitPrice))
}

func TestRefreshStats(t *testing.T) {
	f := setupService(t, decimal.Zero)
	ctx := context.Background()
	f.addBook(t, "BOOK-001", "Dune", "10.00", 5)
	f.addBook(t, "BOOK-002", "Emma", "8.50", 5)
	require.NoError(t, f.store.Repos().Catalog.UpsertBook(ctx, &db.Book{
		SKU:      "BOOK-002",
		Title:    "Emma",
		Author:   "Test Author",
		Price:    decimal.RequireFromString("8.50"),
		Currency: "USD",
		Active:   false,
	}))

	f.addToCart(t, "alice", "BOOK-001", 1)
	f.addToCart(t, "bob", "BOOK-001", 1)
	_, err := f.svc.Start(ctx, "alice")
	require.NoError(t, err)
	_, err = f.svc.Checkout(ctx, "bob", payment.Proof{Token: "tok"})
	require.NoError(t, err)

	require.NoError(t, f.svc.RefreshStats(ctx))

	expected := `
# HELP checkout_catalog_books Books known to the checkout service.
# TYPE checkout_catalog_books gauge
checkout_catalog_books{state="active"} 1
checkout_catalog_books{state="total"} 2
# HELP checkout_orders Stored orders by status.
# TYPE checkout_orders gauge
checkout_orders{status="CANCELLED"} 0
checkout_orders{status="EXPIRED"} 0
checkout_orders{status="PAID"} 1
checkout_orders{status="PENDING"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.reg, strings.NewReader(expected),
		"checkout_catalog_books", "checkout_orders"))
}
