// Package scheduler runs the deferred expire and purge actions of PENDING
// orders.
//
// Each armed order owns one handle holding its current timer. The expire
// timer fires first; once an order is expired a purge timer replaces it.
// Nothing is locked while a timer sleeps, and the handler re-validates order
// state when a timer fires, so Disarm is an optimization rather than a
// correctness requirement.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bookstore/checkout/internal/clock"
	"github.com/bookstore/checkout/internal/metrics"
	"go.uber.org/zap"
)

// Handler performs the deferred actions
type Handler interface {
	// Expire expires the order if it is still PENDING and reports whether it did.
	Expire(ctx context.Context, orderID string) (bool, error)
	// Purge deletes the order if it is still EXPIRED.
	Purge(ctx context.Context, orderID string) error
}

// Options tunes the scheduler
type Options struct {
	PurgeDelay   time.Duration
	RetryInitial time.Duration
	RetryMax     time.Duration
	CallTimeout  time.Duration
}

type action string

const (
	actionExpire action = "expire"
	actionPurge  action = "purge"
)

type handle struct {
	timer   clock.Timer
	action  action
	attempt int
}

// Scheduler arms per-order timers
type Scheduler struct {
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Collectors
	opts    Options

	mu      sync.Mutex
	handler Handler
	stopped bool
	handles map[string]*handle
}

// New creates a scheduler. It does nothing until Start binds a handler.
func New(clk clock.Clock, opts Options, m *metrics.Collectors, log *zap.Logger) *Scheduler {
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = time.Second
	}
	if opts.RetryMax < opts.RetryInitial {
		opts.RetryMax = opts.RetryInitial
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}

	return &Scheduler{
		clock:   clk,
		log:     log,
		metrics: m,
		opts:    opts,
		handles: make(map[string]*handle),
	}
}

// Start binds the handler timers call into
func (s *Scheduler) Start(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
	s.stopped = false
}

// Stop disarms every order and refuses further arming
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for orderID := range s.handles {
		s.disarmLocked(orderID)
	}
	s.log.Info("Scheduler stopped")
}

// Arm schedules the order's expiration ttl from now, replacing any timer
// already armed for it.
func (s *Scheduler) Arm(orderID string, ttl time.Duration) {
	s.arm(orderID, actionExpire, ttl)
}

// ArmPurge schedules deletion of an expired order after delay
func (s *Scheduler) ArmPurge(orderID string, delay time.Duration) {
	s.arm(orderID, actionPurge, delay)
}

// Disarm cancels the order's pending timer. It is a no-op for unknown orders.
func (s *Scheduler) Disarm(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked(orderID)
}

// Armed reports whether the order has a pending timer
func (s *Scheduler) Armed(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[orderID]
	return ok
}

// Len returns the number of orders with a pending timer
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func (s *Scheduler) arm(orderID string, act action, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.handler == nil {
		s.log.Warn("Scheduler not running, timer not armed",
			zap.String("order_id", orderID),
			zap.String("action", string(act)),
		)
		return
	}

	s.disarmLocked(orderID)

	h := &handle{action: act}
	h.timer = s.clock.AfterFunc(delay, func() { s.fire(orderID, h) })
	s.handles[orderID] = h
	s.metrics.SetArmedTimers(len(s.handles))

	s.log.Debug("Timer armed",
		zap.String("order_id", orderID),
		zap.String("action", string(act)),
		zap.Duration("delay", delay),
	)
}

func (s *Scheduler) disarmLocked(orderID string) {
	h, ok := s.handles[orderID]
	if !ok {
		return
	}
	h.timer.Stop()
	delete(s.handles, orderID)
	s.metrics.SetArmedTimers(len(s.handles))
}

// current reports whether h is still the live handle of the order
func (s *Scheduler) current(orderID string, h *handle) bool {
	return !s.stopped && s.handles[orderID] == h
}

func (s *Scheduler) fire(orderID string, h *handle) {
	s.mu.Lock()
	if !s.current(orderID, h) {
		s.mu.Unlock()
		return
	}
	handler, act := s.handler, h.action
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CallTimeout)
	defer cancel()

	switch act {
	case actionExpire:
		var expired bool
		err := s.call(func() error {
			var err error
			expired, err = handler.Expire(ctx, orderID)
			return err
		})
		if err != nil {
			s.retry(orderID, h, err)
			return
		}
		s.afterExpire(orderID, h, expired)

	case actionPurge:
		if err := s.call(func() error { return handler.Purge(ctx, orderID) }); err != nil {
			s.retry(orderID, h, err)
			return
		}
		s.finish(orderID, h)
	}
}

func (s *Scheduler) afterExpire(orderID string, h *handle, expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if !expired {
		// Paid or cancelled before the timer fired.
		if s.current(orderID, h) {
			delete(s.handles, orderID)
			s.metrics.SetArmedTimers(len(s.handles))
		}
		return
	}

	// A timer armed while Expire ran would find nothing left to expire, so
	// the purge takes its place.
	if !s.current(orderID, h) {
		s.disarmLocked(orderID)
		h = &handle{}
		s.handles[orderID] = h
		s.metrics.SetArmedTimers(len(s.handles))
	}

	h.action = actionPurge
	h.attempt = 0
	h.timer = s.clock.AfterFunc(s.opts.PurgeDelay, func() { s.fire(orderID, h) })
}

func (s *Scheduler) finish(orderID string, h *handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current(orderID, h) {
		delete(s.handles, orderID)
		s.metrics.SetArmedTimers(len(s.handles))
	}
}

// retry re-arms a failed action with capped exponential backoff. Expire
// failures leave stock locked, so they are never dropped.
func (s *Scheduler) retry(orderID string, h *handle, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.SchedulerFailure(string(h.action))
	if !s.current(orderID, h) {
		return
	}

	h.attempt++
	delay := s.backoff(h.attempt)
	s.log.Error("Scheduled order action failed, retrying",
		zap.String("order_id", orderID),
		zap.String("action", string(h.action)),
		zap.Int("attempt", h.attempt),
		zap.Duration("retry_in", delay),
		zap.Error(cause),
	)
	h.timer = s.clock.AfterFunc(delay, func() { s.fire(orderID, h) })
}

func (s *Scheduler) backoff(attempt int) time.Duration {
	delay := s.opts.RetryInitial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.opts.RetryMax {
			return s.opts.RetryMax
		}
	}
	return delay
}

// call shields the scheduler from a panicking handler
func (s *Scheduler) call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn()
}
