// Package metrics holds the Prometheus collectors of the checkout service.
// A nil *Collectors is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "checkout"

// Collectors groups every metric the service exports
type Collectors struct {
	transitions       *prometheus.CounterVec
	insufficientStock prometheus.Counter
	schedulerFailures *prometheus.CounterVec
	armedTimers       prometheus.Gauge
	operationDuration *prometheus.HistogramVec
	catalogBooks      *prometheus.GaugeVec
	orders            *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Orders entering each lifecycle status.",
		}, []string{"status"}),
		insufficientStock: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insufficient_stock_total",
			Help:      "Checkout attempts rejected for lack of stock.",
		}),
		schedulerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_failures_total",
			Help:      "Failed deferred order actions, by action. Each failure is retried.",
		}, []string{"action"}),
		armedTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_armed_timers",
			Help:      "Orders with a deferred expire or purge action.",
		}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of checkout operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
		catalogBooks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_books",
			Help:      "Books known to the checkout service.",
		}, []string{"state"}),
		orders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orders",
			Help:      "Stored orders by status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		c.transitions,
		c.insufficientStock,
		c.schedulerFailures,
		c.armedTimers,
		c.operationDuration,
		c.catalogBooks,
		c.orders,
	)
	return c
}

// OrderTransition counts an order entering status
func (c *Collectors) OrderTransition(status string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(status).Inc()
}

// StockShortage counts a checkout rejected for insufficient stock
func (c *Collectors) StockShortage() {
	if c == nil {
		return
	}
	c.insufficientStock.Inc()
}

// SchedulerFailure counts a failed expire or purge attempt
func (c *Collectors) SchedulerFailure(action string) {
	if c == nil {
		return
	}
	c.schedulerFailures.WithLabelValues(action).Inc()
}

// SetArmedTimers records the number of orders with a live timer
func (c *Collectors) SetArmedTimers(n int) {
	if c == nil {
		return
	}
	c.armedTimers.Set(float64(n))
}

// ObserveOperation records how long an operation took
func (c *Collectors) ObserveOperation(operation, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.operationDuration.WithLabelValues(operation, outcome).Observe(d.Seconds())
}

// SetCatalogBooks records catalog size
func (c *Collectors) SetCatalogBooks(total, active int64) {
	if c == nil {
		return
	}
	c.catalogBooks.WithLabelValues("total").Set(float64(total))
	c.catalogBooks.WithLabelValues("active").Set(float64(active))
}

// SetOrders records how many stored orders are in status
func (c *Collectors) SetOrders(status string, n int64) {
	if c == nil {
		return
	}
	c.orders.WithLabelValues(status).Set(float64(n))
}
