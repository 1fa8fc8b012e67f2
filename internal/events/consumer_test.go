package events

import (
	"context"
	"errors"
	"testing"

	"github.com/bookstore/checkout/internal/db/dbtest"
	"github.com/bookstore/checkout/internal/repo"
	"github.com/bookstore/checkout/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func setupConsumer(t *testing.T) (*Consumer, *repo.Store) {
	log := logger.NewLogger("test", "error")
	store := repo.NewStore(dbtest.New(t), log)
	return &Consumer{serviceName: "checkout", store: store, log: log}, store
}

func deliver(c *Consumer, routingKey, body string) *fakeAcknowledger {
	ack := &fakeAcknowledger{}
	c.handleMessage(amqp.Delivery{Acknowledger: ack, RoutingKey: routingKey, Body: []byte(body)})
	return ack
}

func TestCatalogCreatedSyncsBookAndLedger(t *testing.T) {
	c, store := setupConsumer(t)
	ctx := context.Background()

	ack := deliver(c, EventTypeCatalogCreated, `{"event_type":"catalog.created","payload":{"sku":"BOOK-007","title":"Dune","author":"Herbert","price":1999,"currency":"USD","active":true}}`)
	assert.True(t, ack.acked)

	book, err := store.Repos().Catalog.GetBook(ctx, "BOOK-007")
	require.NoError(t, err)
	assert.Equal(t, "Dune", book.Title)
	assert.True(t, book.Price.Equal(decimal.RequireFromString("19.99")))

	available, err := store.Repos().Stock.Available(ctx, "BOOK-007")
	require.NoError(t, err)
	assert.Zero(t, available)
}

func TestCatalogUpdatedAndDeleted(t *testing.T) {
	c, store := setupConsumer(t)
	ctx := context.Background()

	deliver(c, EventTypeCatalogCreated, `{"payload":{"sku":"BOOK-001","title":"Old","author":"A","price":1000,"active":true}}`)
	ack := deliver(c, EventTypeCatalogUpdated, `{"payload":{"sku":"BOOK-001","fields_changed":["price"],"price":1250}}`)
	assert.True(t, ack.acked)

	price, err := store.Repos().Catalog.GetUnitPrice(ctx, "BOOK-001")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("12.50")))

	deliver(c, EventTypeCatalogDeleted, `{"payload":{"sku":"BOOK-001"}}`)
	_, err = store.Repos().Catalog.GetUnitPrice(ctx, "BOOK-001")
	assert.True(t, errors.Is(err, repo.ErrBookNotFound))

	ack = deliver(c, EventTypeCatalogDeleted, `{"payload":{"sku":"NEVER-SEEN"}}`)
	assert.True(t, ack.acked)
}

func TestRestockAddsUnits(t *testing.T) {
	c, store := setupConsumer(t)
	ctx := context.Background()

	assert.True(t, deliver(c, EventTypeInventoryRestocked, `{"payload":{"sku":"BOOK-003","quantity":4}}`).acked)
	assert.True(t, deliver(c, EventTypeInventoryRestocked, `{"payload":{"sku":"BOOK-003","quantity":6}}`).acked)

	available, err := store.Repos().Stock.Available(ctx, "BOOK-003")
	require.NoError(t, err)
	assert.Equal(t, 10, available)
}

func TestMalformedEventsAreDropped(t *testing.T) {
	c, _ := setupConsumer(t)

	for key, body := range map[string]string{
		EventTypeCatalogCreated:     `not json`,
		EventTypeCatalogUpdated:     `{"payload":{}}`,
		EventTypeInventoryRestocked: `{"payload":{"sku":"BOOK-001","quantity":0}}`,
	} {
		ack := deliver(c, key, body)
		assert.True(t, ack.nacked, key)
		assert.False(t, ack.requeue, key)
	}

	assert.True(t, deliver(c, "something.else", `{}`).acked)
}

func TestNewEventCarriesCorrelationID(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "req-42")
	event := NewEvent(ctx, EventTypeOrderPaid, map[string]interface{}{"order_id": "o-1"})

	assert.Equal(t, "req-42", event.CorrelationID)
	assert.Equal(t, EventTypeOrderPaid, event.EventType)
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "o-1", event.Payload["order_id"])
}
