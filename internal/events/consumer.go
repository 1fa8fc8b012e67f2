package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bookstore/checkout/internal/db"
	"github.com/bookstore/checkout/internal/repo"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	EventTypeCatalogCreated     = "catalog.created"
	EventTypeCatalogUpdated     = "catalog.updated"
	EventTypeCatalogDeleted     = "catalog.deleted"
	EventTypeInventoryRestocked = "inventory.restocked"

	handleTimeout = 10 * time.Second
)

// errMalformed marks messages that can never be processed and must not be requeued
var errMalformed = errors.New("malformed event")

// Consumer keeps the local catalog copy and the stock ledger in sync with
// catalog and inventory events
type Consumer struct {
	conn        *amqp.Connection
	channel     *amqp.Channel
	serviceName string
	store       *repo.Store
	log         *zap.Logger
}

// NewConsumer connects to RabbitMQ and declares the shared exchange
func NewConsumer(url, serviceName string, store *repo.Store, log *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		ExchangeName,
		ExchangeType,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	log.Info("Consumer connected to RabbitMQ", zap.String("exchange", ExchangeName))

	return &Consumer{
		conn:        conn,
		channel:     ch,
		serviceName: serviceName,
		store:       store,
		log:         log,
	}, nil
}

// Start consumes until the delivery channel closes
func (c *Consumer) Start() error {
	queueName := fmt.Sprintf("%s.catalog.queue", c.serviceName)

	queue, err := c.channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	routingKeys := []string{
		EventTypeCatalogCreated,
		EventTypeCatalogUpdated,
		EventTypeCatalogDeleted,
		EventTypeInventoryRestocked,
	}
	for _, key := range routingKeys {
		if err := c.channel.QueueBind(queue.Name, key, ExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue to %s: %w", key, err)
		}
		c.log.Info("Listening for events", zap.String("routing_key", key))
	}

	msgs, err := c.channel.Consume(
		queue.Name,
		c.serviceName, // consumer tag
		false,         // auto-ack
		false,         // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	for msg := range msgs {
		c.handleMessage(msg)
	}

	return nil
}

func (c *Consumer) handleMessage(msg amqp.Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	err := c.handle(ctx, msg.RoutingKey, msg.Body)
	switch {
	case err == nil:
		msg.Ack(false)
	case errors.Is(err, errMalformed):
		c.log.Error("Dropping malformed event", zap.String("routing_key", msg.RoutingKey), zap.Error(err))
		msg.Nack(false, false)
	default:
		c.log.Error("Failed to handle event, requeueing", zap.String("routing_key", msg.RoutingKey), zap.Error(err))
		msg.Nack(false, true)
	}
}

type catalogEvent struct {
	Payload struct {
		SKU           string   `json:"sku"`
		Title         *string  `json:"title"`
		Author        *string  `json:"author"`
		Price         *int64   `json:"price"` // smallest currency unit
		Currency      *string  `json:"currency"`
		Category      *string  `json:"category"`
		Active        *bool    `json:"active"`
		FieldsChanged []string `json:"fields_changed"`
	} `json:"payload"`
}

type restockEvent struct {
	Payload struct {
		SKU      string `json:"sku"`
		Quantity int    `json:"quantity"`
	} `json:"payload"`
}

func (c *Consumer) handle(ctx context.Context, routingKey string, body []byte) error {
	switch routingKey {
	case EventTypeCatalogCreated, EventTypeCatalogUpdated, EventTypeCatalogDeleted:
		var event catalogEvent
		if err := json.Unmarshal(body, &event); err != nil || event.Payload.SKU == "" {
			return fmt.Errorf("%w: %s", errMalformed, routingKey)
		}
		return c.syncBook(ctx, routingKey, &event)

	case EventTypeInventoryRestocked:
		var event restockEvent
		if err := json.Unmarshal(body, &event); err != nil || event.Payload.SKU == "" || event.Payload.Quantity <= 0 {
			return fmt.Errorf("%w: %s", errMalformed, routingKey)
		}
		return c.store.Repos().Stock.Restock(ctx, event.Payload.SKU, event.Payload.Quantity)

	default:
		c.log.Warn("Unknown event type", zap.String("routing_key", routingKey))
		return nil
	}
}

func (c *Consumer) syncBook(ctx context.Context, routingKey string, event *catalogEvent) error {
	repos := c.store.Repos()
	p := event.Payload

	book, err := repos.Catalog.GetBook(ctx, p.SKU)
	if errors.Is(err, repo.ErrBookNotFound) {
		if routingKey == EventTypeCatalogDeleted {
			return nil
		}
		book = &db.Book{SKU: p.SKU, Currency: "USD", Active: true}
	} else if err != nil {
		return err
	}

	if p.Title != nil {
		book.Title = *p.Title
	}
	if p.Author != nil {
		book.Author = *p.Author
	}
	if p.Price != nil {
		book.Price = decimal.New(*p.Price, -2)
	}
	if p.Currency != nil {
		book.Currency = *p.Currency
	}
	if p.Category != nil {
		book.Category = *p.Category
	}
	if p.Active != nil {
		book.Active = *p.Active
	}
	if routingKey == EventTypeCatalogDeleted {
		book.Active = false
	}

	if err := repos.Catalog.UpsertBook(ctx, book); err != nil {
		return err
	}
	if err := repos.Stock.Ensure(ctx, p.SKU); err != nil {
		return err
	}

	c.log.Info("Catalog entry synced", zap.String("sku", p.SKU), zap.String("event_type", routingKey))
	return nil
}

// Close closes the consumer connection
func (c *Consumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
