package db

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bookstore/checkout/internal/order"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Book is the catalog entry a cart line points at
type Book struct {
	SKU       string          `gorm:"primaryKey;type:varchar(50)" json:"sku"`
	Title     string          `gorm:"type:varchar(255);not null" json:"title"`
	Author    string          `gorm:"type:varchar(255);not null" json:"author"`
	Price     decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	Currency  string          `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"` // ISO 4217
	Category  string          `gorm:"type:varchar(100);index:idx_books_category" json:"category,omitempty"`
	Active    bool            `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time       `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name for Book model
func (Book) TableName() string {
	return "books"
}

// BeforeCreate hook to set timestamps
func (b *Book) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = now
	}
	return nil
}

// StockEntry is the ledger row holding the units of a book that can still be reserved
type StockEntry struct {
	BookSKU   string    `gorm:"primaryKey;type:varchar(50)"`
	Available int       `gorm:"not null;default:0;check:chk_stock_available,available >= 0"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (StockEntry) TableName() string {
	return "stock_entries"
}

// CartItem is one line of an owner's shopping cart
type CartItem struct {
	OwnerID  string    `gorm:"primaryKey;type:varchar(64)"`
	BookSKU  string    `gorm:"primaryKey;type:varchar(50)"`
	Quantity int       `gorm:"not null"`
	AddedAt  time.Time `gorm:"not null"`
}

func (CartItem) TableName() string {
	return "cart_items"
}

// Order is a checkout order. ExpiresAt is only set while the order is PENDING.
type Order struct {
	ID        string          `gorm:"primaryKey;type:varchar(36)"`
	OwnerID   string          `gorm:"type:varchar(64);not null;index:idx_orders_owner"`
	Status    order.Status    `gorm:"type:varchar(16);not null;index:idx_orders_status"`
	Subtotal  decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Total     decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	CreatedAt time.Time       `gorm:"not null"`
	UpdatedAt time.Time       `gorm:"not null"`
	ExpiresAt *time.Time
	ClosedAt  *time.Time
	Lines     []OrderLine `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

func (Order) TableName() string {
	return "orders"
}

// MarkPaid moves a PENDING order to PAID. Reserved stock stays consumed.
func (o *Order) MarkPaid(now time.Time) error {
	return o.close(order.StatusPaid, now)
}

// MarkExpired moves a PENDING order to EXPIRED.
func (o *Order) MarkExpired(now time.Time) error {
	return o.close(order.StatusExpired, now)
}

// MarkCancelled moves a PENDING order to CANCELLED.
func (o *Order) MarkCancelled(now time.Time) error {
	return o.close(order.StatusCancelled, now)
}

func (o *Order) close(next order.Status, now time.Time) error {
	if err := order.Transition(o.Status, next); err != nil {
		return err
	}
	o.Status = next
	o.ExpiresAt = nil
	o.ClosedAt = &now
	return nil
}

// OrderLine freezes the unit price of a book at reservation time
type OrderLine struct {
	ID        uint            `gorm:"primaryKey"`
	OrderID   string          `gorm:"type:varchar(36);not null;index:idx_order_lines_order"`
	BookSKU   string          `gorm:"type:varchar(50);not null"`
	Quantity  int             `gorm:"not null"`
	UnitPrice decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	LineTotal decimal.Decimal `gorm:"type:numeric(12,2);not null"`
}

func (OrderLine) TableName() string {
	return "order_lines"
}

// Reservation mirrors the stock held by a PENDING order so it can be audited
// and recovered after a crash.
type Reservation struct {
	ID          string          `gorm:"primaryKey;type:varchar(36)"`
	OwnerID     string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_reservations_owner"`
	OrderID     string          `gorm:"type:varchar(36);not null;index:idx_reservations_order"`
	Items       string          `gorm:"type:text;not null"`
	TotalAmount decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	ExpiresAt   time.Time       `gorm:"not null"`
	CreatedAt   time.Time       `gorm:"not null"`
}

func (Reservation) TableName() string {
	return "reservations"
}

// ReservedItem is one serialized entry of Reservation.Items
type ReservedItem struct {
	BookSKU   string          `json:"book_sku"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// SetItems serializes the reserved items into the Items column
func (r *Reservation) SetItems(items []ReservedItem) error {
	body, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode reservation items: %w", err)
	}
	r.Items = string(body)
	return nil
}

// ReservedItems decodes the Items column
func (r *Reservation) ReservedItems() ([]ReservedItem, error) {
	var items []ReservedItem
	if err := json.Unmarshal([]byte(r.Items), &items); err != nil {
		return nil, fmt.Errorf("failed to decode reservation items: %w", err)
	}
	return items, nil
}
