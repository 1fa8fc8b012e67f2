package checkout

import (
	"time"

	"github.com/bookstore/checkout/internal/db"
	"github.com/bookstore/checkout/internal/order"
	"github.com/shopspring/decimal"
)

// Line is a read-only order line
type Line struct {
	BookSKU   string          `json:"book_sku"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Snapshot is a point-in-time copy of an order handed to callers
type Snapshot struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Status    order.Status    `json:"status"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	Lines     []Line          `json:"lines"`
}

// CancelResult reports the outcome of Cancel. Order is nil when there was
// nothing to cancel.
type CancelResult struct {
	Cancelled bool      `json:"cancelled"`
	Order     *Snapshot `json:"order,omitempty"`
}

func snapshotOf(o *db.Order) *Snapshot {
	snap := &Snapshot{
		ID:        o.ID,
		OwnerID:   o.OwnerID,
		Status:    o.Status,
		Subtotal:  o.Subtotal,
		Total:     o.Total,
		CreatedAt: o.CreatedAt,
		Lines:     make([]Line, 0, len(o.Lines)),
	}
	if o.ExpiresAt != nil {
		expires := *o.ExpiresAt
		snap.ExpiresAt = &expires
	}
	for _, l := range o.Lines {
		snap.Lines = append(snap.Lines, Line{
			BookSKU:   l.BookSKU,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			LineTotal: l.LineTotal,
		})
	}
	return snap
}

// eventPayload flattens a snapshot for order lifecycle events
func (s *Snapshot) eventPayload() map[string]interface{} {
	lines := make([]map[string]interface{}, 0, len(s.Lines))
	for _, l := range s.Lines {
		lines = append(lines, map[string]interface{}{
			"sku":        l.BookSKU,
			"quantity":   l.Quantity,
			"unit_price": l.UnitPrice.String(),
		})
	}
	return map[string]interface{}{
		"order_id": s.ID,
		"owner_id": s.OwnerID,
		"status":   string(s.Status),
		"total":    s.Total.String(),
		"items":    lines,
	}
}
