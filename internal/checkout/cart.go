package checkout

import (
	"context"
	"errors"

	"github.com/bookstore/checkout/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartLine is one cart entry priced at the current catalog price
type CartLine struct {
	BookSKU   string          `json:"book_sku"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Available bool            `json:"available"`
}

// AddToCart sets the quantity of an active book in the owner's cart
func (s *Service) AddToCart(ctx context.Context, ownerID, sku string, qty int) error {
	return s.run(ctx, "add to cart", ownerID, func(ctx context.Context) error {
		if qty <= 0 {
			return newError(KindInvalidCart, sku)
		}

		repos := s.store.Repos()
		if _, err := repos.Catalog.GetUnitPrice(ctx, sku); err != nil {
			if errors.Is(err, repo.ErrBookNotFound) {
				return newError(KindNotFound, sku)
			}
			return err
		}
		if err := repos.Carts.PutItem(ctx, ownerID, sku, qty); err != nil {
			return err
		}

		s.log.Debug("Cart updated",
			zap.String("owner_id", ownerID),
			zap.String("sku", sku),
			zap.Int("quantity", qty),
		)
		return nil
	})
}

// GetCart returns the owner's cart. Books that left the catalog are listed
// as unavailable with a zero price.
func (s *Service) GetCart(ctx context.Context, ownerID string) ([]CartLine, error) {
	var out []CartLine
	err := s.run(ctx, "get cart", ownerID, func(ctx context.Context) error {
		repos := s.store.Repos()
		items, err := repos.Carts.GetCartLines(ctx, ownerID)
		if err != nil {
			return err
		}

		out = make([]CartLine, 0, len(items))
		for _, item := range items {
			line := CartLine{BookSKU: item.BookSKU, Quantity: item.Quantity}
			price, err := repos.Catalog.GetUnitPrice(ctx, item.BookSKU)
			switch {
			case err == nil:
				line.UnitPrice = price
				line.Available = true
			case !errors.Is(err, repo.ErrBookNotFound):
				return err
			}
			out = append(out, line)
		}
		return nil
	})
	return out, err
}
