package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/bookstore/checkout/internal/db"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CatalogRepository reads books and their current prices
type CatalogRepository struct {
	db  *db.DB
	log *zap.Logger
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(database *db.DB, logger *zap.Logger) *CatalogRepository {
	return &CatalogRepository{
		db:  database,
		log: logger,
	}
}

// GetBook retrieves a book by SKU
func (r *CatalogRepository) GetBook(ctx context.Context, sku string) (*db.Book, error) {
	var book db.Book
	err := r.db.WithContext(ctx).Where("sku = ?", sku).First(&book).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		r.log.Error("Failed to get book", zap.String("sku", sku), zap.Error(err))
		return nil, err
	}

	return &book, nil
}

// GetUnitPrice returns the current price of an active book
func (r *CatalogRepository) GetUnitPrice(ctx context.Context, sku string) (decimal.Decimal, error) {
	book, err := r.GetBook(ctx, sku)
	if err != nil {
		return decimal.Zero, err
	}
	if !book.Active {
		return decimal.Zero, ErrBookNotFound
	}
	return book.Price, nil
}

// CreateBook creates a new book in the catalog
func (r *CatalogRepository) CreateBook(ctx context.Context, book *db.Book) error {
	if book.SKU == "" {
		return ErrMissingSKU
	}

	var existing db.Book
	err := r.db.WithContext(ctx).Where("sku = ?", book.SKU).First(&existing).Error
	if err == nil {
		return ErrBookAlreadyExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		r.log.Error("Failed to check book existence", zap.String("sku", book.SKU), zap.Error(err))
		return err
	}

	if err := r.db.WithContext(ctx).Create(book).Error; err != nil {
		r.log.Error("Failed to create book", zap.String("sku", book.SKU), zap.Error(err))
		return err
	}

	r.log.Info("Book created", zap.String("sku", book.SKU), zap.String("title", book.Title))
	return nil
}

// UpsertBook stores the catalog's view of a book, keeping the local copy in
// sync with catalog events.
func (r *CatalogRepository) UpsertBook(ctx context.Context, book *db.Book) error {
	err := r.CreateBook(ctx, book)
	if !errors.Is(err, ErrBookAlreadyExists) {
		return err
	}

	updates := map[string]interface{}{
		"title":    book.Title,
		"author":   book.Author,
		"price":    book.Price,
		"currency": book.Currency,
		"category": book.Category,
		"active":   book.Active,
	}
	if err := r.db.WithContext(ctx).Model(&db.Book{}).Where("sku = ?", book.SKU).Updates(updates).Error; err != nil {
		r.log.Error("Failed to update book", zap.String("sku", book.SKU), zap.Error(err))
		return err
	}
	return nil
}

// GetStats returns catalog statistics for metrics
func (r *CatalogRepository) GetStats(ctx context.Context) (total, active int64, err error) {
	if err := r.db.WithContext(ctx).Model(&db.Book{}).Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count total books: %w", err)
	}

	if err := r.db.WithContext(ctx).Model(&db.Book{}).Where("active = ?", true).Count(&active).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count active books: %w", err)
	}

	return total, active, nil
}
