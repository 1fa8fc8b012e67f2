package repo

import (
	"context"
	"testing"

	"github.com/bookstore/checkout/internal/db"
	"github.com/bookstore/checkout/internal/db/dbtest"
	"github.com/bookstore/checkout/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*db.DB, *Store) {
	database := dbtest.New(t)
	log := logger.NewLogger("test", "error")
	return database, NewStore(database, log)
}

func TestCreateBook(t *testing.T) {
	_, store := setupTestStore(t)
	repo := store.Repos().Catalog
	ctx := context.Background()

	book := &db.Book{
		SKU:      "TEST-001",
		Title:    "Test Book",
		Author:   "Test Author",
		Price:    decimal.RequireFromString("19.99"),
		Currency: "USD",
		Active:   true,
	}
	require.NoError(t, repo.CreateBook(ctx, book))

	retrieved, err := repo.GetBook(ctx, "TEST-001")
	assert.NoError(t, err)
	assert.Equal(t, "Test Book", retrieved.Title)
	assert.True(t, retrieved.Price.Equal(decimal.RequireFromString("19.99")))

	err = repo.CreateBook(ctx, book)
	assert.Equal(t, ErrBookAlreadyExists, err)
}

func TestCreateBookRequiresSKU(t *testing.T) {
	_, store := setupTestStore(t)
	repo := store.Repos().Catalog
	ctx := context.Background()

	book := &db.Book{Title: "One", Author: "A", Price: decimal.NewFromInt(10), Currency: "USD", Active: true}
	assert.Equal(t, ErrMissingSKU, repo.CreateBook(ctx, book))
	assert.Equal(t, ErrMissingSKU, repo.UpsertBook(ctx, book))

	total, _, err := repo.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestGetUnitPrice(t *testing.T) {
	_, store := setupTestStore(t)
	repo := store.Repos().Catalog
	ctx := context.Background()

	_, err := repo.GetUnitPrice(ctx, "NONEXISTENT")
	assert.Equal(t, ErrBookNotFound, err)

	require.NoError(t, repo.CreateBook(ctx, &db.Book{SKU: "LIVE", Title: "Live", Author: "A", Price: decimal.RequireFromString("7.25"), Currency: "USD", Active: true}))
	require.NoError(t, repo.CreateBook(ctx, &db.Book{SKU: "GONE", Title: "Gone", Author: "A", Price: decimal.RequireFromString("3.00"), Currency: "USD", Active: true}))
	require.NoError(t, repo.UpsertBook(ctx, &db.Book{SKU: "GONE", Title: "Gone", Author: "A", Price: decimal.RequireFromString("3.00"), Currency: "USD", Active: false}))

	price, err := repo.GetUnitPrice(ctx, "LIVE")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("7.25")))

	_, err = repo.GetUnitPrice(ctx, "GONE")
	assert.Equal(t, ErrBookNotFound, err)
}

func TestGetStats(t *testing.T) {
	_, store := setupTestStore(t)
	repo := store.Repos().Catalog
	ctx := context.Background()

	require.NoError(t, repo.CreateBook(ctx, &db.Book{SKU: "S-1", Title: "T", Author: "A", Price: decimal.NewFromInt(1), Currency: "USD", Active: true}))
	require.NoError(t, repo.CreateBook(ctx, &db.Book{SKU: "S-2", Title: "T", Author: "A", Price: decimal.NewFromInt(1), Currency: "USD", Active: true}))
	require.NoError(t, repo.UpsertBook(ctx, &db.Book{SKU: "S-2", Title: "T", Author: "A", Price: decimal.NewFromInt(1), Currency: "USD", Active: false}))

	total, active, err := repo.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(1), active)
}
