// Package dbtest provides an isolated in-memory database for tests.
package dbtest

import (
	"testing"

	"github.com/bookstore/checkout/internal/db"
	"github.com/stretchr/testify/require"
)

// New returns a migrated in-memory SQLite database closed at test cleanup.
func New(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations(database))

	t.Cleanup(func() { _ = database.Close() })
	return database
}
