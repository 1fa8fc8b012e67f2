package db

import (
	"gorm.io/gorm"
)

// RunMigrations runs all database migrations
func RunMigrations(db *DB) error {
	if err := db.AutoMigrate(
		&Book{},
		&StockEntry{},
		&CartItem{},
		&Order{},
		&OrderLine{},
		&Reservation{},
	); err != nil {
		return err
	}

	return createIndexes(db.DB)
}

func createIndexes(db *gorm.DB) error {
	// Both statements are valid on PostgreSQL and SQLite.
	indexes := []string{
		// At most one PENDING order per owner
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_one_pending ON orders(owner_id) WHERE status = 'PENDING'`,

		// Recovery scans
		`CREATE INDEX IF NOT EXISTS idx_orders_status_expires ON orders(status, expires_at)`,
	}

	for _, indexSQL := range indexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			return err
		}
	}

	return nil
}
