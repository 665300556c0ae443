package database

import (
	"fmt"

	"comanda/internal/models"

	"github.com/jinzhu/gorm"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Open initializes a database connection for the given dialect
// ("sqlite3" or "postgres") and DSN.
func Open(dialect, dsn string) (*gorm.DB, error) {
	switch dialect {
	case "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", dialect)
	}

	db, err := gorm.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	return db, nil
}

// Migrate creates and updates all tables used by the sync engine.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Order{},
		&models.OrderLine{},
		&models.Consumption{},
		&models.Extra{},
		&models.SyncRecord{},
		&models.SyncBatch{},
		&models.QueuedOperation{},
	).Error
}

// Close closes the database connection.
func Close(db *gorm.DB) error {
	if db != nil {
		return db.Close()
	}
	return nil
}
