package database

import (
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Connect opens the durable store and returns the handle.
// A postgres:// DSN selects the Postgres driver; anything else is
// treated as a SQLite file path. TranslateError is enabled so
// uniqueness violations surface as gorm.ErrDuplicatedKey regardless
// of driver.
func Connect(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{TranslateError: true}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return gorm.Open(postgres.Open(dsn), cfg)
	}
	return gorm.Open(sqlite.Open(dsn), cfg)
}
