package database

import (
	"strings"

	"gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"

	"trustbook/internal/domain"
	"trustbook/internal/modules/wallet"
	"trustbook/internal/pkg/logger"
)

func Connect(dsn string) (*gorm.DB, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		logger.Info().Info("Connecting to PostgreSQL...")
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	}

	logger.Info().Info("Using SQLite for local development: ", dsn)

	return gorm.Open(
		gormsqlite.New(gormsqlite.Config{
			DriverName: "sqlite",
			DSN:        dsn,
		}),
		&gorm.Config{},
	)
}

// Migrate applies the schema for every owned table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.Booking{},
		&domain.Escrow{},
		&domain.Milestone{},
		&domain.Dispute{},
		&domain.Evidence{},
		&domain.Event{},
		&domain.PlatformSettings{},
		&domain.Arbitrator{},
		&domain.Asset{},
		&wallet.Account{},
		&wallet.Entry{},
	)
}
