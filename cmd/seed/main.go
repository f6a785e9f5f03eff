package main

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"trustbook/internal/config"
	"trustbook/internal/database"
	"trustbook/internal/domain"
	"trustbook/internal/pkg/logger"
	"trustbook/internal/repository"
)

// Seeds a development database: an admin, the platform treasury account, a
// demo consumer/provider pair and one arbitrator.
func main() {
	logger.InitLoggers()

	cfg, err := config.Load()
	if err != nil {
		logger.Error().Fatalf("config: %v", err)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error().Fatalf("database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		logger.Error().Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	users := repository.NewUserRepository(db)
	settings := repository.NewSettingsRepository(db)

	if err := settings.Init(ctx, cfg.CancellationFeeRateBp, cfg.PlatformFeeRateBp, 0); err != nil {
		logger.Error().Fatalf("settings: %v", err)
	}
	if err := settings.AddAsset(ctx, cfg.DefaultAsset); err != nil {
		logger.Error().Fatalf("asset: %v", err)
	}

	admin := ensureUser(ctx, users, "admin@trustbook.local", "Admin", domain.RoleAdmin)
	treasury := ensureUser(ctx, users, "treasury@trustbook.local", "Platform Treasury", domain.RoleAdmin)
	consumer := ensureUser(ctx, users, "consumer@trustbook.local", "Demo Consumer", domain.RoleConsumer)
	provider := ensureUser(ctx, users, "provider@trustbook.local", "Demo Provider", domain.RoleProvider)
	arbitrator := ensureUser(ctx, users, "arbitrator@trustbook.local", "Demo Arbitrator", domain.RoleArbitrator)

	if err := settings.SetPlatformWallet(ctx, treasury.ID); err != nil {
		logger.Error().Fatalf("platform wallet: %v", err)
	}
	if err := settings.AddArbitrator(ctx, arbitrator.ID, admin.ID); err != nil {
		logger.Error().Fatalf("arbitrator: %v", err)
	}

	logger.Info().Infof("seeded: admin=%d treasury=%d consumer=%d provider=%d arbitrator=%d",
		admin.ID, treasury.ID, consumer.ID, provider.ID, arbitrator.ID)
}

func ensureUser(ctx context.Context, users *repository.UserRepository, email, name string, role domain.UserRole) *domain.User {
	existing, err := users.GetByEmail(ctx, email)
	if err == nil {
		return existing
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Error().Fatalf("lookup %s: %v", email, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	if err != nil {
		logger.Error().Fatalf("hash: %v", err)
	}
	u := &domain.User{
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		Name:         name,
		Active:       true,
	}
	if err := users.Create(ctx, u); err != nil {
		logger.Error().Fatalf("create %s: %v", email, err)
	}
	return u
}
