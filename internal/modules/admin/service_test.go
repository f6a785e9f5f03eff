package admin

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"

	"trustbook/internal/domain"
	"trustbook/internal/modules/events"
	"trustbook/internal/repository"
)

func testService(t *testing.T) (*Service, *gorm.DB) {
	if runtime.GOOS == "windows" {
		t.Skip("skipping sqlite test on windows because CGO is disabled")
	}

	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: ":memory:"}), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite db: %v", err)
	}
	require.NoError(t, db.AutoMigrate(
		&domain.User{},
		&domain.Event{},
		&domain.PlatformSettings{},
		&domain.Arbitrator{},
		&domain.Asset{},
	))

	settingsRepo := repository.NewSettingsRepository(db)
	require.NoError(t, settingsRepo.Init(context.Background(), 500, 250, 0))

	svc := NewService(db, settingsRepo, repository.NewUserRepository(db), events.NewService(db, events.NewHub()))
	return svc, db
}

func adminActor() domain.Actor { return domain.Actor{ID: 1000, Role: domain.RoleAdmin} }

func TestPauseUnpause(t *testing.T) {
	svc, db := testService(t)
	ctx := context.Background()

	require.NoError(t, svc.Pause(ctx, adminActor()))
	settings, err := svc.Settings(ctx)
	require.NoError(t, err)
	assert.True(t, settings.Paused)

	require.NoError(t, svc.Unpause(ctx, adminActor()))
	settings, err = svc.Settings(ctx)
	require.NoError(t, err)
	assert.False(t, settings.Paused)

	// Both switches leave an audit trail.
	var count int64
	require.NoError(t, db.Model(&domain.Event{}).
		Where("type IN ?", []domain.EventType{domain.EventPlatformPaused, domain.EventPlatformUnpaused}).
		Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestSetCancellationFeeRate_Capped(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetCancellationFeeRate(ctx, 1_000))
	settings, err := svc.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), settings.CancellationFeeRateBp)

	err = svc.SetCancellationFeeRate(ctx, domain.MaxCancellationFeeRateBp+1)
	assert.ErrorIs(t, err, ErrRateTooHigh)

	err = svc.SetCancellationFeeRate(ctx, -1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestArbitratorRegistry(t *testing.T) {
	svc, db := testService(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&domain.User{
		ID: 50, Email: "arb@test", PasswordHash: "x", Role: domain.RoleConsumer, Active: true,
	}).Error)

	require.NoError(t, svc.AddArbitrator(ctx, 50, adminActor()))

	list, err := svc.ListArbitrators(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Active)

	var u domain.User
	require.NoError(t, db.First(&u, 50).Error)
	assert.Equal(t, domain.RoleArbitrator, u.Role)

	require.NoError(t, svc.RemoveArbitrator(ctx, 50))
	list, err = svc.ListArbitrators(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Active)

	err = svc.AddArbitrator(ctx, 999, adminActor())
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAddAsset(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	require.NoError(t, svc.AddAsset(ctx, "EUR"))
	assets, err := svc.ListAssets(ctx)
	require.NoError(t, err)
	assert.Len(t, assets, 1)

	// Adding twice is idempotent.
	require.NoError(t, svc.AddAsset(ctx, "EUR"))
	assets, err = svc.ListAssets(ctx)
	require.NoError(t, err)
	assert.Len(t, assets, 1)

	assert.ErrorIs(t, svc.AddAsset(ctx, ""), ErrValidation)
}

func TestSetPlatformWallet(t *testing.T) {
	svc, db := testService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.SetPlatformWallet(ctx, 42), ErrUserNotFound)

	require.NoError(t, db.Create(&domain.User{
		ID: 42, Email: "treasury@test", PasswordHash: "x", Role: domain.RoleAdmin, Active: true,
	}).Error)
	require.NoError(t, svc.SetPlatformWallet(ctx, 42))

	settings, err := svc.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), settings.PlatformWalletUserID)
}
