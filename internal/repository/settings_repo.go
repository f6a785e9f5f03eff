package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"trustbook/internal/domain"
)

const settingsRowID = 1

type SettingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Init creates the singleton settings row if missing.
func (r *SettingsRepository) Init(ctx context.Context, cancellationRateBp, platformRateBp, platformWalletUserID int64) error {
	s := domain.PlatformSettings{
		ID:                    settingsRowID,
		CancellationFeeRateBp: cancellationRateBp,
		PlatformFeeRateBp:     platformRateBp,
		PlatformWalletUserID:  platformWalletUserID,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&s).Error
}

func (r *SettingsRepository) Get(ctx context.Context) (*domain.PlatformSettings, error) {
	var s domain.PlatformSettings
	if err := r.db.WithContext(ctx).First(&s, settingsRowID).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// GetTx reads the settings row inside tx with a row lock, so a transition and
// the setting it depends on (fee rate, pause flag) commit consistently.
func (r *SettingsRepository) GetTx(tx *gorm.DB) (*domain.PlatformSettings, error) {
	var s domain.PlatformSettings
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&s, settingsRowID).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SettingsRepository) SetPaused(ctx context.Context, paused bool) error {
	return r.db.WithContext(ctx).Model(&domain.PlatformSettings{}).
		Where("id = ?", settingsRowID).
		Update("paused", paused).Error
}

func (r *SettingsRepository) SetCancellationFeeRate(ctx context.Context, rateBp int64) error {
	return r.db.WithContext(ctx).Model(&domain.PlatformSettings{}).
		Where("id = ?", settingsRowID).
		Update("cancellation_fee_rate_bp", rateBp).Error
}

func (r *SettingsRepository) SetPlatformWallet(ctx context.Context, userID int64) error {
	return r.db.WithContext(ctx).Model(&domain.PlatformSettings{}).
		Where("id = ?", settingsRowID).
		Update("platform_wallet_user_id", userID).Error
}

func (r *SettingsRepository) AddArbitrator(ctx context.Context, userID, addedBy int64) error {
	a := domain.Arbitrator{UserID: userID, Active: true, AddedAt: time.Now(), AddedByID: addedBy}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"active": true, "removed_at": nil}),
		}).
		Create(&a).Error
}

func (r *SettingsRepository) RemoveArbitrator(ctx context.Context, userID int64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&domain.Arbitrator{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{"active": false, "removed_at": &now}).Error
}

// NextArbitratorTx picks the active arbitrator with the fewest assigned cases
// and bumps its counter, all inside the caller's transaction.
func (r *SettingsRepository) NextArbitratorTx(tx *gorm.DB) (int64, error) {
	var a domain.Arbitrator
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("active = ?", true).
		Order("case_count asc, user_id asc").
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrNoArbitrators
	}
	if err != nil {
		return 0, err
	}

	if err := tx.Model(&domain.Arbitrator{}).
		Where("user_id = ?", a.UserID).
		Update("case_count", a.CaseCount+1).Error; err != nil {
		return 0, err
	}
	return a.UserID, nil
}

func (r *SettingsRepository) ListArbitrators(ctx context.Context) ([]domain.Arbitrator, error) {
	var out []domain.Arbitrator
	err := r.db.WithContext(ctx).Order("user_id asc").Find(&out).Error
	return out, err
}

func (r *SettingsRepository) AddAsset(ctx context.Context, code string) error {
	a := domain.Asset{Code: code, Active: true, CreatedAt: time.Now()}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"active": true}),
		}).
		Create(&a).Error
}

func (r *SettingsRepository) IsAssetSupported(ctx context.Context, code string) (bool, error) {
	var a domain.Asset
	err := r.db.WithContext(ctx).Where("code = ? AND active = ?", code, true).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *SettingsRepository) ListAssets(ctx context.Context) ([]domain.Asset, error) {
	var out []domain.Asset
	err := r.db.WithContext(ctx).Where("active = ?", true).Order("code asc").Find(&out).Error
	return out, err
}

var ErrNoArbitrators = errors.New("no active arbitrators registered")
