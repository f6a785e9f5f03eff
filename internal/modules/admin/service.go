package admin

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"trustbook/internal/domain"
	"trustbook/internal/repository"
)

type EventRecorder interface {
	RecordTx(tx *gorm.DB, e *domain.Event) error
	Publish(e *domain.Event)
}

// Service covers the administrative surface: the pause switch, fee
// configuration, the arbitrator registry and the asset list.
type Service struct {
	db       *gorm.DB
	settings *repository.SettingsRepository
	users    *repository.UserRepository
	events   EventRecorder
	now      func() time.Time
}

func NewService(db *gorm.DB, settings *repository.SettingsRepository, users *repository.UserRepository, events EventRecorder) *Service {
	return &Service{
		db:       db,
		settings: settings,
		users:    users,
		events:   events,
		now:      time.Now,
	}
}

// Pause halts the normal booking and escrow operations. Emergency
// withdrawal, dispute resolution and expiry of stale pending bookings stay
// available while paused; the deadlines they serve keep running.
func (s *Service) Pause(ctx context.Context, actor domain.Actor) error {
	return s.setPaused(ctx, true, domain.EventPlatformPaused, actor)
}

func (s *Service) Unpause(ctx context.Context, actor domain.Actor) error {
	return s.setPaused(ctx, false, domain.EventPlatformUnpaused, actor)
}

func (s *Service) setPaused(ctx context.Context, paused bool, eventType domain.EventType, actor domain.Actor) error {
	e := &domain.Event{
		Type:       eventType,
		EntityType: "platform",
		EntityID:   1,
		ActorID:    actor.ID,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.PlatformSettings{}).Where("id = ?", 1).
			Update("paused", paused).Error; err != nil {
			return err
		}
		return s.events.RecordTx(tx, e)
	})
	if err != nil {
		return err
	}
	s.events.Publish(e)
	return nil
}

// SetCancellationFeeRate updates the base cancellation fee rate, capped at
// MaxCancellationFeeRateBp.
func (s *Service) SetCancellationFeeRate(ctx context.Context, rateBp int64) error {
	if rateBp < 0 {
		return ErrValidation
	}
	if rateBp > domain.MaxCancellationFeeRateBp {
		return ErrRateTooHigh
	}
	return s.settings.SetCancellationFeeRate(ctx, rateBp)
}

func (s *Service) SetPlatformWallet(ctx context.Context, userID int64) error {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return s.settings.SetPlatformWallet(ctx, userID)
}

// AddArbitrator registers a user for round-robin dispute assignment and
// grants the arbitrator role.
func (s *Service) AddArbitrator(ctx context.Context, userID int64, actor domain.Actor) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if err := s.settings.AddArbitrator(ctx, userID, actor.ID); err != nil {
		return err
	}
	if u.Role != domain.RoleAdmin {
		return s.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", userID).
			Update("role", domain.RoleArbitrator).Error
	}
	return nil
}

func (s *Service) RemoveArbitrator(ctx context.Context, userID int64) error {
	return s.settings.RemoveArbitrator(ctx, userID)
}

func (s *Service) ListArbitrators(ctx context.Context) ([]domain.Arbitrator, error) {
	return s.settings.ListArbitrators(ctx)
}

func (s *Service) AddAsset(ctx context.Context, code string) error {
	if code == "" || len(code) > 16 {
		return ErrValidation
	}
	return s.settings.AddAsset(ctx, code)
}

func (s *Service) ListAssets(ctx context.Context) ([]domain.Asset, error) {
	return s.settings.ListAssets(ctx)
}

func (s *Service) Settings(ctx context.Context) (*domain.PlatformSettings, error) {
	return s.settings.Get(ctx)
}
