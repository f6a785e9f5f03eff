package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"trustbook/internal/domain"
	"trustbook/internal/modules/escrow"
	"trustbook/internal/modules/events"
)

type Config struct {
	// ConfirmationWindow is how long a provider has to confirm a pending
	// booking before anyone may expire it.
	ConfirmationWindow time.Duration

	// DefaultAsset is used when a create request leaves the asset blank.
	DefaultAsset string
}

// Service is the booking ledger. Every transition that moves money runs the
// matching escrow operation inside the same database transaction, so a
// booking row and its escrow row always agree.
type Service struct {
	db        *gorm.DB
	escrows   EscrowLedger
	providers ActiveProviderChecker
	assets    AssetChecker
	settings  SettingsStore
	events    EventRecorder
	cfg       Config
	now       func() time.Time
}

func NewService(db *gorm.DB, escrows EscrowLedger, providers ActiveProviderChecker, assets AssetChecker, settings SettingsStore, events EventRecorder, cfg Config) *Service {
	return &Service{
		db:        db,
		escrows:   escrows,
		providers: providers,
		assets:    assets,
		settings:  settings,
		events:    events,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithClock swaps the time source; tests use it to drive windows and fees.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateBooking reserves a provider's time slot and locks the full amount
// into a new escrow. The provider's user row is locked for the duration of
// the transaction so two concurrent requests for the same provider serialize
// and the overlap check stays trustworthy.
func (s *Service) CreateBooking(ctx context.Context, req CreateBookingRequest, actor domain.Actor) (*domain.Booking, error) {
	if req.ProviderID == actor.ID {
		return nil, fmt.Errorf("%w: cannot book yourself", ErrValidation)
	}
	if req.Amount <= 0 {
		return nil, ErrValidation
	}
	now := s.now()
	if !req.StartTime.Before(req.EndTime) {
		return nil, ErrValidation
	}
	if !req.StartTime.After(now) {
		return nil, ErrValidation
	}

	asset := req.Asset
	if asset == "" {
		asset = s.cfg.DefaultAsset
	}
	ok, err := s.assets.IsAssetSupported(ctx, asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAssetNotSupported
	}

	active, err := s.providers.IsActiveProvider(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrProviderInactive
	}

	var booking *domain.Booking
	batch := &events.Batch{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		settings, err := s.settings.GetTx(tx)
		if err != nil {
			return err
		}
		if settings.Paused {
			return ErrPaused
		}

		// Serializes concurrent bookings against this provider.
		var provider domain.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&provider, req.ProviderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProviderInactive
			}
			return err
		}

		var overlapping int64
		if err := tx.Model(&domain.Booking{}).
			Where("provider_id = ? AND status IN ? AND start_time < ? AND end_time > ?",
				req.ProviderID, activeStatuses(), req.EndTime, req.StartTime).
			Count(&overlapping).Error; err != nil {
			return err
		}
		if overlapping > 0 {
			return ErrScheduleConflict
		}

		booking = &domain.Booking{
			ConsumerID: actor.ID,
			ProviderID: req.ProviderID,
			ServiceID:  req.ServiceID,
			StartTime:  req.StartTime,
			EndTime:    req.EndTime,
			Amount:     req.Amount,
			Asset:      asset,
			Status:     domain.BookingPending,
		}
		if err := tx.Create(booking).Error; err != nil {
			return err
		}

		platformFee := req.Amount * settings.PlatformFeeRateBp / 10000
		if _, err := s.escrows.CreateTx(tx, batch, escrow.CreateParams{
			BookingID:        booking.ID,
			ConsumerID:       actor.ID,
			ProviderID:       req.ProviderID,
			Asset:            asset,
			TotalAmount:      req.Amount,
			PlatformFee:      platformFee,
			AutoReleaseDelay: time.Duration(req.AutoReleaseDelaySeconds) * time.Second,
			Milestones:       req.Milestones,
		}); err != nil {
			return err
		}

		return s.emit(tx, batch, &domain.Event{
			Type:       domain.EventBookingCreated,
			EntityType: "booking",
			EntityID:   booking.ID,
			ActorID:    actor.ID,
			ConsumerID: actor.ID,
			ProviderID: req.ProviderID,
			Amount:     req.Amount,
			Asset:      asset,
		})
	})
	if err != nil {
		return nil, err
	}
	batch.Flush(s.events)
	return booking, nil
}

// ConfirmBooking moves a pending booking to confirmed. Only the booked
// provider may confirm, and only while the confirmation window is open.
func (s *Service) ConfirmBooking(ctx context.Context, id int64, actor domain.Actor) (*domain.Booking, error) {
	active, err := s.providers.IsActiveProvider(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	var booking *domain.Booking
	batch := &events.Batch{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireNotPaused(tx); err != nil {
			return err
		}
		b, err := s.getForUpdate(tx, id)
		if err != nil {
			return err
		}
		if b.ProviderID != actor.ID {
			return ErrForbidden
		}
		if !active {
			return ErrProviderInactive
		}
		if b.Status != domain.BookingPending {
			return ErrInvalidStatusTransition
		}
		if s.now().After(b.CreatedAt.Add(s.cfg.ConfirmationWindow)) {
			return ErrConfirmWindowExpired
		}

		b.Status = domain.BookingConfirmed
		if err := tx.Model(b).Update("status", b.Status).Error; err != nil {
			return err
		}
		booking = b
		return s.emit(tx, batch, &domain.Event{
			Type:       domain.EventBookingConfirmed,
			EntityType: "booking",
			EntityID:   b.ID,
			ActorID:    actor.ID,
			ConsumerID: b.ConsumerID,
			ProviderID: b.ProviderID,
		})
	})
	if err != nil {
		return nil, err
	}
	batch.Flush(s.events)
	return booking, nil
}

// StartBooking marks a confirmed booking as in progress once its start time
// has arrived.
func (s *Service) StartBooking(ctx context.Context, id int64, actor domain.Actor) (*domain.Booking, error) {
	var booking *domain.Booking
	batch := &events.Batch{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireNotPaused(tx); err != nil {
			return err
		}
		b, err := s.getForUpdate(tx, id)
		if err != nil {
			return err
		}
		if b.ProviderID != actor.ID {
			return ErrForbidden
		}
		if b.Status != domain.BookingConfirmed {
			return ErrInvalidStatusTransition
		}
		if s.now().Before(b.StartTime) {
			return ErrTooEarly
		}

		b.Status = domain.BookingInProgress
		if err := tx.Model(b).Update("status", b.Status).Error; err != nil {
			return err
		}
		booking = b
		return s.emit(tx, batch, &domain.Event{
			Type:       domain.EventBookingStarted,
			EntityType: "booking",
			EntityID:   b.ID,
			ActorID:    actor.ID,
			ConsumerID: b.ConsumerID,
			ProviderID: b.ProviderID,
		})
	})
	if err != nil {
		return nil, err
	}
	batch.Flush(s.events)
	return booking, nil
}

// CancelBooking cancels a pending or confirmed booking. A provider cancels
// free of charge; a consumer pays a sliding fee that grows as the start time
// approaches. The fee goes to the provider, the rest is refunded, all in one
// transaction.
func (s *Service) CancelBooking(ctx context.Context, id int64, actor domain.Actor) (*domain.Booking, error) {
	var booking *domain.Booking
	batch := &events.Batch{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		settings, err := s.settings.GetTx(tx)
		if err != nil {
			return err
		}
		if settings.Paused {
			return ErrPaused
		}
		b, err := s.getForUpdate(tx, id)
		if err != nil {
			return err
		}
		if actor.ID != b.ConsumerID && actor.ID != b.ProviderID {
			return ErrForbidden
		}
		if b.Status != domain.BookingPending && b.Status != domain.BookingConfirmed {
			return ErrInvalidStatusTransition
		}

		var fee int64
		if actor.ID == b.ConsumerID {
			fee = s.cancellationFee(b, settings.CancellationFeeRateBp)
		}

		if _, err := s.escrows.CancelTx(tx, batch, b.ID, fee, false, actor.ID); err != nil {
			return err
		}

		now := s.now()
		b.Status = domain.BookingCancelled
		b.CancellationFee = fee
		b.CancelledAt = &now
		if err := tx.Model(b).Updates(map[string]interface{}{
			"status":           b.Status,
			"cancellation_fee": fee,
			"cancelled_at":     &now,
		}).Error; err != nil {
			return err
		}
		booking = b
		return s.emit(tx, batch, &domain.Event{
			Type:       domain.EventBookingCancelled,
			EntityType: "booking",
			EntityID:   b.ID,
			ActorID:    actor.ID,
			ConsumerID: b.ConsumerID,
			ProviderID: b.ProviderID,
			Amount:     fee,
			Asset:      b.Asset,
		})
	})
	if err != nil {
		return nil, err
	}
	batch.Flush(s.events)
	return booking, nil
}

// cancellationFee scales the configured rate by how close the cancellation
// is to the start time: half rate beyond 24 hours, full rate within a day,
// double rate within the final hour. The result never exceeds the amount
// held in escrow.
func (s *Service) cancellationFee(b *domain.Booking, rateBp int64) int64 {
	until := b.StartTime.Sub(s.now())
	switch {
	case until > 24*time.Hour:
		rateBp = rateBp / 2
	case until > time.Hour:
		// full configured rate
	default:
		rateBp = rateBp * 2
	}
	fee := b.Amount * rateBp / 10000
	if fee > b.Amount {
		fee = b.Amount
	}
	return fee
}

// CompleteBooking is the consumer's acknowledgement that the service was
// delivered. It releases the escrow to the provider and collects the
// platform fee.
func (s *Service) CompleteBooking(ctx context.Context, id int64, actor domain.Actor) (*domain.Booking, error) {
	var booking *domain.Booking
	batch := &events.Batch{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireNotPaused(tx); err != nil {
			return err
		}
		b, err := s.getForUpdate(tx, id)
		if err != nil {
			return err
		}
		if actor.ID != b.ConsumerID {
			return ErrForbidden
		}
		if b.Status != domain.BookingConfirmed && b.Status != domain.BookingInProgress {
			return ErrInvalidStatusTransition
		}

		if _, err := s.escrows.ReleaseAllTx(tx, batch, b.ID, actor.ID, false); err != nil {
			return err
		}

		b.Status = domain.BookingCompleted
		if err := tx.Model(b).Update("status", b.Status).Error; err != nil {
			return err
		}
		booking = b
		return s.emit(tx, batch, &domain.Event{
			Type:       domain.EventBookingCompleted,
			EntityType: "booking",
			EntityID:   b.ID,
			ActorID:    actor.ID,
			ConsumerID: b.ConsumerID,
			ProviderID: b.ProviderID,
			Amount:     b.Amount,
			Asset:      b.Asset,
		})
	})
	if err != nil {
		return nil, err
	}
	batch.Flush(s.events)
	return booking, nil
}

// DisputeBooking freezes the booking and its escrow and opens a dispute
// case with an assigned arbitrator.
func (s *Service) DisputeBooking(ctx context.Context, id int64, reason string, actor domain.Actor) (*domain.Dispute, error) {
	if reason == "" {
		return nil, ErrValidation
	}

	var out *domain.Dispute
	batch := &events.Batch{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireNotPaused(tx); err != nil {
			return err
		}
		b, err := s.getForUpdate(tx, id)
		if err != nil {
			return err
		}
		if actor.ID != b.ConsumerID && actor.ID != b.ProviderID {
			return ErrForbidden
		}
		// Completed bookings pass through; their escrow is terminal and
		// rejects the dispute with the escrow-side error.
		if b.Status != domain.BookingConfirmed && b.Status != domain.BookingInProgress &&
			b.Status != domain.BookingCompleted {
			return ErrInvalidStatusTransition
		}

		// The escrow side flips the booking row to disputed and records
		// the escrow event; the booking event is recorded here.
		d, err := s.escrows.DisputeTx(tx, batch, b.ID, actor, reason)
		if err != nil {
			return err
		}
		out = d

		return s.emit(tx, batch, &domain.Event{
			Type:       domain.EventBookingDisputed,
			EntityType: "booking",
			EntityID:   b.ID,
			ActorID:    actor.ID,
			ConsumerID: b.ConsumerID,
			ProviderID: b.ProviderID,
		})
	})
	if err != nil {
		return nil, err
	}
	batch.Flush(s.events)
	return out, nil
}

// ExpireBooking voids a pending booking whose confirmation window has
// passed and refunds the consumer in full. Anyone may call it; the booking
// is past saving either way.
func (s *Service) ExpireBooking(ctx context.Context, id int64, actor domain.Actor) (*domain.Booking, error) {
	var booking *domain.Booking
	batch := &events.Batch{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := s.getForUpdate(tx, id)
		if err != nil {
			return err
		}
		if b.Status != domain.BookingPending {
			return ErrInvalidStatusTransition
		}
		if !s.now().After(b.CreatedAt.Add(s.cfg.ConfirmationWindow)) {
			return ErrNotExpired
		}

		if _, err := s.escrows.CancelTx(tx, batch, b.ID, 0, true, actor.ID); err != nil {
			return err
		}

		b.Status = domain.BookingExpired
		if err := tx.Model(b).Update("status", b.Status).Error; err != nil {
			return err
		}
		booking = b
		return s.emit(tx, batch, &domain.Event{
			Type:       domain.EventBookingExpired,
			EntityType: "booking",
			EntityID:   b.ID,
			ActorID:    actor.ID,
			ConsumerID: b.ConsumerID,
			ProviderID: b.ProviderID,
			Amount:     b.Amount,
			Asset:      b.Asset,
		})
	})
	if err != nil {
		return nil, err
	}
	batch.Flush(s.events)
	return booking, nil
}

func (s *Service) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	var b domain.Booking
	err := s.db.WithContext(ctx).First(&b, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListByUser returns bookings where the user is either side of the deal.
func (s *Service) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]domain.Booking, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []domain.Booking
	err := s.db.WithContext(ctx).
		Where("consumer_id = ? OR provider_id = ?", userID, userID).
		Order("start_time DESC").
		Limit(limit).Offset(offset).
		Find(&out).Error
	return out, err
}

// Schedule returns the reserved intervals of a provider inside [from, to).
// It exposes only times, never who booked them.
func (s *Service) Schedule(ctx context.Context, providerID int64, from, to time.Time) ([]BusySlot, error) {
	if !from.Before(to) {
		return nil, ErrValidation
	}
	var rows []domain.Booking
	err := s.db.WithContext(ctx).
		Where("provider_id = ? AND status IN ? AND start_time < ? AND end_time > ?",
			providerID, activeStatuses(), to, from).
		Order("start_time ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	slots := make([]BusySlot, 0, len(rows))
	for _, b := range rows {
		slots = append(slots, BusySlot{Start: b.StartTime, End: b.EndTime})
	}
	return slots, nil
}

func (s *Service) getForUpdate(tx *gorm.DB, id int64) (*domain.Booking, error) {
	var b domain.Booking
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&b, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Service) requireNotPaused(tx *gorm.DB) error {
	settings, err := s.settings.GetTx(tx)
	if err != nil {
		return err
	}
	if settings.Paused {
		return ErrPaused
	}
	return nil
}

// emit records the event in the transaction and stages it; the batch is
// flushed to listeners only after the commit.
func (s *Service) emit(tx *gorm.DB, batch *events.Batch, e *domain.Event) error {
	if err := s.events.RecordTx(tx, e); err != nil {
		return err
	}
	batch.Add(e)
	return nil
}

func activeStatuses() []domain.BookingStatus {
	return []domain.BookingStatus{
		domain.BookingPending,
		domain.BookingConfirmed,
		domain.BookingInProgress,
	}
}
