package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"trustbook/internal/domain"
	"trustbook/internal/modules/events"
	"trustbook/internal/modules/wallet"
)

type Config struct {
	AutoReleaseDefault time.Duration
	AutoReleaseCeiling time.Duration
	DisputeTimeout     time.Duration
}

// Service owns the escrow state machine. Funds enter on CreateTx and leave
// only through the wallet Move/Drain primitives, one call per economic event,
// inside the same transaction as the state transition they belong to.
type Service struct {
	db       *gorm.DB
	funds    FundMover
	events   EventRecorder
	settings SettingsStore
	disputes DisputeResolver
	cfg      Config
	now      func() time.Time
}

func NewService(db *gorm.DB, funds FundMover, events EventRecorder, settings SettingsStore, disputes DisputeResolver, cfg Config) *Service {
	return &Service{
		db:       db,
		funds:    funds,
		events:   events,
		settings: settings,
		disputes: disputes,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock overrides the time source; used by tests to drive time-triggered
// transitions.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateTx opens the escrow for a booking inside the caller's transaction and
// moves the total amount from the consumer into the vault. Events go into the
// caller's batch; the caller publishes them once its transaction commits.
func (s *Service) CreateTx(tx *gorm.DB, batch *events.Batch, p CreateParams) (*domain.Escrow, error) {
	if p.TotalAmount <= 0 || p.PlatformFee < 0 || p.PlatformFee > p.TotalAmount {
		return nil, ErrValidation
	}

	delay := p.AutoReleaseDelay
	if delay == 0 {
		delay = s.cfg.AutoReleaseDefault
	}
	if delay < 0 || delay > s.cfg.AutoReleaseCeiling {
		return nil, ErrValidation
	}

	if len(p.Milestones) > 0 {
		var sum int64
		for _, m := range p.Milestones {
			if m.Amount <= 0 {
				return nil, ErrValidation
			}
			sum += m.Amount
		}
		if sum != p.TotalAmount-p.PlatformFee {
			return nil, ErrValidation
		}
	}

	var existing domain.Escrow
	err := tx.Where("booking_id = ?", p.BookingID).First(&existing).Error
	if err == nil {
		return nil, ErrAlreadyExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := s.now()
	esc := &domain.Escrow{
		BookingID:       p.BookingID,
		ConsumerID:      p.ConsumerID,
		ProviderID:      p.ProviderID,
		Asset:           p.Asset,
		TotalAmount:     p.TotalAmount,
		PlatformFee:     p.PlatformFee,
		RemainingAmount: p.TotalAmount,
		Status:          domain.EscrowActive,
		AutoReleaseAt:   now.Add(delay),
	}
	if err := tx.Create(esc).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, err
	}

	for i, m := range p.Milestones {
		row := domain.Milestone{
			EscrowID:    esc.ID,
			Idx:         i,
			Description: m.Description,
			Amount:      m.Amount,
			DueAt:       m.DueAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			return nil, err
		}
		esc.Milestones = append(esc.Milestones, row)
	}

	if _, err := s.funds.Move(tx,
		wallet.UserAccount(p.ConsumerID, p.Asset),
		wallet.VaultAccount(p.Asset),
		p.TotalAmount, wallet.EntryHold, escrowRef(esc.ID)); err != nil {
		return nil, err
	}

	if err := s.emit(tx, batch, &domain.Event{
		Type:       domain.EventEscrowCreated,
		EntityType: "escrow",
		EntityID:   esc.ID,
		ActorID:    p.ConsumerID,
		ConsumerID: p.ConsumerID,
		ProviderID: p.ProviderID,
		Amount:     p.TotalAmount,
		Asset:      p.Asset,
	}); err != nil {
		return nil, err
	}

	return esc, nil
}

// ReleasePayment releases the full remaining amount to the provider and the
// platform fee to the fee pool. Consumer only.
func (s *Service) ReleasePayment(ctx context.Context, escrowID int64, actor domain.Actor) (*domain.Escrow, error) {
	var out *domain.Escrow
	batch := &events.Batch{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireNotPaused(tx); err != nil {
			return err
		}
		esc, err := s.getForUpdate(tx, escrowID)
		if err != nil {
			return err
		}
		if actor.ID != esc.ConsumerID {
			return ErrForbidden
		}
		if err := s.releaseAllLocked(tx, batch, esc, actor.ID, false); err != nil {
			return err
		}
		out = esc
		return nil
	})
	if err != nil {
		return nil, err
	}
	batch.Flush(s.events)
	return out, nil
}

// ReleaseAllTx is the completion path used by the booking ledger: the
// consumer completing a booking releases the linked escrow in full.
func (s *Service) ReleaseAllTx(tx *gorm.DB, batch *events.Batch, bookingID int64, actorID int64, auto bool) (*domain.Escrow, error) {
	esc, err := s.getByBookingForUpdate(tx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.releaseAllLocked(tx, batch, esc, actorID, auto); err != nil {
		return nil, err
	}
	return esc, nil
}

func (s *Service) releaseAllLocked(tx *gorm.DB, batch *events.Batch, esc *domain.Escrow, actorID int64, auto bool) error {
	if !esc.Status.Releasable() {
		return ErrInvalidStatusTransition
	}
	if esc.RemainingAmount < esc.PlatformFee {
		// A stale fee against the remaining balance must never wrap.
		return ErrConservation
	}

	payout := esc.RemainingAmount - esc.PlatformFee
	if payout > 0 {
		if _, err := s.funds.Move(tx,
			wallet.VaultAccount(esc.Asset),
			wallet.UserAccount(esc.ProviderID, esc.Asset),
			payout, wallet.EntryRelease, escrowRef(esc.ID)); err != nil {
			return err
		}
	}
	if esc.PlatformFee > 0 {
		if _, err := s.funds.Move(tx,
			wallet.VaultAccount(esc.Asset),
			wallet.FeePoolAccount(esc.Asset),
			esc.PlatformFee, wallet.EntryFee, escrowRef(esc.ID)); err != nil {
			return err
		}
	}

	now := s.now()
	if err := tx.Model(&domain.Milestone{}).
		Where("escrow_id = ? AND released = ?", esc.ID, false).
		Updates(map[string]interface{}{"released": true, "completed": true, "released_at": &now}).Error; err != nil {
		return err
	}

	esc.RemainingAmount = 0
	esc.Status = domain.EscrowCompleted
	if err := tx.Model(&domain.Escrow{}).Where("id = ?", esc.ID).
		Updates(map[string]interface{}{"remaining_amount": 0, "status": esc.Status}).Error; err != nil {
		return err
	}

	eventType := domain.EventPaymentReleased
	if auto {
		eventType = domain.EventEscrowAutoReleased
	}
	return s.emit(tx, batch, &domain.Event{
		Type:       eventType,
		EntityType: "escrow",
		EntityID:   esc.ID,
		ActorID:    actorID,
		ConsumerID: esc.ConsumerID,
		ProviderID: esc.ProviderID,
		Amount:     payout,
		Asset:      esc.Asset,
	})
}

// ReleaseMilestone releases a single milestone to the provider. The escrow
// completes once every milestone is released, collecting the platform fee in
// the same step.
func (s *Service) ReleaseMilestone(ctx context.Context, escrowID int64, idx int, actor domain.Actor) (*domain.Escrow, error) {
	var out *domain.Escrow
	batch := &events.Batch{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireNotPaused(tx); err != nil {
			return err
		}
		esc, err := s.getForUpdate(tx, escrowID)
		if err != nil {
			return err
		}
		if actor.ID != esc.ConsumerID {
			return ErrForbidden
		}
		if !esc.Status.Releasable() {
			return ErrInvalidStatusTransition
		}
		if len(esc.Milestones) == 0 {
			return ErrValidation
		}
		if idx < 0 || idx >= len(esc.Milestones) {
			return ErrValidation
		}

		var ms *domain.Milestone
		for i := range esc.Milestones {
			if esc.Milestones[i].Idx == idx {
				ms = &esc.Milestones[i]
				break
			}
		}
		if ms == nil {
			return ErrValidation
		}
		if ms.Released {
			return ErrMilestoneReleased
		}
		if esc.RemainingAmount < ms.Amount {
			return ErrConservation
		}

		if _, err := s.funds.Move(tx,
			wallet.VaultAccount(esc.Asset),
			wallet.UserAccount(esc.ProviderID, esc.Asset),
			ms.Amount, wallet.EntryRelease, milestoneRef(esc.ID, idx)); err != nil {
			return err
		}

		now := s.now()
		if err := tx.Model(&domain.Milestone{}).
			Where("escrow_id = ? AND idx = ?", esc.ID, idx).
			Updates(map[string]interface{}{"released": true, "completed": true, "released_at": &now}).Error; err != nil {
			return err
		}
		ms.Released = true
		esc.RemainingAmount -= ms.Amount

		allReleased := true
		for i := range esc.Milestones {
			if !esc.Milestones[i].Released {
				allReleased = false
				break
			}
		}

		if allReleased {
			if esc.RemainingAmount != esc.PlatformFee {
				return ErrConservation
			}
			if esc.PlatformFee > 0 {
				if _, err := s.funds.Move(tx,
					wallet.VaultAccount(esc.Asset),
					wallet.FeePoolAccount(esc.Asset),
					esc.PlatformFee, wallet.EntryFee, escrowRef(esc.ID)); err != nil {
					return err
				}
				esc.RemainingAmount = 0
			}
			esc.Status = domain.EscrowCompleted
		} else {
			esc.Status = domain.EscrowPartiallyReleased
		}

		if err := tx.Model(&domain.Escrow{}).Where("id = ?", esc.ID).
			Updates(map[string]interface{}{
				"remaining_amount": esc.RemainingAmount,
				"status":           esc.Status,
			}).Error; err != nil {
			return err
		}

		if err := s.emit(tx, batch, &domain.Event{
			Type:       domain.EventMilestoneReleased,
			EntityType: "escrow",
			EntityID:   esc.ID,
			ActorID:    actor.ID,
			ConsumerID: esc.ConsumerID,
			ProviderID: esc.ProviderID,
			Amount:     ms.Amount,
			Asset:      esc.Asset,
		}); err != nil {
			return err
		}

		out = esc
		return nil
	})
	if err != nil {
		return nil, err
	}
	batch.Flush(s.events)
	return out, nil
}

// CompleteMilestone lets the provider flag a deliverable as done. It moves no
// funds; release stays a consumer decision.
func (s *Service) CompleteMilestone(ctx context.Context, escrowID int64, idx int, actor domain.Actor) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		esc, err := s.getForUpdate(tx, escrowID)
		if err != nil {
			return err
		}
		if actor.ID != esc.ProviderID {
			return ErrForbidden
		}
		if !esc.Status.Releasable() {
			return ErrInvalidStatusTransition
		}
		if idx < 0 || idx >= len(esc.Milestones) {
			return ErrValidation
		}
		return tx.Model(&domain.Milestone{}).
			Where("escrow_id = ? AND idx = ?", esc.ID, idx).
			Update("completed", true).Error
	})
}

// DisputePayment freezes the escrow and opens a dispute with an assigned
// arbitrator. No funds move at this step.
func (s *Service) DisputePayment(ctx context.Context, escrowID int64, reason string, actor domain.Actor) (*domain.Dispute, error) {
	var out *domain.Dispute
	batch := &events.Batch{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireNotPaused(tx); err != nil {
			return err
		}
		esc, err := s.getForUpdate(tx, escrowID)
		if err != nil {
			return err
		}
		d, err := s.disputeLocked(tx, batch, esc, actor, reason)
		if err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	batch.Flush(s.events)
	return out, nil
}

// DisputeTx is the booking-side entry point: dispute_booking delegates here
// within its own transaction.
func (s *Service) DisputeTx(tx *gorm.DB, batch *events.Batch, bookingID int64, actor domain.Actor, reason string) (*domain.Dispute, error) {
	esc, err := s.getByBookingForUpdate(tx, bookingID)
	if err != nil {
		return nil, err
	}
	return s.disputeLocked(tx, batch, esc, actor, reason)
}

func (s *Service) disputeLocked(tx *gorm.DB, batch *events.Batch, esc *domain.Escrow, actor domain.Actor, reason string) (*domain.Dispute, error) {
	if actor.ID != esc.ConsumerID && actor.ID != esc.ProviderID {
		return nil, ErrForbidden
	}
	if !esc.Status.Releasable() {
		return nil, ErrInvalidStatusTransition
	}
	if reason == "" {
		return nil, ErrValidation
	}

	deadline := s.now().Add(s.cfg.DisputeTimeout)
	d, err := s.disputes.OpenTx(tx, esc, domain.Actor{ID: actor.ID, Role: actor.Role}, reason, deadline)
	if err != nil {
		return nil, err
	}

	if err := tx.Model(&domain.Escrow{}).Where("id = ?", esc.ID).
		Updates(map[string]interface{}{
			"status":           domain.EscrowDisputed,
			"arbitrator_id":    d.ArbitratorID,
			"dispute_deadline": &d.Deadline,
		}).Error; err != nil {
		return nil, err
	}
	esc.Status = domain.EscrowDisputed
	esc.ArbitratorID = &d.ArbitratorID
	esc.DisputeDeadline = &d.Deadline

	// The booking mirrors the contested state.
	if err := tx.Model(&domain.Booking{}).Where("id = ?", esc.BookingID).
		Updates(map[string]interface{}{
			"status":         domain.BookingDisputed,
			"dispute_reason": reason,
		}).Error; err != nil {
		return nil, err
	}

	if err := s.emit(tx, batch, &domain.Event{
		Type:       domain.EventEscrowDisputed,
		EntityType: "escrow",
		EntityID:   esc.ID,
		ActorID:    actor.ID,
		ConsumerID: esc.ConsumerID,
		ProviderID: esc.ProviderID,
		Amount:     esc.RemainingAmount,
		Asset:      esc.Asset,
	}); err != nil {
		return nil, err
	}
	return d, nil
}

// ResolveDispute applies the arbitrator's binding decision. It must land
// strictly before the dispute deadline; afterwards the dispute is permanently
// unresolvable through this path.
func (s *Service) ResolveDispute(ctx context.Context, escrowID int64, res domain.Resolution, actor domain.Actor) (*domain.Escrow, error) {
	var out *domain.Escrow
	batch := &events.Batch{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		esc, err := s.getForUpdate(tx, escrowID)
		if err != nil {
			return err
		}
		if esc.Status != domain.EscrowDisputed {
			return ErrInvalidStatusTransition
		}
		if esc.DisputeDeadline == nil || !s.now().Before(*esc.DisputeDeadline) {
			return ErrDisputeTimedOut
		}
		if err := validateResolution(res, esc.RemainingAmount); err != nil {
			return err
		}

		if _, err := s.disputes.ResolveTx(tx, esc.ID, actor, res); err != nil {
			return err
		}

		if res.RefundAmount > 0 {
			if _, err := s.funds.Move(tx,
				wallet.VaultAccount(esc.Asset),
				wallet.UserAccount(esc.ConsumerID, esc.Asset),
				res.RefundAmount, wallet.EntryRefund, escrowRef(esc.ID)); err != nil {
				return err
			}
		}
		if res.PayoutAmount > 0 {
			if _, err := s.funds.Move(tx,
				wallet.VaultAccount(esc.Asset),
				wallet.UserAccount(esc.ProviderID, esc.Asset),
				res.PayoutAmount, wallet.EntryRelease, escrowRef(esc.ID)); err != nil {
				return err
			}
		}
		if rest := esc.RemainingAmount - res.RefundAmount - res.PayoutAmount; rest > 0 {
			if _, err := s.funds.Move(tx,
				wallet.VaultAccount(esc.Asset),
				wallet.FeePoolAccount(esc.Asset),
				rest, wallet.EntryFee, escrowRef(esc.ID)); err != nil {
				return err
			}
		}

		esc.RemainingAmount = 0
		esc.Status = domain.EscrowCompleted
		if err := tx.Model(&domain.Escrow{}).Where("id = ?", esc.ID).
			Updates(map[string]interface{}{"remaining_amount": 0, "status": esc.Status}).Error; err != nil {
			return err
		}

		// Close out the mirrored booking.
		if err := tx.Model(&domain.Booking{}).
			Where("id = ? AND status = ?", esc.BookingID, domain.BookingDisputed).
			Update("status", domain.BookingCompleted).Error; err != nil {
			return err
		}

		if err := s.emit(tx, batch, &domain.Event{
			Type:       domain.EventDisputeResolved,
			EntityType: "escrow",
			EntityID:   esc.ID,
			ActorID:    actor.ID,
			ConsumerID: esc.ConsumerID,
			ProviderID: esc.ProviderID,
			Amount:     res.RefundAmount + res.PayoutAmount,
			Asset:      esc.Asset,
		}); err != nil {
			return err
		}

		out = esc
		return nil
	})
	if err != nil {
		return nil, err
	}
	batch.Flush(s.events)
	return out, nil
}

// RefundPayment is a voluntary provider refund of part or all of the held
// funds.
func (s *Service) RefundPayment(ctx context.Context, escrowID int64, amount int64, actor domain.Actor) (*domain.Escrow, error) {
	var out *domain.Escrow
	batch := &events.Batch{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireNotPaused(tx); err != nil {
			return err
		}
		esc, err := s.getForUpdate(tx, escrowID)
		if err != nil {
			return err
		}
		if actor.ID != esc.ProviderID {
			return ErrForbidden
		}
		if !esc.Status.Releasable() {
			return ErrInvalidStatusTransition
		}
		if amount <= 0 || amount > esc.RemainingAmount {
			return ErrValidation
		}

		if _, err := s.funds.Move(tx,
			wallet.VaultAccount(esc.Asset),
			wallet.UserAccount(esc.ConsumerID, esc.Asset),
			amount, wallet.EntryRefund, escrowRef(esc.ID)); err != nil {
			return err
		}

		esc.RemainingAmount -= amount
		if esc.RemainingAmount == 0 {
			esc.Status = domain.EscrowRefunded
		} else {
			esc.Status = domain.EscrowPartiallyReleased
		}
		if err := tx.Model(&domain.Escrow{}).Where("id = ?", esc.ID).
			Updates(map[string]interface{}{
				"remaining_amount": esc.RemainingAmount,
				"status":           esc.Status,
			}).Error; err != nil {
			return err
		}

		if esc.Status == domain.EscrowRefunded {
			// A fully refunded escrow ends its booking without a fee.
			now := s.now()
			if err := tx.Model(&domain.Booking{}).
				Where("id = ? AND status IN ?", esc.BookingID,
					[]domain.BookingStatus{domain.BookingPending, domain.BookingConfirmed, domain.BookingInProgress}).
				Updates(map[string]interface{}{"status": domain.BookingCancelled, "cancelled_at": &now}).Error; err != nil {
				return err
			}
		}

		if err := s.emit(tx, batch, &domain.Event{
			Type:       domain.EventPaymentRefunded,
			EntityType: "escrow",
			EntityID:   esc.ID,
			ActorID:    actor.ID,
			ConsumerID: esc.ConsumerID,
			ProviderID: esc.ProviderID,
			Amount:     amount,
			Asset:      esc.Asset,
		}); err != nil {
			return err
		}

		out = esc
		return nil
	})
	if err != nil {
		return nil, err
	}
	batch.Flush(s.events)
	return out, nil
}

// CancelTx settles the escrow for a cancelled or expired booking within the
// booking ledger's transaction: the cancellation fee goes to the provider,
// everything else back to the consumer.
func (s *Service) CancelTx(tx *gorm.DB, batch *events.Batch, bookingID int64, cancellationFee int64, expired bool, actorID int64) (*domain.Escrow, error) {
	esc, err := s.getByBookingForUpdate(tx, bookingID)
	if err != nil {
		return nil, err
	}
	if !esc.Status.Releasable() {
		return nil, ErrInvalidStatusTransition
	}
	if cancellationFee < 0 || cancellationFee > esc.RemainingAmount {
		return nil, ErrConservation
	}

	if cancellationFee > 0 {
		if _, err := s.funds.Move(tx,
			wallet.VaultAccount(esc.Asset),
			wallet.UserAccount(esc.ProviderID, esc.Asset),
			cancellationFee, wallet.EntryRelease, escrowRef(esc.ID)); err != nil {
			return nil, err
		}
	}
	if refund := esc.RemainingAmount - cancellationFee; refund > 0 {
		if _, err := s.funds.Move(tx,
			wallet.VaultAccount(esc.Asset),
			wallet.UserAccount(esc.ConsumerID, esc.Asset),
			refund, wallet.EntryRefund, escrowRef(esc.ID)); err != nil {
			return nil, err
		}
	}

	refunded := esc.RemainingAmount - cancellationFee
	esc.RemainingAmount = 0
	if expired {
		esc.Status = domain.EscrowExpired
	} else {
		esc.Status = domain.EscrowRefunded
	}
	if err := tx.Model(&domain.Escrow{}).Where("id = ?", esc.ID).
		Updates(map[string]interface{}{"remaining_amount": 0, "status": esc.Status}).Error; err != nil {
		return nil, err
	}

	if err := s.emit(tx, batch, &domain.Event{
		Type:       domain.EventPaymentRefunded,
		EntityType: "escrow",
		EntityID:   esc.ID,
		ActorID:    actorID,
		ConsumerID: esc.ConsumerID,
		ProviderID: esc.ProviderID,
		Amount:     refunded,
		Asset:      esc.Asset,
	}); err != nil {
		return nil, err
	}
	return esc, nil
}

// AutoRelease is the permissionless, time-triggered release protecting the
// provider from an unresponsive consumer. Any caller may invoke it; it only
// succeeds once the auto-release time has passed.
func (s *Service) AutoRelease(ctx context.Context, escrowID int64, actor domain.Actor) (*domain.Escrow, error) {
	var out *domain.Escrow
	batch := &events.Batch{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireNotPaused(tx); err != nil {
			return err
		}
		esc, err := s.getForUpdate(tx, escrowID)
		if err != nil {
			return err
		}
		if !esc.Status.Releasable() {
			return ErrInvalidStatusTransition
		}
		if s.now().Before(esc.AutoReleaseAt) {
			return ErrNotDue
		}
		if err := s.releaseAllLocked(tx, batch, esc, actor.ID, true); err != nil {
			return err
		}

		// The silent consumer's booking is closed alongside.
		if err := tx.Model(&domain.Booking{}).
			Where("id = ? AND status IN ?", esc.BookingID,
				[]domain.BookingStatus{domain.BookingConfirmed, domain.BookingInProgress}).
			Update("status", domain.BookingCompleted).Error; err != nil {
			return err
		}

		out = esc
		return nil
	})
	if err != nil {
		return nil, err
	}
	batch.Flush(s.events)
	return out, nil
}

// EmergencyWithdraw sweeps the remaining funds to the platform wallet. Admin
// only, and only while the platform is paused.
func (s *Service) EmergencyWithdraw(ctx context.Context, escrowID int64, actor domain.Actor) (*domain.Escrow, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	var out *domain.Escrow
	batch := &events.Batch{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		settings, err := s.settings.GetTx(tx)
		if err != nil {
			return err
		}
		if !settings.Paused {
			return ErrNotPaused
		}

		esc, err := s.getForUpdate(tx, escrowID)
		if err != nil {
			return err
		}
		if esc.Status.Terminal() {
			return ErrInvalidStatusTransition
		}

		swept := esc.RemainingAmount
		if swept > 0 {
			if _, err := s.funds.Move(tx,
				wallet.VaultAccount(esc.Asset),
				wallet.UserAccount(settings.PlatformWalletUserID, esc.Asset),
				swept, wallet.EntrySweep, escrowRef(esc.ID)); err != nil {
				return err
			}
		}

		esc.RemainingAmount = 0
		esc.Status = domain.EscrowEmergencyWithdrawn
		if err := tx.Model(&domain.Escrow{}).Where("id = ?", esc.ID).
			Updates(map[string]interface{}{"remaining_amount": 0, "status": esc.Status}).Error; err != nil {
			return err
		}

		now := s.now()
		if err := tx.Model(&domain.Booking{}).
			Where("id = ? AND status NOT IN ?", esc.BookingID,
				[]domain.BookingStatus{domain.BookingCompleted, domain.BookingCancelled, domain.BookingExpired}).
			Updates(map[string]interface{}{"status": domain.BookingCancelled, "cancelled_at": &now}).Error; err != nil {
			return err
		}

		if err := s.emit(tx, batch, &domain.Event{
			Type:       domain.EventEmergencyWithdrawn,
			EntityType: "escrow",
			EntityID:   esc.ID,
			ActorID:    actor.ID,
			ConsumerID: esc.ConsumerID,
			ProviderID: esc.ProviderID,
			Amount:     swept,
			Asset:      esc.Asset,
		}); err != nil {
			return err
		}

		out = esc
		return nil
	})
	if err != nil {
		return nil, err
	}
	batch.Flush(s.events)
	return out, nil
}

// ClaimPlatformFees drains the accumulated fee pool for one asset to the
// platform wallet. The pool row is locked and zeroed in the same step as the
// transfer, so a double claim can never pay twice.
func (s *Service) ClaimPlatformFees(ctx context.Context, asset string, actor domain.Actor) (int64, error) {
	if !actor.IsAdmin() {
		return 0, ErrForbidden
	}

	var claimed int64
	batch := &events.Batch{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		settings, err := s.settings.GetTx(tx)
		if err != nil {
			return err
		}

		amount, err := s.funds.Drain(tx,
			wallet.FeePoolAccount(asset),
			wallet.UserAccount(settings.PlatformWalletUserID, asset),
			wallet.EntryClaim, "fees:"+asset)
		if err != nil {
			return err
		}
		claimed = amount
		if amount == 0 {
			return nil
		}

		return s.emit(tx, batch, &domain.Event{
			Type:       domain.EventFeesClaimed,
			EntityType: "platform",
			EntityID:   settings.PlatformWalletUserID,
			ActorID:    actor.ID,
			Amount:     amount,
			Asset:      asset,
		})
	})
	if err != nil {
		return 0, err
	}
	batch.Flush(s.events)
	return claimed, nil
}

func (s *Service) GetByID(ctx context.Context, id int64) (*domain.Escrow, error) {
	var esc domain.Escrow
	err := s.db.WithContext(ctx).Preload("Milestones", milestoneOrder).First(&esc, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &esc, nil
}

func (s *Service) GetByBookingID(ctx context.Context, bookingID int64) (*domain.Escrow, error) {
	var esc domain.Escrow
	err := s.db.WithContext(ctx).Preload("Milestones", milestoneOrder).
		Where("booking_id = ?", bookingID).First(&esc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &esc, nil
}

func (s *Service) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]domain.Escrow, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []domain.Escrow
	err := s.db.WithContext(ctx).Preload("Milestones", milestoneOrder).
		Where("consumer_id = ? OR provider_id = ?", userID, userID).
		Order("id desc").Limit(limit).Offset(offset).
		Find(&out).Error
	return out, err
}

func (s *Service) getForUpdate(tx *gorm.DB, id int64) (*domain.Escrow, error) {
	var esc domain.Escrow
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&esc, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Where("escrow_id = ?", esc.ID).Order("idx asc").Find(&esc.Milestones).Error; err != nil {
		return nil, err
	}
	return &esc, nil
}

func (s *Service) getByBookingForUpdate(tx *gorm.DB, bookingID int64) (*domain.Escrow, error) {
	var esc domain.Escrow
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("booking_id = ?", bookingID).First(&esc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Where("escrow_id = ?", esc.ID).Order("idx asc").Find(&esc.Milestones).Error; err != nil {
		return nil, err
	}
	return &esc, nil
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

// emit records the event inside the transaction and stages it for fan-out.
// Publishing happens only after the transaction commits, so listeners never
// see a transition that rolled back.
func (s *Service) emit(tx *gorm.DB, batch *events.Batch, e *domain.Event) error {
	if err := s.events.RecordTx(tx, e); err != nil {
		return err
	}
	batch.Add(e)
	return nil
}

func validateResolution(res domain.Resolution, remaining int64) error {
	if res.RefundAmount < 0 || res.PayoutAmount < 0 {
		return ErrValidation
	}
	if res.RefundAmount+res.PayoutAmount > remaining {
		return ErrValidation
	}
	switch res.Type {
	case domain.ResolutionFavorConsumer:
		if res.PayoutAmount != 0 || res.RefundAmount == 0 {
			return ErrValidation
		}
	case domain.ResolutionFavorProvider:
		if res.RefundAmount != 0 || res.PayoutAmount == 0 {
			return ErrValidation
		}
	case domain.ResolutionSplit:
		if res.RefundAmount+res.PayoutAmount == 0 {
			return ErrValidation
		}
	default:
		return ErrValidation
	}
	return nil
}

func milestoneOrder(db *gorm.DB) *gorm.DB {
	return db.Order("escrow_milestones.idx asc")
}

func escrowRef(id int64) string {
	return fmt.Sprintf("escrow:%d", id)
}

func milestoneRef(id int64, idx int) string {
	return fmt.Sprintf("escrow:%d:milestone:%d", id, idx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
