package dispute

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"trustbook/internal/domain"
)

// ArbitratorPicker assigns an arbitrator from the platform registry.
type ArbitratorPicker interface {
	NextArbitratorTx(tx *gorm.DB) (int64, error)
}

type EventRecorder interface {
	RecordTx(tx *gorm.DB, e *domain.Event) error
	Publish(e *domain.Event)
}

// Service is the thin coordination layer between the escrow ledger and the
// arbitrator: it assigns exactly one arbitrator per dispute, keeps the
// append-only evidence log, and exposes the single resolve transition the
// ledger consumes.
type Service struct {
	db          *gorm.DB
	arbitrators ArbitratorPicker
	events      EventRecorder
	now         func() time.Time
}

func NewService(db *gorm.DB, arbitrators ArbitratorPicker, events EventRecorder) *Service {
	return &Service{
		db:          db,
		arbitrators: arbitrators,
		events:      events,
		now:         time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// OpenTx creates the dispute record inside the escrow ledger's transaction.
func (s *Service) OpenTx(tx *gorm.DB, esc *domain.Escrow, initiator domain.Actor, reason string, deadline time.Time) (*domain.Dispute, error) {
	if reason == "" {
		return nil, ErrValidation
	}

	respondent := esc.ProviderID
	if initiator.ID == esc.ProviderID {
		respondent = esc.ConsumerID
	}

	arbitratorID, err := s.arbitrators.NextArbitratorTx(tx)
	if err != nil {
		return nil, err
	}

	d := &domain.Dispute{
		EscrowID:     esc.ID,
		InitiatorID:  initiator.ID,
		RespondentID: respondent,
		ArbitratorID: arbitratorID,
		Reason:       reason,
		Status:       domain.DisputeOpen,
		Deadline:     deadline,
	}
	if err := tx.Create(d).Error; err != nil {
		return nil, err
	}
	return d, nil
}

// ResolveTx records the arbitrator's decision. The escrow ledger has already
// checked the deadline and the amounts against the held funds; this layer
// checks who is deciding and that the dispute is still open.
func (s *Service) ResolveTx(tx *gorm.DB, escrowID int64, arbitrator domain.Actor, res domain.Resolution) (*domain.Dispute, error) {
	var d domain.Dispute
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("escrow_id = ?", escrowID).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if d.Status != domain.DisputeOpen {
		return nil, ErrClosed
	}
	if arbitrator.ID != d.ArbitratorID {
		return nil, ErrNotArbitrator
	}

	now := s.now()
	updates := map[string]interface{}{
		"status":          domain.DisputeResolved,
		"resolution_type": res.Type,
		"refund_amount":   res.RefundAmount,
		"payout_amount":   res.PayoutAmount,
		"resolved_at":     &now,
	}
	if err := tx.Model(&domain.Dispute{}).Where("id = ?", d.ID).Updates(updates).Error; err != nil {
		return nil, err
	}

	d.Status = domain.DisputeResolved
	d.ResolutionType = res.Type
	d.RefundAmount = res.RefundAmount
	d.PayoutAmount = res.PayoutAmount
	d.ResolvedAt = &now
	return &d, nil
}

// SubmitEvidence appends a hash-referenced evidence record. Either party may
// submit while the dispute is open; nothing is ever deleted.
func (s *Service) SubmitEvidence(ctx context.Context, disputeID int64, content, note string, actor domain.Actor) (*domain.Evidence, error) {
	if content == "" {
		return nil, ErrValidation
	}

	var out *domain.Evidence
	var evt *domain.Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var d domain.Dispute
		err := tx.First(&d, disputeID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if actor.ID != d.InitiatorID && actor.ID != d.RespondentID {
			return ErrNotParty
		}
		if d.Status != domain.DisputeOpen {
			return ErrClosed
		}

		sum := sha256.Sum256([]byte(content))
		ev := &domain.Evidence{
			DisputeID:   d.ID,
			SubmitterID: actor.ID,
			ContentHash: hex.EncodeToString(sum[:]),
			Note:        note,
		}
		if err := tx.Create(ev).Error; err != nil {
			return err
		}

		// The event carries both escrow parties so the respondent sees
		// opposing evidence on the stream, not just the submitter.
		var esc domain.Escrow
		if err := tx.Select("consumer_id", "provider_id").First(&esc, d.EscrowID).Error; err != nil {
			return err
		}
		evt = &domain.Event{
			Type:       domain.EventEvidenceSubmitted,
			EntityType: "dispute",
			EntityID:   d.ID,
			ActorID:    actor.ID,
			ConsumerID: esc.ConsumerID,
			ProviderID: esc.ProviderID,
		}
		if err := s.events.RecordTx(tx, evt); err != nil {
			return err
		}

		out = ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.events.Publish(evt)
	return out, nil
}

func (s *Service) GetByID(ctx context.Context, id int64) (*domain.Dispute, error) {
	var d domain.Dispute
	err := s.db.WithContext(ctx).First(&d, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Service) GetByEscrowID(ctx context.Context, escrowID int64) (*domain.Dispute, error) {
	var d domain.Dispute
	err := s.db.WithContext(ctx).Where("escrow_id = ?", escrowID).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Service) ListEvidence(ctx context.Context, disputeID int64) ([]domain.Evidence, error) {
	var out []domain.Evidence
	err := s.db.WithContext(ctx).
		Where("dispute_id = ?", disputeID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// ListAssigned returns the open disputes waiting on an arbitrator.
func (s *Service) ListAssigned(ctx context.Context, arbitratorID int64) ([]domain.Dispute, error) {
	var out []domain.Dispute
	err := s.db.WithContext(ctx).
		Where("arbitrator_id = ? AND status = ?", arbitratorID, domain.DisputeOpen).
		Order("deadline asc").
		Find(&out).Error
	return out, err
}
