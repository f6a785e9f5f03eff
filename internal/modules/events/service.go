package events

import (
	"context"
	"time"

	"gorm.io/gorm"

	"trustbook/internal/domain"
)

// Service owns the append-only domain event log. RecordTx persists an event
// inside the same transaction as the state transition that produced it;
// Publish fans it out to websocket listeners after the transaction commits.
type Service struct {
	db  *gorm.DB
	hub *Hub
}

func NewService(db *gorm.DB, hub *Hub) *Service {
	return &Service{db: db, hub: hub}
}

func (s *Service) RecordTx(tx *gorm.DB, e *domain.Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return tx.Create(e).Error
}

// Publish is best-effort; a slow or absent listener never fails a transition.
func (s *Service) Publish(e *domain.Event) {
	if s.hub != nil {
		s.hub.Broadcast(e)
	}
}

// ListByEntity returns the recorded events for one entity, oldest first.
func (s *Service) ListByEntity(ctx context.Context, entityType string, entityID int64, limit int) ([]domain.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []domain.Event
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at asc").Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *Service) ListRecent(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []domain.Event
	err := s.db.WithContext(ctx).
		Order("created_at desc").Limit(limit).
		Find(&out).Error
	return out, err
}
