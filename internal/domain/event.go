package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EventType string

const (
	EventBookingCreated   EventType = "booking.created"
	EventBookingConfirmed EventType = "booking.confirmed"
	EventBookingStarted   EventType = "booking.started"
	EventBookingCancelled EventType = "booking.cancelled"
	EventBookingCompleted EventType = "booking.completed"
	EventBookingDisputed  EventType = "booking.disputed"
	EventBookingExpired   EventType = "booking.expired"

	EventEscrowCreated      EventType = "escrow.created"
	EventPaymentReleased    EventType = "escrow.payment_released"
	EventMilestoneReleased  EventType = "escrow.milestone_released"
	EventEscrowDisputed     EventType = "escrow.disputed"
	EventDisputeResolved    EventType = "escrow.dispute_resolved"
	EventPaymentRefunded    EventType = "escrow.refunded"
	EventEscrowAutoReleased EventType = "escrow.auto_released"
	EventEmergencyWithdrawn EventType = "escrow.emergency_withdrawn"
	EventFeesClaimed        EventType = "escrow.fees_claimed"

	EventEvidenceSubmitted EventType = "dispute.evidence_submitted"

	EventPlatformPaused   EventType = "platform.paused"
	EventPlatformUnpaused EventType = "platform.unpaused"
)

// Event is an append-only domain event consumed by the notification
// collaborator, either through the websocket stream or the query endpoint.
type Event struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Type       EventType `json:"type" gorm:"type:varchar(48);not null;index"`
	EntityType string    `json:"entity_type" gorm:"type:varchar(16);not null;index:idx_event_entity"`
	EntityID   int64     `json:"entity_id" gorm:"not null;index:idx_event_entity"`
	ActorID    int64     `json:"actor_id"`
	ConsumerID int64     `json:"consumer_id,omitempty"`
	ProviderID int64     `json:"provider_id,omitempty"`
	Amount     int64     `json:"amount,omitempty"`
	Asset      string    `json:"asset,omitempty" gorm:"type:varchar(16)"`
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
}

func (Event) TableName() string { return "domain_events" }

func (e *Event) BeforeCreate(_ *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
