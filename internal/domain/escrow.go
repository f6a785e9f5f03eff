package domain

import "time"

type EscrowStatus string

const (
	EscrowActive             EscrowStatus = "active"
	EscrowPartiallyReleased  EscrowStatus = "partially_released"
	EscrowCompleted          EscrowStatus = "completed"
	EscrowDisputed           EscrowStatus = "disputed"
	EscrowRefunded           EscrowStatus = "refunded"
	EscrowEmergencyWithdrawn EscrowStatus = "emergency_withdrawn"
	EscrowExpired            EscrowStatus = "expired"
)

func (s EscrowStatus) Terminal() bool {
	switch s {
	case EscrowCompleted, EscrowRefunded, EscrowEmergencyWithdrawn, EscrowExpired:
		return true
	}
	return false
}

// Releasable reports whether funds may still leave the escrow through the
// normal (non-dispute, non-emergency) paths.
func (s EscrowStatus) Releasable() bool {
	return s == EscrowActive || s == EscrowPartiallyReleased
}

type Escrow struct {
	ID        int64 `json:"id" gorm:"primaryKey"`
	BookingID int64 `json:"booking_id" gorm:"not null;uniqueIndex"`

	ConsumerID   int64  `json:"consumer_id" gorm:"not null;index"`
	ProviderID   int64  `json:"provider_id" gorm:"not null;index"`
	ArbitratorID *int64 `json:"arbitrator_id,omitempty"`

	Asset           string `json:"asset" gorm:"type:varchar(16);not null"`
	TotalAmount     int64  `json:"total_amount" gorm:"not null"`
	PlatformFee     int64  `json:"platform_fee" gorm:"not null"`
	RemainingAmount int64  `json:"remaining_amount" gorm:"not null"`

	Status          EscrowStatus `json:"status" gorm:"type:varchar(24);not null;index"`
	AutoReleaseAt   time.Time    `json:"auto_release_at" gorm:"not null"`
	DisputeDeadline *time.Time   `json:"dispute_deadline,omitempty"`

	Milestones []Milestone `json:"milestones,omitempty" gorm:"foreignKey:EscrowID"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Escrow) TableName() string { return "escrows" }

// Milestone is a priced sub-deliverable of an escrow. Rows are keyed by
// (escrow_id, idx) and updated in place, never rewritten wholesale.
type Milestone struct {
	ID          int64      `json:"id" gorm:"primaryKey"`
	EscrowID    int64      `json:"escrow_id" gorm:"not null;uniqueIndex:idx_escrow_milestone,priority:1"`
	Idx         int        `json:"idx" gorm:"not null;uniqueIndex:idx_escrow_milestone,priority:2"`
	Description string     `json:"description" gorm:"type:text"`
	Amount      int64      `json:"amount" gorm:"not null"`
	DueAt       time.Time  `json:"due_at"`
	Completed   bool       `json:"completed" gorm:"not null;default:false"`
	Released    bool       `json:"released" gorm:"not null;default:false"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`
}

func (Milestone) TableName() string { return "escrow_milestones" }
