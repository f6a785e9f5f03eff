package domain

import "time"

type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeResolved DisputeStatus = "resolved"
)

type ResolutionType string

const (
	ResolutionFavorConsumer ResolutionType = "favor_consumer"
	ResolutionFavorProvider ResolutionType = "favor_provider"
	ResolutionSplit         ResolutionType = "split"
)

// Resolution is the arbitrator's binding decision. RefundAmount goes back to
// the consumer, PayoutAmount to the provider; anything left of the escrow's
// remaining funds is routed to the platform fee pool.
type Resolution struct {
	Type         ResolutionType `json:"type"`
	RefundAmount int64          `json:"refund_amount"`
	PayoutAmount int64          `json:"payout_amount"`
}

type Dispute struct {
	ID       int64 `json:"id" gorm:"primaryKey"`
	EscrowID int64 `json:"escrow_id" gorm:"not null;uniqueIndex"`

	InitiatorID  int64  `json:"initiator_id" gorm:"not null"`
	RespondentID int64  `json:"respondent_id" gorm:"not null"`
	ArbitratorID int64  `json:"arbitrator_id" gorm:"not null;index"`
	Reason       string `json:"reason" gorm:"type:text"`

	Status         DisputeStatus  `json:"status" gorm:"type:varchar(16);not null;index"`
	Deadline       time.Time      `json:"deadline" gorm:"not null"`
	ResolutionType ResolutionType `json:"resolution_type,omitempty" gorm:"type:varchar(24)"`
	RefundAmount   int64          `json:"refund_amount,omitempty"`
	PayoutAmount   int64          `json:"payout_amount,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

func (Dispute) TableName() string { return "disputes" }

// Evidence rows are append-only; the service exposes no update or delete.
type Evidence struct {
	ID          int64     `json:"id" gorm:"primaryKey"`
	DisputeID   int64     `json:"dispute_id" gorm:"not null;index"`
	SubmitterID int64     `json:"submitter_id" gorm:"not null"`
	ContentHash string    `json:"content_hash" gorm:"type:varchar(64);not null"`
	Note        string    `json:"note,omitempty" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Evidence) TableName() string { return "dispute_evidence" }
