package escrow

import "time"

type MilestoneInput struct {
	Description string    `json:"description"`
	Amount      int64     `json:"amount" binding:"required"`
	DueAt       time.Time `json:"due_at"`
}

// CreateParams describes a new escrow. It is produced by the booking module
// in the same transaction that creates the booking.
type CreateParams struct {
	BookingID  int64
	ConsumerID int64
	ProviderID int64
	Asset      string

	TotalAmount int64
	PlatformFee int64

	AutoReleaseDelay time.Duration // zero means the configured default
	Milestones       []MilestoneInput
}

type resolveRequest struct {
	Type         string `json:"type" binding:"required"`
	RefundAmount int64  `json:"refund_amount"`
	PayoutAmount int64  `json:"payout_amount"`
}

type disputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type refundRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}
