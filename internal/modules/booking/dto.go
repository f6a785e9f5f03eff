package booking

import (
	"time"

	"trustbook/internal/modules/escrow"
)

type CreateBookingRequest struct {
	ProviderID int64     `json:"provider_id" binding:"required"`
	ServiceID  int64     `json:"service_id" binding:"required"`
	StartTime  time.Time `json:"start_time" binding:"required"`
	EndTime    time.Time `json:"end_time" binding:"required"`
	Amount     int64     `json:"amount" binding:"required"`
	Asset      string    `json:"asset"`

	// Optional milestone schedule; amounts must sum to amount minus the
	// platform fee.
	Milestones []escrow.MilestoneInput `json:"milestones"`

	// Optional auto-release delay in seconds; zero means the default.
	AutoReleaseDelaySeconds int64 `json:"auto_release_delay_seconds"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type disputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// BusySlot is one reserved interval in a provider's schedule.
type BusySlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
