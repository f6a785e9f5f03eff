package domain

import "time"

// MaxCancellationFeeRateBp caps the configurable cancellation fee at 20%.
const MaxCancellationFeeRateBp = 2000

// PlatformSettings is a single-row table holding the administrative state of
// the marketplace. Every mutating escrow/booking operation reads it inside
// its own transaction rather than trusting a cached copy.
type PlatformSettings struct {
	ID                    int64     `json:"id" gorm:"primaryKey"`
	Paused                bool      `json:"paused" gorm:"not null;default:false"`
	CancellationFeeRateBp int64     `json:"cancellation_fee_rate_bp" gorm:"not null"`
	PlatformFeeRateBp     int64     `json:"platform_fee_rate_bp" gorm:"not null"`
	PlatformWalletUserID  int64     `json:"platform_wallet_user_id" gorm:"not null"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func (PlatformSettings) TableName() string { return "platform_settings" }

// Arbitrator registry rows; assignment walks active rows round-robin.
type Arbitrator struct {
	UserID    int64      `json:"user_id" gorm:"primaryKey"`
	Active    bool       `json:"active" gorm:"not null;default:true"`
	CaseCount int64      `json:"case_count" gorm:"not null;default:0"`
	AddedAt   time.Time  `json:"added_at"`
	AddedByID int64      `json:"added_by_id"`
	RemovedAt *time.Time `json:"removed_at,omitempty"`
}

func (Arbitrator) TableName() string { return "arbitrators" }

type Asset struct {
	Code      string    `json:"code" gorm:"type:varchar(16);primaryKey"`
	Active    bool      `json:"active" gorm:"not null;default:true"`
	CreatedAt time.Time `json:"created_at"`
}

func (Asset) TableName() string { return "assets" }
