package domain

import "time"

type BookingStatus string

const (
	BookingPending    BookingStatus = "pending"
	BookingConfirmed  BookingStatus = "confirmed"
	BookingInProgress BookingStatus = "in_progress"
	BookingCompleted  BookingStatus = "completed"
	BookingCancelled  BookingStatus = "cancelled"
	BookingDisputed   BookingStatus = "disputed"
	BookingExpired    BookingStatus = "expired"
)

// Terminal reports whether no further transition is permitted from s.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingCompleted, BookingCancelled, BookingExpired:
		return true
	}
	return false
}

// Active reports whether the booking holds its provider's time slot.
// Pending bookings reserve the slot so that two consumers can never
// co-book the same interval while one confirmation is outstanding.
func (s BookingStatus) Active() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingInProgress:
		return true
	}
	return false
}

type Booking struct {
	ID         int64     `json:"id" gorm:"primaryKey"`
	ConsumerID int64     `json:"consumer_id" gorm:"not null;index"`
	ProviderID int64     `json:"provider_id" gorm:"not null;index:idx_provider_schedule"`
	ServiceID  int64     `json:"service_id" gorm:"not null"`
	StartTime  time.Time `json:"start_time" gorm:"not null;index:idx_provider_schedule"`
	EndTime    time.Time `json:"end_time" gorm:"not null"`

	Amount int64  `json:"amount" gorm:"not null"`
	Asset  string `json:"asset" gorm:"type:varchar(16);not null"`

	Status          BookingStatus `json:"status" gorm:"type:varchar(16);not null;index"`
	CancellationFee int64         `json:"cancellation_fee,omitempty"`
	DisputeReason   string        `json:"dispute_reason,omitempty" gorm:"type:text"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

func (Booking) TableName() string { return "bookings" }

// Overlaps applies the half-open [start, end) interval test.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.StartTime.Before(end) && start.Before(b.EndTime)
}
