package domain

import "time"

type UserRole string

const (
	RoleConsumer   UserRole = "consumer"
	RoleProvider   UserRole = "provider"
	RoleArbitrator UserRole = "arbitrator"
	RoleAdmin      UserRole = "admin"
)

type User struct {
	ID           int64     `json:"id" gorm:"primaryKey"`
	Email        string    `json:"email" gorm:"uniqueIndex;not null" validate:"required,email"`
	PasswordHash string    `json:"-" gorm:"not null"`
	Role         UserRole  `json:"role" gorm:"type:varchar(16);not null;index"`
	Name         string    `json:"name"`
	Active       bool      `json:"active" gorm:"not null;default:true"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// Actor is the authenticated identity attached to every state-changing call.
type Actor struct {
	ID   int64
	Role UserRole
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }
