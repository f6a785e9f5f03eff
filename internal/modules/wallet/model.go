package wallet

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OwnerType string

const (
	// OwnerUser accounts belong to marketplace users.
	OwnerUser OwnerType = "user"
	// OwnerVault holds funds locked in escrow; one account per asset.
	OwnerVault OwnerType = "vault"
	// OwnerFeePool accumulates platform fees until an admin claims them.
	OwnerFeePool OwnerType = "fee_pool"
)

const (
	EntryDeposit   = "DEPOSIT"
	EntryHold      = "HOLD"
	EntryRelease   = "RELEASE"
	EntryRefund    = "REFUND"
	EntryFee       = "FEE"
	EntryClaim     = "CLAIM"
	EntrySweep     = "SWEEP"
)

// AccountKey identifies a ledger account. System accounts (vault, fee pool)
// use OwnerID 0.
type AccountKey struct {
	Type    OwnerType
	OwnerID int64
	Asset   string
}

func UserAccount(userID int64, asset string) AccountKey {
	return AccountKey{Type: OwnerUser, OwnerID: userID, Asset: asset}
}

func VaultAccount(asset string) AccountKey {
	return AccountKey{Type: OwnerVault, Asset: asset}
}

func FeePoolAccount(asset string) AccountKey {
	return AccountKey{Type: OwnerFeePool, Asset: asset}
}

// Account stores a single balance in minor units.
type Account struct {
	ID      uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Type    OwnerType `json:"type" gorm:"type:varchar(16);not null;uniqueIndex:idx_account_key,priority:1"`
	OwnerID int64     `json:"owner_id" gorm:"not null;uniqueIndex:idx_account_key,priority:2"`
	Asset   string    `json:"asset" gorm:"type:varchar(16);not null;uniqueIndex:idx_account_key,priority:3"`
	Balance int64     `json:"balance" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Account) TableName() string { return "wallet_accounts" }

func (a *Account) BeforeCreate(_ *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// Entry records one completed movement between two accounts. Every economic
// event in the escrow core produces exactly one entry.
type Entry struct {
	ID            uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	FromAccountID uuid.UUID `json:"from_account_id" gorm:"type:uuid;not null;index"`
	ToAccountID   uuid.UUID `json:"to_account_id" gorm:"type:uuid;not null;index"`
	Asset         string    `json:"asset" gorm:"type:varchar(16);not null"`
	Amount        int64     `json:"amount" gorm:"not null"`
	Kind          string    `json:"kind" gorm:"type:varchar(16);not null;index"`
	Reference     string    `json:"reference,omitempty" gorm:"type:varchar(64);index"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (Entry) TableName() string { return "wallet_entries" }

func (e *Entry) BeforeCreate(_ *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
