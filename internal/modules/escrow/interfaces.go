package escrow

import (
	"time"

	"gorm.io/gorm"

	"trustbook/internal/domain"
	"trustbook/internal/modules/wallet"
)

// FundMover is the narrow fund-transfer surface the ledger is allowed to use.
// Exactly one Move (or Drain) call happens per economic event.
type FundMover interface {
	Move(tx *gorm.DB, from, to wallet.AccountKey, amount int64, kind, reference string) (*wallet.Entry, error)
	Drain(tx *gorm.DB, from, to wallet.AccountKey, kind, reference string) (int64, error)
}

type EventRecorder interface {
	RecordTx(tx *gorm.DB, e *domain.Event) error
	Publish(e *domain.Event)
}

type SettingsStore interface {
	GetTx(tx *gorm.DB) (*domain.PlatformSettings, error)
}

// DisputeResolver is the sub-protocol the ledger delegates to when a party
// contests an outcome.
type DisputeResolver interface {
	OpenTx(tx *gorm.DB, esc *domain.Escrow, initiator domain.Actor, reason string, deadline time.Time) (*domain.Dispute, error)
	ResolveTx(tx *gorm.DB, escrowID int64, arbitrator domain.Actor, res domain.Resolution) (*domain.Dispute, error)
}
