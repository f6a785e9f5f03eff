package booking

import (
	"context"

	"gorm.io/gorm"

	"trustbook/internal/domain"
	"trustbook/internal/modules/escrow"
	"trustbook/internal/modules/events"
)

// EscrowLedger is the slice of the escrow module the booking ledger drives.
// Every method runs inside the booking transition's transaction so the two
// ledgers can never disagree; events are staged on the batch and published by
// the booking ledger once that transaction commits.
type EscrowLedger interface {
	CreateTx(tx *gorm.DB, batch *events.Batch, p escrow.CreateParams) (*domain.Escrow, error)
	ReleaseAllTx(tx *gorm.DB, batch *events.Batch, bookingID int64, actorID int64, auto bool) (*domain.Escrow, error)
	CancelTx(tx *gorm.DB, batch *events.Batch, bookingID int64, cancellationFee int64, expired bool, actorID int64) (*domain.Escrow, error)
	DisputeTx(tx *gorm.DB, batch *events.Batch, bookingID int64, actor domain.Actor, reason string) (*domain.Dispute, error)
}

// ActiveProviderChecker is the narrow view of the provider directory.
type ActiveProviderChecker interface {
	IsActiveProvider(ctx context.Context, id int64) (bool, error)
}

type AssetChecker interface {
	IsAssetSupported(ctx context.Context, code string) (bool, error)
}

type SettingsStore interface {
	GetTx(tx *gorm.DB) (*domain.PlatformSettings, error)
}

type EventRecorder interface {
	RecordTx(tx *gorm.DB, e *domain.Event) error
	Publish(e *domain.Event)
}
