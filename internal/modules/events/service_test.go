package events

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"

	"trustbook/internal/domain"
)

func testService(t *testing.T) (*gorm.DB, *Service) {
	if runtime.GOOS == "windows" {
		t.Skip("skipping sqlite test on windows because CGO is disabled")
	}

	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: ":memory:"}), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite db: %v", err)
	}
	require.NoError(t, db.AutoMigrate(&domain.Event{}))
	return db, NewService(db, NewHub())
}

func TestRecordTx_AppendsToLog(t *testing.T) {
	db, svc := testService(t)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.RecordTx(tx, &domain.Event{
			Type:       domain.EventBookingCreated,
			EntityType: "booking",
			EntityID:   7,
			ActorID:    1,
			ConsumerID: 1,
			ProviderID: 2,
			Amount:     10_000,
			Asset:      "USD",
		})
	})
	require.NoError(t, err)

	out, err := svc.ListByEntity(context.Background(), "booking", 7, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.EventBookingCreated, out[0].Type)
	assert.NotEqual(t, "", out[0].ID.String())
	assert.False(t, out[0].CreatedAt.IsZero())
}

func TestRecordTx_RollsBackWithTransaction(t *testing.T) {
	db, svc := testService(t)

	sentinel := assert.AnError
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := svc.RecordTx(tx, &domain.Event{
			Type: domain.EventBookingCreated, EntityType: "booking", EntityID: 8,
		}); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	out, err := svc.ListByEntity(context.Background(), "booking", 8, 0)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPublish_NilHubIsSafe(t *testing.T) {
	svc := &Service{}
	svc.Publish(&domain.Event{Type: domain.EventPlatformPaused})
}

type listPublisher struct {
	got []domain.EventType
}

func (p *listPublisher) Publish(e *domain.Event) { p.got = append(p.got, e.Type) }

func TestBatch_FlushPublishesInOrderOnce(t *testing.T) {
	pub := &listPublisher{}
	b := &Batch{}
	b.Add(&domain.Event{Type: domain.EventEscrowCreated})
	b.Add(&domain.Event{Type: domain.EventBookingCreated})

	// Nothing goes out before the owner flushes.
	assert.Empty(t, pub.got)

	b.Flush(pub)
	assert.Equal(t, []domain.EventType{domain.EventEscrowCreated, domain.EventBookingCreated}, pub.got)

	// A second flush is a no-op; the batch is spent.
	b.Flush(pub)
	assert.Len(t, pub.got, 2)
}
