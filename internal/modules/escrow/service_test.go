package escrow

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"

	"trustbook/internal/domain"
	"trustbook/internal/modules/dispute"
	"trustbook/internal/modules/events"
	"trustbook/internal/modules/wallet"
	"trustbook/internal/repository"
)

const (
	consumerID   = int64(1)
	providerID   = int64(2)
	arbitratorID = int64(50)
	treasuryID   = int64(99)
	testAsset    = "USD"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t     *testing.T
	db    *gorm.DB
	svc   *Service
	funds *wallet.Service
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	if runtime.GOOS == "windows" {
		t.Skip("skipping sqlite test on windows because CGO is disabled")
	}

	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: ":memory:"}), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite db: %v", err)
	}
	require.NoError(t, db.AutoMigrate(
		&domain.User{},
		&domain.Booking{},
		&domain.Escrow{},
		&domain.Milestone{},
		&domain.Dispute{},
		&domain.Evidence{},
		&domain.Event{},
		&domain.PlatformSettings{},
		&domain.Arbitrator{},
		&wallet.Account{},
		&wallet.Entry{},
	))

	require.NoError(t, db.Create(&domain.PlatformSettings{
		ID:                    1,
		CancellationFeeRateBp: 500,
		PlatformFeeRateBp:     250,
		PlatformWalletUserID:  treasuryID,
	}).Error)
	require.NoError(t, db.Create(&domain.Arbitrator{UserID: arbitratorID, Active: true}).Error)

	f := &fixture{t: t, db: db, now: baseTime}
	clock := func() time.Time { return f.now }

	settingsRepo := repository.NewSettingsRepository(db)
	eventSvc := events.NewService(db, events.NewHub())
	f.funds = wallet.NewService(db)
	disputeSvc := dispute.NewService(db, settingsRepo, eventSvc).WithClock(clock)
	f.svc = NewService(db, f.funds, eventSvc, settingsRepo, disputeSvc, Config{
		AutoReleaseDefault: 72 * time.Hour,
		AutoReleaseCeiling: 90 * 24 * time.Hour,
		DisputeTimeout:     48 * time.Hour,
	}).WithClock(clock)

	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) balance(key wallet.AccountKey) int64 {
	bal, err := f.funds.Balance(context.Background(), key)
	require.NoError(f.t, err)
	return bal
}

// newEscrow funds the consumer and creates a confirmed booking with its
// escrow, the way the booking ledger does in production.
func (f *fixture) newEscrow(total, fee int64, milestones []MilestoneInput) *domain.Escrow {
	_, err := f.funds.Deposit(context.Background(), consumerID, testAsset, total)
	require.NoError(f.t, err)

	booking := &domain.Booking{
		ConsumerID: consumerID,
		ProviderID: providerID,
		ServiceID:  1,
		StartTime:  f.now.Add(24 * time.Hour),
		EndTime:    f.now.Add(26 * time.Hour),
		Amount:     total,
		Asset:      testAsset,
		Status:     domain.BookingConfirmed,
	}
	require.NoError(f.t, f.db.Create(booking).Error)

	var esc *domain.Escrow
	err = f.db.Transaction(func(tx *gorm.DB) error {
		esc, err = f.svc.CreateTx(tx, &events.Batch{}, CreateParams{
			BookingID:   booking.ID,
			ConsumerID:  consumerID,
			ProviderID:  providerID,
			Asset:       testAsset,
			TotalAmount: total,
			PlatformFee: fee,
			Milestones:  milestones,
		})
		return err
	})
	require.NoError(f.t, err)
	return esc
}

func (f *fixture) bookingStatus(id int64) domain.BookingStatus {
	var b domain.Booking
	require.NoError(f.t, f.db.First(&b, id).Error)
	return b.Status
}

func consumer() domain.Actor { return domain.Actor{ID: consumerID, Role: domain.RoleConsumer} }
func provider() domain.Actor { return domain.Actor{ID: providerID, Role: domain.RoleProvider} }
func arbiter() domain.Actor  { return domain.Actor{ID: arbitratorID, Role: domain.RoleArbitrator} }
func admin() domain.Actor    { return domain.Actor{ID: 1000, Role: domain.RoleAdmin} }

func TestCreateTx_HoldsFundsInVault(t *testing.T) {
	f := newFixture(t)
	esc := f.newEscrow(10_000, 250, nil)

	assert.Equal(t, domain.EscrowActive, esc.Status)
	assert.Equal(t, int64(10_000), esc.RemainingAmount)
	assert.Equal(t, baseTime.Add(72*time.Hour), esc.AutoReleaseAt)

	assert.Equal(t, int64(0), f.balance(wallet.UserAccount(consumerID, testAsset)))
	assert.Equal(t, int64(10_000), f.balance(wallet.VaultAccount(testAsset)))
}

func TestCreateTx_RejectsBadMilestoneSum(t *testing.T) {
	f := newFixture(t)
	_, err := f.funds.Deposit(context.Background(), consumerID, testAsset, 10_000)
	require.NoError(t, err)

	booking := &domain.Booking{
		ConsumerID: consumerID, ProviderID: providerID, ServiceID: 1,
		StartTime: f.now.Add(time.Hour), EndTime: f.now.Add(2 * time.Hour),
		Amount: 10_000, Asset: testAsset, Status: domain.BookingConfirmed,
	}
	require.NoError(t, f.db.Create(booking).Error)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.CreateTx(tx, &events.Batch{}, CreateParams{
			BookingID: booking.ID, ConsumerID: consumerID, ProviderID: providerID,
			Asset: testAsset, TotalAmount: 10_000, PlatformFee: 250,
			// Sums to 10_000 instead of total minus fee.
			Milestones: []MilestoneInput{{Amount: 5_000}, {Amount: 5_000}},
		})
		return err
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateTx_OneEscrowPerBooking(t *testing.T) {
	f := newFixture(t)
	esc := f.newEscrow(10_000, 250, nil)

	_, err := f.funds.Deposit(context.Background(), consumerID, testAsset, 10_000)
	require.NoError(t, err)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.CreateTx(tx, &events.Batch{}, CreateParams{
			BookingID: esc.BookingID, ConsumerID: consumerID, ProviderID: providerID,
			Asset: testAsset, TotalAmount: 10_000, PlatformFee: 250,
		})
		return err
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestReleasePayment_PaysProviderAndFeePool(t *testing.T) {
	f := newFixture(t)
	esc := f.newEscrow(10_000, 250, nil)

	out, err := f.svc.ReleasePayment(context.Background(), esc.ID, consumer())
	require.NoError(t, err)

	assert.Equal(t, domain.EscrowCompleted, out.Status)
	assert.Equal(t, int64(0), out.RemainingAmount)
	assert.Equal(t, int64(9_750), f.balance(wallet.UserAccount(providerID, testAsset)))
	assert.Equal(t, int64(250), f.balance(wallet.FeePoolAccount(testAsset)))
	assert.Equal(t, int64(0), f.balance(wallet.VaultAccount(testAsset)))
}

func TestReleasePayment_ConsumerOnly(t *testing.T) {
	f := newFixture(t)
	esc := f.newEscrow(10_000, 250, nil)

	_, err := f.svc.ReleasePayment(context.Background(), esc.ID, provider())
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.ReleasePayment(context.Background(), esc.ID, consumer())
	require.NoError(t, err)

	// A completed escrow cannot release twice.
	_, err = f.svc.ReleasePayment(context.Background(), esc.ID, consumer())
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestReleaseMilestone_StepwiseCompletion(t *testing.T) {
	f := newFixture(t)
	esc := f.newEscrow(10_000, 250, []MilestoneInput{
		{Description: "draft", Amount: 4_875},
		{Description: "final", Amount: 4_875},
	})

	out, err := f.svc.ReleaseMilestone(context.Background(), esc.ID, 0, consumer())
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowPartiallyReleased, out.Status)
	assert.Equal(t, int64(4_875), f.balance(wallet.UserAccount(providerID, testAsset)))
	assert.Equal(t, int64(0), f.balance(wallet.FeePoolAccount(testAsset)))

	// Releasing the same milestone again must fail.
	_, err = f.svc.ReleaseMilestone(context.Background(), esc.ID, 0, consumer())
	assert.ErrorIs(t, err, ErrMilestoneReleased)

	// The last milestone collects the platform fee and completes the escrow.
	out, err = f.svc.ReleaseMilestone(context.Background(), esc.ID, 1, consumer())
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowCompleted, out.Status)
	assert.Equal(t, int64(9_750), f.balance(wallet.UserAccount(providerID, testAsset)))
	assert.Equal(t, int64(250), f.balance(wallet.FeePoolAccount(testAsset)))
	assert.Equal(t, int64(0), f.balance(wallet.VaultAccount(testAsset)))
}

func TestCompleteMilestone_FlagsOnly(t *testing.T) {
	f := newFixture(t)
	esc := f.newEscrow(10_000, 250, []MilestoneInput{{Amount: 9_750}})

	require.NoError(t, f.svc.CompleteMilestone(context.Background(), esc.ID, 0, provider()))

	// No money moved.
	assert.Equal(t, int64(10_000), f.balance(wallet.VaultAccount(testAsset)))

	got, err := f.svc.GetByID(context.Background(), esc.ID)
	require.NoError(t, err)
	require.Len(t, got.Milestones, 1)
	assert.True(t, got.Milestones[0].Completed)
	assert.False(t, got.Milestones[0].Released)

	err = f.svc.CompleteMilestone(context.Background(), esc.ID, 0, consumer())
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestDispute_FreezesEscrowAndAssignsArbitrator(t *testing.T) {
	f := newFixture(t)
	esc := f.newEscrow(10_000, 250, nil)

	d, err := f.svc.DisputePayment(context.Background(), esc.ID, "no-show", consumer())
	require.NoError(t, err)
	assert.Equal(t, arbitratorID, d.ArbitratorID)
	assert.Equal(t, providerID, d.RespondentID)
	assert.Equal(t, baseTime.Add(48*time.Hour), d.Deadline)

	got, err := f.svc.GetByID(context.Background(), esc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowDisputed, got.Status)
	assert.Equal(t, domain.BookingDisputed, f.bookingStatus(esc.BookingID))

	// A disputed escrow rejects the normal release path.
	_, err = f.svc.ReleasePayment(context.Background(), esc.ID, consumer())
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestResolveDispute_SplitConservesFunds(t *testing.T) {
	f := newFixture(t)
	esc := f.newEscrow(10_000, 250, nil)

	_, err := f.svc.DisputePayment(context.Background(), esc.ID, "partial delivery", consumer())
	require.NoError(t, err)

	out, err := f.svc.ResolveDispute(context.Background(), esc.ID, domain.Resolution{
		Type:         domain.ResolutionSplit,
		RefundAmount: 4_000,
		PayoutAmount: 5_750,
	}, arbiter())
	require.NoError(t, err)

	assert.Equal(t, domain.EscrowCompleted, out.Status)
	assert.Equal(t, int64(4_000), f.balance(wallet.UserAccount(consumerID, testAsset)))
	assert.Equal(t, int64(5_750), f.balance(wallet.UserAccount(providerID, testAsset)))
	// The undistributed remainder lands in the fee pool.
	assert.Equal(t, int64(250), f.balance(wallet.FeePoolAccount(testAsset)))
	assert.Equal(t, int64(0), f.balance(wallet.VaultAccount(testAsset)))
	assert.Equal(t, domain.BookingCompleted, f.bookingStatus(esc.BookingID))
}

func TestResolveDispute_RejectsOverdraw(t *testing.T) {
	f := newFixture(t)
	esc := f.newEscrow(10_000, 250, nil)

	_, err := f.svc.DisputePayment(context.Background(), esc.ID, "quality", consumer())
	require.NoError(t, err)

	_, err = f.svc.ResolveDispute(context.Background(), esc.ID, domain.Resolution{
		Type:         domain.ResolutionSplit,
		RefundAmount: 8_000,
		PayoutAmount: 8_000,
	}, arbiter())
	assert.ErrorIs(t, err, ErrValidation)
}

func TestResolveDispute_WrongArbitrator(t *testing.T) {
	f := newFixture(t)
	esc := f.newEscrow(10_000, 250, nil)

	_, err := f.svc.DisputePayment(context.Background(), esc.ID, "quality", consumer())
	require.NoError(t, err)

	_, err = f.svc.ResolveDispute(context.Background(), esc.ID, domain.Resolution{
		Type:         domain.ResolutionFavorConsumer,
		RefundAmount: 10_000,
	}, domain.Actor{ID: 777, Role: domain.RoleArbitrator})
	assert.ErrorIs(t, err, dispute.ErrNotArbitrator)
}

func TestResolveDispute_AfterDeadline(t *testing.T) {
	f := newFixture(t)
	esc := f.newEscrow(10_000, 250, nil)

	_, err := f.svc.DisputePayment(context.Background(), esc.ID, "quality", consumer())
	require.NoError(t, err)

	f.advance(48 * time.Hour)

	_, err = f.svc.ResolveDispute(context.Background(), esc.ID, domain.Resolution{
		Type:         domain.ResolutionFavorConsumer,
		RefundAmount: 10_000,
	}, arbiter())
	assert.ErrorIs(t, err, ErrDisputeTimedOut)

	// Funds stay locked.
	assert.Equal(t, int64(10_000), f.balance(wallet.VaultAccount(testAsset)))
}

func TestRefundPayment_FullRefundEndsBooking(t *testing.T) {
	f := newFixture(t)
	esc := f.newEscrow(10_000, 250, nil)

	out, err := f.svc.RefundPayment(context.Background(), esc.ID, 4_000, provider())
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowPartiallyReleased, out.Status)
	assert.Equal(t, int64(6_000), out.RemainingAmount)
	assert.Equal(t, int64(4_000), f.balance(wallet.UserAccount(consumerID, testAsset)))

	out, err = f.svc.RefundPayment(context.Background(), esc.ID, 6_000, provider())
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowRefunded, out.Status)
	assert.Equal(t, int64(10_000), f.balance(wallet.UserAccount(consumerID, testAsset)))
	assert.Equal(t, domain.BookingCancelled, f.bookingStatus(esc.BookingID))
}

func TestRefundPayment_ProviderOnlyWithinBalance(t *testing.T) {
	f := newFixture(t)
	esc := f.newEscrow(10_000, 250, nil)

	_, err := f.svc.RefundPayment(context.Background(), esc.ID, 1_000, consumer())
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.RefundPayment(context.Background(), esc.ID, 10_001, provider())
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAutoRelease_TimeGated(t *testing.T) {
	f := newFixture(t)
	esc := f.newEscrow(10_000, 250, nil)

	// Anyone may poke it, but not before the release time.
	_, err := f.svc.AutoRelease(context.Background(), esc.ID, domain.Actor{ID: 12345})
	assert.ErrorIs(t, err, ErrNotDue)

	f.advance(72 * time.Hour)

	out, err := f.svc.AutoRelease(context.Background(), esc.ID, domain.Actor{ID: 12345})
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowCompleted, out.Status)
	assert.Equal(t, int64(9_750), f.balance(wallet.UserAccount(providerID, testAsset)))
	assert.Equal(t, int64(250), f.balance(wallet.FeePoolAccount(testAsset)))
	assert.Equal(t, domain.BookingCompleted, f.bookingStatus(esc.BookingID))
}

func TestEmergencyWithdraw_RequiresPausedPlatform(t *testing.T) {
	f := newFixture(t)
	esc := f.newEscrow(10_000, 250, nil)

	_, err := f.svc.EmergencyWithdraw(context.Background(), esc.ID, admin())
	assert.ErrorIs(t, err, ErrNotPaused)

	_, err = f.svc.EmergencyWithdraw(context.Background(), esc.ID, consumer())
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, f.db.Model(&domain.PlatformSettings{}).Where("id = ?", 1).
		Update("paused", true).Error)

	out, err := f.svc.EmergencyWithdraw(context.Background(), esc.ID, admin())
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowEmergencyWithdrawn, out.Status)
	assert.Equal(t, int64(10_000), f.balance(wallet.UserAccount(treasuryID, testAsset)))
	assert.Equal(t, int64(0), f.balance(wallet.VaultAccount(testAsset)))
	assert.Equal(t, domain.BookingCancelled, f.bookingStatus(esc.BookingID))
}

func TestPause_BlocksNormalOperations(t *testing.T) {
	f := newFixture(t)
	esc := f.newEscrow(10_000, 250, nil)

	require.NoError(t, f.db.Model(&domain.PlatformSettings{}).Where("id = ?", 1).
		Update("paused", true).Error)

	_, err := f.svc.ReleasePayment(context.Background(), esc.ID, consumer())
	assert.ErrorIs(t, err, ErrPaused)

	_, err = f.svc.DisputePayment(context.Background(), esc.ID, "reason", consumer())
	assert.ErrorIs(t, err, ErrPaused)

	_, err = f.svc.RefundPayment(context.Background(), esc.ID, 1_000, provider())
	assert.ErrorIs(t, err, ErrPaused)

	f.advance(100 * time.Hour)
	_, err = f.svc.AutoRelease(context.Background(), esc.ID, provider())
	assert.ErrorIs(t, err, ErrPaused)
}

func TestResolveDispute_AllowedWhilePaused(t *testing.T) {
	f := newFixture(t)
	esc := f.newEscrow(10_000, 250, nil)

	_, err := f.svc.DisputePayment(context.Background(), esc.ID, "quality", consumer())
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&domain.PlatformSettings{}).Where("id = ?", 1).
		Update("paused", true).Error)

	// The resolution deadline keeps running, so a pause must not block the
	// arbitrator.
	out, err := f.svc.ResolveDispute(context.Background(), esc.ID, domain.Resolution{
		Type:         domain.ResolutionFavorConsumer,
		RefundAmount: 10_000,
	}, arbiter())
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowCompleted, out.Status)
	assert.Equal(t, int64(10_000), f.balance(wallet.UserAccount(consumerID, testAsset)))
}

func TestClaimPlatformFees_DrainsPoolOnce(t *testing.T) {
	f := newFixture(t)
	esc := f.newEscrow(10_000, 250, nil)

	_, err := f.svc.ReleasePayment(context.Background(), esc.ID, consumer())
	require.NoError(t, err)

	claimed, err := f.svc.ClaimPlatformFees(context.Background(), testAsset, admin())
	require.NoError(t, err)
	assert.Equal(t, int64(250), claimed)
	assert.Equal(t, int64(250), f.balance(wallet.UserAccount(treasuryID, testAsset)))

	claimed, err = f.svc.ClaimPlatformFees(context.Background(), testAsset, admin())
	require.NoError(t, err)
	assert.Equal(t, int64(0), claimed)

	_, err = f.svc.ClaimPlatformFees(context.Background(), testAsset, provider())
	assert.ErrorIs(t, err, ErrForbidden)
}
