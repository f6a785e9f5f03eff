package wallet

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *gorm.DB {
	if runtime.GOOS == "windows" {
		t.Skip("skipping sqlite test on windows because CGO is disabled")
	}

	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: ":memory:"}), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite db: %v", err)
	}

	if err := db.AutoMigrate(&Account{}, &Entry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestDeposit_CreditsAccount(t *testing.T) {
	ctx := context.Background()
	svc := NewService(testDB(t))

	acc, err := svc.Deposit(ctx, 1, "USD", 10_000)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), acc.Balance)

	acc, err = svc.Deposit(ctx, 1, "USD", 2_500)
	require.NoError(t, err)
	assert.Equal(t, int64(12_500), acc.Balance)

	balance, err := svc.Balance(ctx, UserAccount(1, "USD"))
	require.NoError(t, err)
	assert.Equal(t, int64(12_500), balance)
}

func TestDeposit_RejectsNonPositiveAmount(t *testing.T) {
	svc := NewService(testDB(t))

	_, err := svc.Deposit(context.Background(), 1, "USD", 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Deposit(context.Background(), 1, "USD", -5)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestMove_TransfersBetweenAccounts(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	svc := NewService(db)

	_, err := svc.Deposit(ctx, 1, "USD", 5_000)
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Move(tx, UserAccount(1, "USD"), VaultAccount("USD"), 3_000, EntryHold, "escrow:1")
		return err
	})
	require.NoError(t, err)

	userBal, err := svc.Balance(ctx, UserAccount(1, "USD"))
	require.NoError(t, err)
	assert.Equal(t, int64(2_000), userBal)

	vaultBal, err := svc.Balance(ctx, VaultAccount("USD"))
	require.NoError(t, err)
	assert.Equal(t, int64(3_000), vaultBal)

	var entries []Entry
	require.NoError(t, db.Where("kind = ?", EntryHold).Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(3_000), entries[0].Amount)
	assert.Equal(t, "escrow:1", entries[0].Reference)
}

func TestMove_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	svc := NewService(db)

	_, err := svc.Deposit(ctx, 1, "USD", 100)
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Move(tx, UserAccount(1, "USD"), VaultAccount("USD"), 101, EntryHold, "escrow:1")
		return err
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// Nothing moved.
	bal, err := svc.Balance(ctx, UserAccount(1, "USD"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal)
}

func TestMove_RejectsSameAccount(t *testing.T) {
	db := testDB(t)
	svc := NewService(db)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Move(tx, UserAccount(1, "USD"), UserAccount(1, "USD"), 100, EntryHold, "")
		return err
	})
	assert.ErrorIs(t, err, ErrSameAccount)
}

func TestDrain_SweepsFullBalance(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	svc := NewService(db)

	_, err := svc.Deposit(ctx, 1, "USD", 900)
	require.NoError(t, err)
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Move(tx, UserAccount(1, "USD"), FeePoolAccount("USD"), 900, EntryFee, "escrow:7")
		return err
	})
	require.NoError(t, err)

	var claimed int64
	err = db.Transaction(func(tx *gorm.DB) error {
		claimed, err = svc.Drain(tx, FeePoolAccount("USD"), UserAccount(99, "USD"), EntryClaim, "fees:USD")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(900), claimed)

	poolBal, err := svc.Balance(ctx, FeePoolAccount("USD"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), poolBal)

	treasuryBal, err := svc.Balance(ctx, UserAccount(99, "USD"))
	require.NoError(t, err)
	assert.Equal(t, int64(900), treasuryBal)

	// A second claim finds nothing.
	err = db.Transaction(func(tx *gorm.DB) error {
		claimed, err = svc.Drain(tx, FeePoolAccount("USD"), UserAccount(99, "USD"), EntryClaim, "fees:USD")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), claimed)
}
