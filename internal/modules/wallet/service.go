package wallet

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service is the internal double-entry ledger behind the escrow core. Funds
// only ever change hands through Move, which debits and credits two locked
// account rows in the caller's transaction.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Move transfers amount between two accounts inside tx. The source row is
// locked before the balance check so a concurrent transfer cannot overdraw.
func (s *Service) Move(tx *gorm.DB, from, to AccountKey, amount int64, kind, reference string) (*Entry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if from == to {
		return nil, ErrSameAccount
	}

	src, err := getOrCreateAccountForUpdate(tx, from)
	if err != nil {
		return nil, err
	}
	dst, err := getOrCreateAccountForUpdate(tx, to)
	if err != nil {
		return nil, err
	}

	if src.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	if err := tx.Model(&Account{}).Where("id = ?", src.ID).
		Update("balance", src.Balance-amount).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&Account{}).Where("id = ?", dst.ID).
		Update("balance", dst.Balance+amount).Error; err != nil {
		return nil, err
	}

	entry := &Entry{
		FromAccountID: src.ID,
		ToAccountID:   dst.ID,
		Asset:         from.Asset,
		Amount:        amount,
		Kind:          kind,
		Reference:     reference,
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

// Drain moves the full balance of from into to and zeroes the source in the
// same locked step, so two concurrent claims can never both succeed. A zero
// balance is a no-op returning 0.
func (s *Service) Drain(tx *gorm.DB, from, to AccountKey, kind, reference string) (int64, error) {
	if from == to {
		return 0, ErrSameAccount
	}

	src, err := getOrCreateAccountForUpdate(tx, from)
	if err != nil {
		return 0, err
	}
	if src.Balance == 0 {
		return 0, nil
	}

	amount := src.Balance
	dst, err := getOrCreateAccountForUpdate(tx, to)
	if err != nil {
		return 0, err
	}

	if err := tx.Model(&Account{}).Where("id = ?", src.ID).
		Update("balance", 0).Error; err != nil {
		return 0, err
	}
	if err := tx.Model(&Account{}).Where("id = ?", dst.ID).
		Update("balance", dst.Balance+amount).Error; err != nil {
		return 0, err
	}

	entry := &Entry{
		FromAccountID: src.ID,
		ToAccountID:   dst.ID,
		Asset:         from.Asset,
		Amount:        amount,
		Kind:          kind,
		Reference:     reference,
	}
	if err := tx.Create(entry).Error; err != nil {
		return 0, err
	}
	return amount, nil
}

// Deposit credits a user account out of thin air. It exists so demo and test
// consumers can fund bookings; a production deployment would replace it with
// a payment-gateway callback.
func (s *Service) Deposit(ctx context.Context, userID int64, asset string, amount int64) (*Account, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var acc Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		got, err := getOrCreateAccountForUpdate(tx, UserAccount(userID, asset))
		if err != nil {
			return err
		}
		got.Balance += amount
		if err := tx.Model(&Account{}).Where("id = ?", got.ID).
			Update("balance", got.Balance).Error; err != nil {
			return err
		}
		entry := &Entry{
			FromAccountID: got.ID,
			ToAccountID:   got.ID,
			Asset:         asset,
			Amount:        amount,
			Kind:          EntryDeposit,
		}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		acc = *got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// Balance returns the current balance of key, zero if the account does not
// exist yet.
func (s *Service) Balance(ctx context.Context, key AccountKey) (int64, error) {
	var acc Account
	err := s.db.WithContext(ctx).
		Where("type = ? AND owner_id = ? AND asset = ?", key.Type, key.OwnerID, key.Asset).
		First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// ListEntries returns the movements touching a user's account, newest first.
func (s *Service) ListEntries(ctx context.Context, userID int64, asset string, limit int) ([]Entry, error) {
	var acc Account
	err := s.db.WithContext(ctx).
		Where("type = ? AND owner_id = ? AND asset = ?", OwnerUser, userID, asset).
		First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var entries []Entry
	err = s.db.WithContext(ctx).
		Where("from_account_id = ? OR to_account_id = ?", acc.ID, acc.ID).
		Order("created_at desc").Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func getOrCreateAccountForUpdate(tx *gorm.DB, key AccountKey) (*Account, error) {
	var acc Account
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("type = ? AND owner_id = ? AND asset = ?", key.Type, key.OwnerID, key.Asset).
		First(&acc).Error
	if err == nil {
		return &acc, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	acc = Account{Type: key.Type, OwnerID: key.OwnerID, Asset: key.Asset, Balance: 0}
	if err := tx.Create(&acc).Error; err != nil {
		if isUniqueConstraintError(err) {
			err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("type = ? AND owner_id = ? AND asset = ?", key.Type, key.OwnerID, key.Asset).
				First(&acc).Error
			if err != nil {
				return nil, err
			}
			return &acc, nil
		}
		return nil, err
	}
	return &acc, nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
