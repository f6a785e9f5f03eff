package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"trustbook/internal/domain"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// IsActiveProvider gates booking creation and confirmation; it is the narrow
// view of the provider directory the escrow core is allowed to see.
func (r *UserRepository) IsActiveProvider(ctx context.Context, id int64) (bool, error) {
	var u domain.User
	err := r.db.WithContext(ctx).
		Where("id = ? AND role = ? AND active = ?", id, domain.RoleProvider, true).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
