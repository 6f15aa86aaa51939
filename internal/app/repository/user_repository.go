package repository

import (
	"context"
	"errors"

	"github.com/sifan077/PowerPush/internal/app/model"
	"gorm.io/gorm"
)

// ErrUserNotFound signals that the credentials do not match any user.
var ErrUserNotFound = errors.New("user not found")

// UserRepository is the identity lookup the API authenticates against.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByCredentials(ctx context.Context, email, tokenDigest string) (*model.User, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a GORM-backed UserRepository.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepository) GetByCredentials(ctx context.Context, email, tokenDigest string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).
		Where("email = ? AND api_token = ?", email, tokenDigest).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}
