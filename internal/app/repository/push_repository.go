package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sifan077/PowerPush/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrPushNotFound signals that no push exists for the given token.
	ErrPushNotFound = errors.New("push not found")
	// ErrFileNotFound signals that the attachment does not belong to the push.
	ErrFileNotFound = errors.New("file not found")
)

// PushRepository defines the data access contract for pushes and their attachments.
type PushRepository interface {
	Create(ctx context.Context, push *model.Push) error
	GetByToken(ctx context.Context, token string) (*model.Push, error)
	// GetByTokenForUpdate loads the push and locks its row until the
	// surrounding transaction ends. Outside a transaction it behaves like GetByToken.
	GetByTokenForUpdate(ctx context.Context, token string) (*model.Push, error)
	// Expire discards payload and passphrase and flips the expired flag. It
	// reports false when another caller already expired the push.
	Expire(ctx context.Context, id uint, at time.Time) (bool, error)
	ListByUser(ctx context.Context, userID uint, expired bool, limit, offset int) ([]model.Push, error)
	// ListUnexpired returns unexpired pushes created before createdBefore with
	// an ID greater than afterID, ordered by ID.
	ListUnexpired(ctx context.Context, createdBefore time.Time, afterID uint, limit int) ([]model.Push, error)
	ListTokens(ctx context.Context) ([]string, error)
	DeleteAnonymousExpired(ctx context.Context, expiredBefore time.Time, limit int) (int64, error)

	GetFile(ctx context.Context, pushID, fileID uint) (*model.PushFile, error)
	ScheduleFilePurge(ctx context.Context, pushID uint, after time.Time) error
	ListFilesDueForPurge(ctx context.Context, now time.Time, limit int) ([]model.PushFile, error)
	MarkFilePurged(ctx context.Context, fileID uint) error
}

type pushRepository struct {
	db *gorm.DB
}

// NewPushRepository returns a GORM-backed PushRepository.
func NewPushRepository(db *gorm.DB) PushRepository {
	return &pushRepository{db: db}
}

func (r *pushRepository) Create(ctx context.Context, push *model.Push) error {
	return r.db.WithContext(ctx).Create(push).Error
}

func (r *pushRepository) GetByToken(ctx context.Context, token string) (*model.Push, error) {
	return r.first(r.db.WithContext(ctx), token)
}

func (r *pushRepository) GetByTokenForUpdate(ctx context.Context, token string) (*model.Push, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), token)
}

func (r *pushRepository) first(db *gorm.DB, token string) (*model.Push, error) {
	var push model.Push
	if err := db.Preload("Files").Where("url_token = ?", token).First(&push).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPushNotFound
		}
		return nil, err
	}
	return &push, nil
}

func (r *pushRepository) Expire(ctx context.Context, id uint, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Push{}).
		Where("id = ? AND expired = ?", id, false).
		Updates(map[string]interface{}{
			"expired":    true,
			"expired_on": at,
			"payload":    nil,
			"passphrase": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *pushRepository) ListByUser(ctx context.Context, userID uint, expired bool, limit, offset int) ([]model.Push, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var result []model.Push
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND expired = ?", userID, expired).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *pushRepository) ListUnexpired(ctx context.Context, createdBefore time.Time, afterID uint, limit int) ([]model.Push, error) {
	if limit <= 0 {
		limit = 100
	}

	var result []model.Push
	if err := r.db.WithContext(ctx).
		Where("expired = ? AND created_at < ? AND id > ?", false, createdBefore, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *pushRepository) ListTokens(ctx context.Context) ([]string, error) {
	var tokens []string
	if err := r.db.WithContext(ctx).Model(&model.Push{}).Pluck("url_token", &tokens).Error; err != nil {
		return nil, err
	}
	return tokens, nil
}

func (r *pushRepository) DeleteAnonymousExpired(ctx context.Context, expiredBefore time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 100
	}

	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&model.Push{}).
			Where("user_id IS NULL AND expired = ? AND expired_on < ?", true, expiredBefore).
			Where("NOT EXISTS (SELECT 1 FROM push_files WHERE push_files.push_id = pushes.id AND push_files.purged = ?)", false).
			Order("id ASC").
			Limit(limit).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("push_id IN ?", ids).Delete(&model.AuditLog{}).Error; err != nil {
			return err
		}
		if err := tx.Where("push_id IN ?", ids).Delete(&model.PushFile{}).Error; err != nil {
			return err
		}
		result := tx.Where("id IN ?", ids).Delete(&model.Push{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return nil
	})
	return deleted, err
}

func (r *pushRepository) GetFile(ctx context.Context, pushID, fileID uint) (*model.PushFile, error) {
	var file model.PushFile
	if err := r.db.WithContext(ctx).Where("id = ? AND push_id = ?", fileID, pushID).First(&file).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return &file, nil
}

func (r *pushRepository) ScheduleFilePurge(ctx context.Context, pushID uint, after time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.PushFile{}).
		Where("push_id = ? AND purge_after IS NULL", pushID).
		Update("purge_after", after).Error
}

func (r *pushRepository) ListFilesDueForPurge(ctx context.Context, now time.Time, limit int) ([]model.PushFile, error) {
	if limit <= 0 {
		limit = 100
	}

	var result []model.PushFile
	if err := r.db.WithContext(ctx).
		Where("purged = ? AND purge_after IS NOT NULL AND purge_after <= ?", false, now).
		Order("id ASC").
		Limit(limit).
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *pushRepository) MarkFilePurged(ctx context.Context, fileID uint) error {
	return r.db.WithContext(ctx).
		Model(&model.PushFile{}).
		Where("id = ?", fileID).
		Update("purged", true).Error
}
