package repository

import (
	"context"

	"github.com/sifan077/PowerPush/internal/app/model"
	"gorm.io/gorm"
)

// AuditLogRepository defines the data access contract for push audit logs.
// Rows are append-only; there is no update method.
type AuditLogRepository interface {
	Create(ctx context.Context, entry *model.AuditLog) error
	CountByKinds(ctx context.Context, pushID uint, kinds ...model.AuditKind) (int64, error)
	ListByPush(ctx context.Context, pushID uint, limit, offset int) ([]model.AuditLog, error)
}

type auditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository returns a GORM-backed AuditLogRepository.
func NewAuditLogRepository(db *gorm.DB) AuditLogRepository {
	return &auditLogRepository{db: db}
}

func (r *auditLogRepository) Create(ctx context.Context, entry *model.AuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *auditLogRepository) CountByKinds(ctx context.Context, pushID uint, kinds ...model.AuditKind) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.AuditLog{}).
		Where("push_id = ? AND kind IN ?", pushID, kinds).
		Count(&count).Error
	return count, err
}

func (r *auditLogRepository) ListByPush(ctx context.Context, pushID uint, limit, offset int) ([]model.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var result []model.AuditLog
	if err := r.db.WithContext(ctx).
		Where("push_id = ?", pushID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}
