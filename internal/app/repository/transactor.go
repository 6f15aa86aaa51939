package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repositories groups the repositories that share one transaction.
type Repositories struct {
	Pushes PushRepository
	Audits AuditLogRepository
}

// Transactor runs fn with repositories bound to a single database transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	Transact(ctx context.Context, fn func(tx Repositories) error) error
}

type gormTransactor struct {
	db *gorm.DB
}

// NewTransactor returns a GORM-backed Transactor.
func NewTransactor(db *gorm.DB) Transactor {
	return &gormTransactor{db: db}
}

func (t *gormTransactor) Transact(ctx context.Context, fn func(tx Repositories) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(Repositories{
			Pushes: NewPushRepository(tx),
			Audits: NewAuditLogRepository(tx),
		})
	})
}
