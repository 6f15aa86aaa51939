package model

import "time"

// AuditKind identifies a push lifecycle event.
type AuditKind string

const (
	AuditCreation         AuditKind = "creation"
	AuditView             AuditKind = "view"
	AuditFailedView       AuditKind = "failed_view"
	AuditExpire           AuditKind = "expire"
	AuditFailedPassphrase AuditKind = "failed_passphrase"
	AuditOwnerView        AuditKind = "owner_view"
	AuditAdminView        AuditKind = "admin_view"
)

// ViewKinds are the audit kinds that count against expire_after_views.
var ViewKinds = []AuditKind{AuditView, AuditFailedView}

// AuditLog is one append-only lifecycle record of a push.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	EventID   string    `gorm:"size:36;not null;uniqueIndex" json:"event_id"`
	PushID    uint      `gorm:"not null;index:idx_audit_push_kind,priority:1" json:"-"`
	Kind      AuditKind `gorm:"size:24;not null;index:idx_audit_push_kind,priority:2" json:"kind"`
	UserID    *uint     `gorm:"index" json:"user_id,omitempty"`
	IP        string    `gorm:"size:45" json:"ip"`
	UserAgent string    `gorm:"type:text" json:"user_agent"`
	Referrer  string    `gorm:"type:text" json:"referrer"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
