package model

import "time"

// AuditEvent is the message published to the audit stream after a lifecycle
// event is committed.
type AuditEvent struct {
	ID        string    `json:"id"`
	PushID    uint      `json:"push_id"`
	PushKind  PushKind  `json:"push_kind"`
	Kind      AuditKind `json:"kind"`
	UserID    *uint     `json:"user_id,omitempty"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	AuditStreamName     = "PUSH_AUDIT"
	AuditStreamSubject  = "pushes.audit.*"
	AuditSubjectPrefix  = "pushes.audit."
	AuditConsumerName   = "audit-recorder"
	AuditStreamMaxBytes = 1024 * 1024 * 100 // 100MB
)

// Subject returns the stream subject an event is published on.
func (e AuditEvent) Subject() string {
	return AuditSubjectPrefix + string(e.Kind)
}
