package service

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/PowerPush/internal/app/model"
)

// AuditPublisher fans committed audit events out to downstream consumers.
type AuditPublisher interface {
	Publish(event model.AuditEvent) error
}

// JetStreamPublisher publishes audit events to NATS JetStream.
type JetStreamPublisher struct {
	js nats.JetStreamContext
}

// NewJetStreamPublisher creates a new audit event publisher.
func NewJetStreamPublisher(js nats.JetStreamContext) *JetStreamPublisher {
	return &JetStreamPublisher{js: js}
}

// Publish publishes an audit event on its per-kind subject.
func (p *JetStreamPublisher) Publish(event model.AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = p.js.Publish(event.Subject(), data, nats.MsgId(event.ID))
	return err
}

type nopPublisher struct{}

func (nopPublisher) Publish(model.AuditEvent) error { return nil }
