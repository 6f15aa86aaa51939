package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/PowerPush/internal/app/model"
	"go.uber.org/zap"
)

// AuditConsumer drains the audit stream, recording per-kind metrics and a
// structured log line for each lifecycle event.
type AuditConsumer struct {
	js      nats.JetStreamContext
	logger  *zap.Logger
	metrics *Metrics
}

// NewAuditConsumer creates a new audit stream consumer.
func NewAuditConsumer(js nats.JetStreamContext, logger *zap.Logger, metrics *Metrics) *AuditConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditConsumer{js: js, logger: logger, metrics: metrics}
}

// Start subscribes to the stream and consumes until ctx is cancelled.
// The stream and durable consumer must already exist.
func (c *AuditConsumer) Start(ctx context.Context) error {
	sub, err := c.js.PullSubscribe(model.AuditStreamSubject, model.AuditConsumerName, nats.BindStream(model.AuditStreamName))
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go c.consume(ctx, sub)
	return nil
}

func (c *AuditConsumer) consume(ctx context.Context, sub *nats.Subscription) {
	defer func() { _ = sub.Unsubscribe() }()
	for {
		if ctx.Err() != nil {
			c.logger.Info("audit consumer stopped")
			return
		}

		msgs, err := sub.Fetch(10, nats.MaxWait(5*time.Second))
		if err != nil && !errors.Is(err, nats.ErrTimeout) {
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				c.logger.Warn("audit consumer subscription closed", zap.Error(err))
				return
			}
			c.logger.Error("failed to fetch audit events", zap.Error(err))
			continue
		}

		for _, msg := range msgs {
			c.handle(msg)
		}
	}
}

func (c *AuditConsumer) handle(msg *nats.Msg) {
	var event model.AuditEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		c.logger.Error("failed to unmarshal audit event", zap.Error(err))
		// Malformed payloads will never decode; drop them.
		_ = msg.Term()
		return
	}

	c.metrics.streamEvent(event.Kind)
	c.logger.Debug("audit event",
		zap.String("id", event.ID),
		zap.Uint("push_id", event.PushID),
		zap.String("kind", string(event.Kind)),
		zap.String("push_kind", string(event.PushKind)),
		zap.String("ip", event.IP),
		zap.Time("timestamp", event.Timestamp),
	)

	_ = msg.Ack()
}
