package natsclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/PowerPush/config"
	"github.com/sifan077/PowerPush/internal/app/model"
)

const defaultConnectTimeout = 5 * time.Second

// Connect creates a NATS connection (with JetStream available) using application config.
func Connect(cfg config.NATSConfig) (*nats.Conn, nats.JetStreamContext, error) {
	opts := []nats.Option{
		nats.Timeout(defaultConnectTimeout),
		nats.Name("powerpush"),
	}

	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(buildURL(cfg), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("nats: connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("nats: init jetstream: %w", err)
	}

	return conn, js, nil
}

// EnsureAuditStream creates the audit stream and its durable consumer when missing.
func EnsureAuditStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(model.AuditStreamName); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("nats: stream info: %w", err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     model.AuditStreamName,
			Subjects: []string{model.AuditStreamSubject},
			MaxBytes: model.AuditStreamMaxBytes,
		})
		if err != nil {
			return fmt.Errorf("nats: create stream: %w", err)
		}
	}

	if _, err := js.ConsumerInfo(model.AuditStreamName, model.AuditConsumerName); err != nil {
		if !errors.Is(err, nats.ErrConsumerNotFound) {
			return fmt.Errorf("nats: consumer info: %w", err)
		}
		_, err = js.AddConsumer(model.AuditStreamName, &nats.ConsumerConfig{
			Durable:   model.AuditConsumerName,
			AckPolicy: nats.AckExplicitPolicy,
		})
		if err != nil {
			return fmt.Errorf("nats: create consumer: %w", err)
		}
	}

	return nil
}

func buildURL(cfg config.NATSConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 4222
	}
	return fmt.Sprintf("nats://%s:%d", host, port)
}
