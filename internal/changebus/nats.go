// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package changebus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/hubcast/hubcast/internal/config"
	"github.com/hubcast/hubcast/internal/logging"
	"github.com/hubcast/hubcast/internal/models"
)

// NATSSource adapts a watermill NATS subscription to the bus Source
// interface.
type NATSSource struct {
	subscriber message.Subscriber
	subject    string
}

// NewNATSSource connects a core-NATS watermill subscriber for the
// change-notification subject.
func NewNATSSource(cfg config.NATSConfig, logger watermill.LoggerAdapter) (*NATSSource, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:         cfg.URL,
		NatsOptions: natsOptions(cfg, logger),
		Unmarshaler: &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create change bus subscriber: %w", err)
	}
	return &NATSSource{subscriber: sub, subject: cfg.Subject}, nil
}

// Subscribe starts consuming notifications. Malformed payloads are logged
// and acknowledged so they never wedge the subject.
func (s *NATSSource) Subscribe(ctx context.Context) (<-chan Notification, error) {
	msgs, err := s.subscriber.Subscribe(ctx, s.subject)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", s.subject, err)
	}

	out := make(chan Notification)
	go func() {
		defer close(out)
		for msg := range msgs {
			var n Notification
			if err := json.Unmarshal(msg.Payload, &n); err != nil {
				logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("malformed change notification")
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close tears down the underlying subscriber connection.
func (s *NATSSource) Close() error {
	return s.subscriber.Close()
}

// Publisher emits change notifications onto the bus subject. The mirror
// layer publishes one notification per refresh that found changes.
type Publisher struct {
	publisher message.Publisher
	subject   string
}

// NewPublisher connects a watermill NATS publisher for the
// change-notification subject.
func NewPublisher(cfg config.NATSConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOptions(cfg, logger),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create change bus publisher: %w", err)
	}
	return &Publisher{publisher: pub, subject: cfg.Subject}, nil
}

// PublishSummary sends one notification describing changed entities.
func (p *Publisher) PublishSummary(urgent bool, summary models.ChangeSummary) error {
	if summary.IsEmpty() {
		return nil
	}
	payload, err := json.Marshal(NotificationFromSummary(urgent, summary))
	if err != nil {
		return fmt.Errorf("encode change notification: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := p.publisher.Publish(p.subject, msg); err != nil {
		return fmt.Errorf("publish change notification: %w", err)
	}
	return nil
}

// Close tears down the underlying publisher connection.
func (p *Publisher) Close() error {
	return p.publisher.Close()
}

func natsOptions(cfg config.NATSConfig, logger watermill.LoggerAdapter) []natsgo.Option {
	return []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}
}
