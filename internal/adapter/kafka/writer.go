// Package kafka publishes alert events and feed snapshots to the
// downstream topics. Dispatch collaborators (mail, webhooks, site
// builders) consume from there.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/river-alert-service/internal/config"
	"github.com/couchcryptid/river-alert-service/internal/domain"
)

// Writer produces alert events and feed snapshots to their topics.
// It implements pipeline.Publisher.
type Writer struct {
	alerts *kafkago.Writer
	feed   *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates Kafka producers for the alert and feed topics.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	newTopicWriter := func(topic string) *kafkago.Writer {
		return &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.KafkaBrokers...),
			Topic:        topic,
			Balancer:     &kafkago.LeastBytes{},
			RequiredAcks: kafkago.RequireAll,
		}
	}
	return &Writer{
		alerts: newTopicWriter(cfg.KafkaAlertTopic),
		feed:   newTopicWriter(cfg.KafkaFeedTopic),
		logger: logger,
	}
}

// PublishAlerts serializes and publishes alert events in a single
// WriteMessages call. Keyed by entity so per-entity ordering holds.
func (w *Writer) PublishAlerts(ctx context.Context, events []domain.AlertEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msg, err := serializeAlert(events[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.alerts.WriteMessages(ctx, msgs...)
}

// PublishFeed publishes one cycle's complete snapshot set as a single
// message. A constant key keeps the latest feed trivially addressable
// for compacted-topic consumers.
func (w *Writer) PublishFeed(ctx context.Context, feed domain.Feed) error {
	msg, err := serializeFeed(feed)
	if err != nil {
		return err
	}
	return w.feed.WriteMessages(ctx, msg)
}

func (w *Writer) Close() error {
	return errors.Join(w.alerts.Close(), w.feed.Close())
}

// serializeAlert marshals an AlertEvent into a Kafka message.
func serializeAlert(event domain.AlertEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alert event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.EntityID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "alert_kind", Value: []byte(event.Kind)},
			{Key: "fired_at", Value: []byte(event.FiredAt.Format(time.RFC3339))},
		},
	}, nil
}

func serializeFeed(feed domain.Feed) (kafkago.Message, error) {
	data, err := json.Marshal(feed)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize feed: %w", err)
	}
	return kafkago.Message{
		Key:   []byte("gauge-feed"),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "generated_at", Value: []byte(feed.GeneratedAt.Format(time.RFC3339))},
		},
	}, nil
}
