// Package kafka moves market data in and revaluation notifications out over Kafka.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chihkang/PortfolioManager/internal/events"
	"github.com/chihkang/PortfolioManager/internal/models"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of kafka.Writer the producer uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ValuationProducer publishes PortfolioRevalued notifications, keyed by portfolio id
type ValuationProducer struct {
	writer MessageWriter
	log    zerolog.Logger
}

// NewValuationProducer creates a producer writing to topic
func NewValuationProducer(brokers []string, topic string, log zerolog.Logger) *ValuationProducer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newValuationProducer(writer, log.With().Str("topic", topic).Logger())
}

func newValuationProducer(writer MessageWriter, log zerolog.Logger) *ValuationProducer {
	return &ValuationProducer{
		writer: writer,
		log:    log.With().Str("component", "valuation_producer").Logger(),
	}
}

// Register subscribes the producer to revaluation events on bus
func (p *ValuationProducer) Register(bus *events.Bus) {
	bus.Subscribe(models.EventPortfolioRevalued, "kafka-valuation-producer", func(ctx context.Context, e events.Event) error {
		ev, ok := e.(models.PortfolioRevalued)
		if !ok {
			return fmt.Errorf("unexpected event type %T", e)
		}
		return p.Publish(ctx, ev)
	})
}

// Publish writes one notification
func (p *ValuationProducer) Publish(ctx context.Context, ev models.PortfolioRevalued) error {
	msg, err := buildMessage(ev)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error().Err(err).Str("portfolio_id", ev.PortfolioID.Hex()).Msg("Failed to publish revaluation")
		return fmt.Errorf("failed to write revaluation message: %w", err)
	}
	return nil
}

func buildMessage(ev models.PortfolioRevalued) (kafka.Message, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal revaluation: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.PortfolioID.Hex()),
		Value: payload,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.EventName())},
			{Key: "event_id", Value: []byte(ev.ID)},
		},
	}, nil
}

// Close flushes and closes the writer
func (p *ValuationProducer) Close() error {
	return p.writer.Close()
}
