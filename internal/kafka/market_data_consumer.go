package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chihkang/PortfolioManager/internal/models"
	"github.com/chihkang/PortfolioManager/internal/portfolio"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

const (
	EventPriceUpdated        = "PRICE_UPDATED"
	EventExchangeRateUpdated = "EXCHANGE_RATE_UPDATED"
)

// PriceUpdater applies a stock price change
type PriceUpdater interface {
	UpdatePriceByName(ctx context.Context, name string, price decimal.Decimal) (*models.PriceUpdate, error)
}

// RateUpdater applies a USD-TWD rate change
type RateUpdater interface {
	UpdateExchangeRate(ctx context.Context, rate decimal.Decimal, updatedBy, source string) (*portfolio.RateChange, error)
}

// MarketDataEvent is the envelope published by the price feeds
type MarketDataEvent struct {
	EventType string              `json:"event_type"`
	Source    string              `json:"source"`
	Timestamp string              `json:"timestamp"`
	Data      MarketDataEventData `json:"data"`
}

// MarketDataEventData carries either a price or a rate update
type MarketDataEventData struct {
	// PRICE_UPDATED
	Name  string `json:"name,omitempty"`
	Price string `json:"price,omitempty"`

	// EXCHANGE_RATE_UPDATED
	Rate      string `json:"rate,omitempty"`
	UpdatedBy string `json:"updated_by,omitempty"`
}

// MarketDataConsumer feeds price and rate updates from Kafka into the services
type MarketDataConsumer struct {
	reader *kafka.Reader
	prices PriceUpdater
	rates  RateUpdater
	log    zerolog.Logger
}

// NewMarketDataConsumer creates a new Kafka consumer for market data events
func NewMarketDataConsumer(brokers []string, topic, groupID string, prices PriceUpdater, rates RateUpdater, log zerolog.Logger) *MarketDataConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.LastOffset,
		CommitInterval: time.Second,
	})

	return &MarketDataConsumer{
		reader: reader,
		prices: prices,
		rates:  rates,
		log:    log.With().Str("component", "market_data_consumer").Str("topic", topic).Logger(),
	}
}

// Start begins consuming messages from Kafka
func (c *MarketDataConsumer) Start(ctx context.Context) error {
	c.log.Info().Msg("Starting market data consumer")

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("Market data consumer shutting down")
			return c.reader.Close()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.log.Error().Err(err).Msg("Error reading market data message")
				continue
			}

			if err := c.processMessage(ctx, msg); err != nil {
				c.log.Error().
					Err(err).
					Int("partition", msg.Partition).
					Int64("offset", msg.Offset).
					Msg("Error processing market data message")
			}
		}
	}
}

// processMessage handles a single Kafka message
func (c *MarketDataConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var event MarketDataEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal market data event: %w", err)
	}

	switch event.EventType {
	case EventPriceUpdated:
		return c.handlePriceUpdated(ctx, event)
	case EventExchangeRateUpdated:
		return c.handleExchangeRateUpdated(ctx, event)
	default:
		c.log.Debug().Str("event_type", event.EventType).Msg("Ignoring unknown market data event type")
		return nil
	}
}

func (c *MarketDataConsumer) handlePriceUpdated(ctx context.Context, event MarketDataEvent) error {
	name := strings.TrimSpace(event.Data.Name)
	price, err := decimal.NewFromString(event.Data.Price)
	if err != nil {
		return fmt.Errorf("invalid price %q for %s: %w", event.Data.Price, name, err)
	}

	update, err := c.prices.UpdatePriceByName(ctx, name, price)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.log.Warn().Str("stock", name).Msg("Price update for unknown stock ignored")
			return nil
		}
		return fmt.Errorf("failed to apply price for %s: %w", name, err)
	}

	c.log.Info().
		Str("stock", update.Name).
		Str("old_price", update.OldPrice.String()).
		Str("new_price", update.NewPrice.String()).
		Str("source", event.Source).
		Msg("Applied price update")
	return nil
}

func (c *MarketDataConsumer) handleExchangeRateUpdated(ctx context.Context, event MarketDataEvent) error {
	rate, err := decimal.NewFromString(event.Data.Rate)
	if err != nil {
		return fmt.Errorf("invalid exchange rate %q: %w", event.Data.Rate, err)
	}

	change, err := c.rates.UpdateExchangeRate(ctx, rate, event.Data.UpdatedBy, event.Source)
	if err != nil {
		return fmt.Errorf("failed to apply exchange rate: %w", err)
	}

	c.log.Info().
		Str("old_rate", change.OldRate.String()).
		Str("new_rate", change.NewRate.String()).
		Str("source", change.Source).
		Msg("Applied exchange rate update")
	return nil
}

// Close closes the Kafka reader
func (c *MarketDataConsumer) Close() error {
	return c.reader.Close()
}
