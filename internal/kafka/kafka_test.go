package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chihkang/PortfolioManager/internal/events"
	"github.com/chihkang/PortfolioManager/internal/models"
	"github.com/chihkang/PortfolioManager/internal/portfolio"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ---------------------------------------------------------------------------
// Mock price and rate updaters
// ---------------------------------------------------------------------------

type priceCall struct {
	Name  string
	Price decimal.Decimal
}

type rateCall struct {
	Rate      decimal.Decimal
	UpdatedBy string
	Source    string
}

type mockUpdaters struct {
	mu       sync.Mutex
	prices   []priceCall
	rates    []rateCall
	priceErr error
	rateErr  error
}

func (m *mockUpdaters) UpdatePriceByName(ctx context.Context, name string, price decimal.Decimal) (*models.PriceUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.priceErr != nil {
		return nil, m.priceErr
	}
	m.prices = append(m.prices, priceCall{Name: name, Price: price})
	return &models.PriceUpdate{Name: name, OldPrice: decimal.NewFromInt(1), NewPrice: price}, nil
}

func (m *mockUpdaters) UpdateExchangeRate(ctx context.Context, rate decimal.Decimal, updatedBy, source string) (*portfolio.RateChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rateErr != nil {
		return nil, m.rateErr
	}
	m.rates = append(m.rates, rateCall{Rate: rate, UpdatedBy: updatedBy, Source: source})
	return &portfolio.RateChange{NewRate: rate, UpdatedBy: updatedBy, Source: source}, nil
}

func newTestConsumer() (*MarketDataConsumer, *mockUpdaters) {
	m := &mockUpdaters{}
	return &MarketDataConsumer{prices: m, rates: m, log: zerolog.Nop()}, m
}

func marshal(t *testing.T, event MarketDataEvent) kafkago.Message {
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return kafkago.Message{Value: payload}
}

// ---------------------------------------------------------------------------
// processMessage tests
// ---------------------------------------------------------------------------

func TestMarketDataConsumer_processMessage_PriceUpdated(t *testing.T) {
	consumer, m := newTestConsumer()

	msg := marshal(t, MarketDataEvent{
		EventType: EventPriceUpdated,
		Source:    "stock-updater",
		Timestamp: time.Now().Format(time.RFC3339),
		Data:      MarketDataEventData{Name: " 2330:TPE ", Price: "1085.5"},
	})
	require.NoError(t, consumer.processMessage(context.Background(), msg))

	require.Len(t, m.prices, 1)
	assert.Equal(t, "2330:TPE", m.prices[0].Name)
	assert.Equal(t, "1085.5", m.prices[0].Price.String())
}

func TestMarketDataConsumer_processMessage_PriceUnknownStockIgnored(t *testing.T) {
	consumer, m := newTestConsumer()
	m.priceErr = models.ErrNotFound

	msg := marshal(t, MarketDataEvent{
		EventType: EventPriceUpdated,
		Data:      MarketDataEventData{Name: "NOPE", Price: "1"},
	})
	assert.NoError(t, consumer.processMessage(context.Background(), msg))
}

func TestMarketDataConsumer_processMessage_PriceFailureSurfaces(t *testing.T) {
	consumer, m := newTestConsumer()
	m.priceErr = errors.New("mongo down")

	msg := marshal(t, MarketDataEvent{
		EventType: EventPriceUpdated,
		Data:      MarketDataEventData{Name: "VOO", Price: "500"},
	})
	err := consumer.processMessage(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VOO")
}

func TestMarketDataConsumer_processMessage_BadPrice(t *testing.T) {
	consumer, m := newTestConsumer()

	msg := marshal(t, MarketDataEvent{
		EventType: EventPriceUpdated,
		Data:      MarketDataEventData{Name: "VOO", Price: "abc"},
	})
	require.Error(t, consumer.processMessage(context.Background(), msg))
	assert.Empty(t, m.prices)
}

func TestMarketDataConsumer_processMessage_ExchangeRateUpdated(t *testing.T) {
	consumer, m := newTestConsumer()

	msg := marshal(t, MarketDataEvent{
		EventType: EventExchangeRateUpdated,
		Source:    "fx-feed",
		Data:      MarketDataEventData{Rate: "32.105", UpdatedBy: "feed"},
	})
	require.NoError(t, consumer.processMessage(context.Background(), msg))

	require.Len(t, m.rates, 1)
	assert.Equal(t, "32.105", m.rates[0].Rate.String())
	assert.Equal(t, "feed", m.rates[0].UpdatedBy)
	assert.Equal(t, "fx-feed", m.rates[0].Source)
}

func TestMarketDataConsumer_processMessage_ExchangeRateBusy(t *testing.T) {
	consumer, m := newTestConsumer()
	m.rateErr = portfolio.ErrUpdateInProgress

	msg := marshal(t, MarketDataEvent{
		EventType: EventExchangeRateUpdated,
		Data:      MarketDataEventData{Rate: "32"},
	})
	err := consumer.processMessage(context.Background(), msg)
	assert.ErrorIs(t, err, portfolio.ErrUpdateInProgress)
}

func TestMarketDataConsumer_processMessage_UnknownEventType(t *testing.T) {
	consumer, m := newTestConsumer()

	msg := marshal(t, MarketDataEvent{EventType: "TOTALLY_UNKNOWN"})
	require.NoError(t, consumer.processMessage(context.Background(), msg))
	assert.Empty(t, m.prices)
	assert.Empty(t, m.rates)
}

func TestMarketDataConsumer_processMessage_InvalidJSON(t *testing.T) {
	consumer, _ := newTestConsumer()

	err := consumer.processMessage(context.Background(), kafkago.Message{Value: []byte("{invalid")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

// ---------------------------------------------------------------------------
// ValuationProducer
// ---------------------------------------------------------------------------

type mockWriter struct {
	mu   sync.Mutex
	msgs []kafkago.Message
	err  error
}

func (w *mockWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *mockWriter) Close() error { return nil }

func sampleRevaluation() models.PortfolioRevalued {
	return models.PortfolioRevalued{
		ID:           "f47ac10b-58cc-4372-a567-0e02b2c3d479",
		PortfolioID:  primitive.NewObjectID(),
		TotalValue:   decimal.RequireFromString("4650.00"),
		ExchangeRate: decimal.RequireFromString("31.5"),
		Reason:       "price_change",
		Timestamp:    time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestBuildMessage(t *testing.T) {
	ev := sampleRevaluation()

	msg, err := buildMessage(ev)
	require.NoError(t, err)

	assert.Equal(t, ev.PortfolioID.Hex(), string(msg.Key))
	assert.Equal(t, ev.Timestamp, msg.Time)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, models.EventPortfolioRevalued, string(msg.Headers[0].Value))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "4650", decoded["totalValue"])
	assert.Equal(t, "price_change", decoded["reason"])
}

func TestValuationProducer_SubscribedToBus(t *testing.T) {
	w := &mockWriter{}
	p := newValuationProducer(w, zerolog.Nop())
	bus := events.NewBus(zerolog.Nop())
	p.Register(bus)

	require.NoError(t, bus.Publish(context.Background(), sampleRevaluation()))
	assert.Len(t, w.msgs, 1)
}

func TestValuationProducer_WriteFailure(t *testing.T) {
	w := &mockWriter{err: errors.New("broker unavailable")}
	p := newValuationProducer(w, zerolog.Nop())

	err := p.Publish(context.Background(), sampleRevaluation())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")
}
