package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/chihkang/PortfolioManager/internal/events"
	"github.com/chihkang/PortfolioManager/internal/models"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// StockPriceStore is the persistence needed to mutate prices
type StockPriceStore interface {
	UpdateStockPriceByName(ctx context.Context, name string, price decimal.Decimal, at time.Time) (*models.Stock, error)
}

// PriceService applies price changes and announces them on the bus
type PriceService struct {
	store StockPriceStore
	bus   events.Publisher
	log   zerolog.Logger
}

// NewPriceService creates a PriceService
func NewPriceService(store StockPriceStore, bus events.Publisher, log zerolog.Logger) *PriceService {
	return &PriceService{
		store: store,
		bus:   bus,
		log:   log.With().Str("component", "price_service").Logger(),
	}
}

// UpdatePriceByName sets a stock's price and publishes StockPriceChanged.
// The returned update is non-nil whenever the price was written, even if a
// subscriber then failed.
func (s *PriceService) UpdatePriceByName(ctx context.Context, name string, price decimal.Decimal) (*models.PriceUpdate, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: stock name is required", models.ErrValidation)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive", models.ErrValidation)
	}

	now := time.Now().UTC()
	before, err := s.store.UpdateStockPriceByName(ctx, name, price, now)
	if err != nil {
		return nil, err
	}

	update := &models.PriceUpdate{
		StockID:     before.ID,
		Name:        before.Name,
		OldPrice:    before.Price,
		NewPrice:    price,
		Currency:    before.Currency,
		LastUpdated: now,
	}
	s.log.Info().
		Str("stock", name).
		Str("old_price", before.Price.String()).
		Str("new_price", price.String()).
		Msg("Stock price updated")

	event := models.StockPriceChanged{
		StockID:   before.ID,
		OldPrice:  before.Price,
		NewPrice:  price,
		Timestamp: now,
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		return update, fmt.Errorf("price saved but revaluation failed: %w", err)
	}
	return update, nil
}
