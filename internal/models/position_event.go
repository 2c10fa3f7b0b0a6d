package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeType is the direction of a position event
type TradeType string

const (
	TradeBuy  TradeType = "BUY"
	TradeSell TradeType = "SELL"
)

var validSources = map[string]bool{"ios": true, "android": true, "web": true}

// PositionEvent is an append-only audit record of a trade applied to a holding.
// OperationID is the caller's idempotency key.
type PositionEvent struct {
	ID             int64           `json:"id"`
	OperationID    string          `json:"operationId"`
	UserID         string          `json:"userId"`
	StockID        string          `json:"stockId"`
	Type           TradeType       `json:"type"`
	TradeAt        time.Time       `json:"tradeAt"`
	CreatedAt      time.Time       `json:"createdAt"`
	QuantityBefore decimal.Decimal `json:"quantityBefore"`
	QuantityAfter  decimal.Decimal `json:"quantityAfter"`
	QuantityDelta  decimal.Decimal `json:"quantityDelta"`
	Currency       string          `json:"currency"`
	TotalCostAfter decimal.Decimal `json:"totalCostAfter"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	Source         string          `json:"source"`
	AppVersion     string          `json:"appVersion"`
}

// Validate checks the event before it is recorded
func (e *PositionEvent) Validate() error {
	if _, err := uuid.Parse(e.OperationID); err != nil {
		return fmt.Errorf("%w: operationId must be a UUID", ErrValidation)
	}
	if e.UserID == "" || e.StockID == "" {
		return fmt.Errorf("%w: userId and stockId are required", ErrValidation)
	}
	if e.Type != TradeBuy && e.Type != TradeSell {
		return fmt.Errorf("%w: type must be BUY or SELL", ErrValidation)
	}
	if e.TradeAt.IsZero() {
		return fmt.Errorf("%w: tradeAt is required", ErrValidation)
	}
	if e.QuantityBefore.IsNegative() || e.QuantityAfter.IsNegative() {
		return fmt.Errorf("%w: quantities must be non-negative", ErrValidation)
	}
	if !e.QuantityAfter.Sub(e.QuantityBefore).Equal(e.QuantityDelta) {
		return fmt.Errorf("%w: quantityDelta must equal quantityAfter - quantityBefore", ErrValidation)
	}
	if e.Type == TradeBuy && !e.QuantityDelta.IsPositive() {
		return fmt.Errorf("%w: BUY must increase quantity", ErrValidation)
	}
	if e.Type == TradeSell && !e.QuantityDelta.IsNegative() {
		return fmt.Errorf("%w: SELL must decrease quantity", ErrValidation)
	}
	if e.UnitPrice.IsNegative() || e.TotalCostAfter.IsNegative() {
		return fmt.Errorf("%w: prices must be non-negative", ErrValidation)
	}
	if e.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrValidation)
	}
	if !validSources[strings.ToLower(e.Source)] {
		return fmt.Errorf("%w: source must be one of ios, android, web", ErrValidation)
	}
	if e.AppVersion == "" {
		return fmt.Errorf("%w: appVersion is required", ErrValidation)
	}
	return nil
}

// PositionEventStats aggregates a user's position events
type PositionEventStats struct {
	UserID          string          `json:"userId"`
	TotalEvents     int64           `json:"totalEvents"`
	BuyCount        int64           `json:"buyCount"`
	SellCount       int64           `json:"sellCount"`
	TotalBuyVolume  decimal.Decimal `json:"totalBuyVolume"`
	TotalSellVolume decimal.Decimal `json:"totalSellVolume"`
	Currencies      []string        `json:"currencies"`
	EarliestTrade   *time.Time      `json:"earliestTrade,omitempty"`
	LatestTrade     *time.Time      `json:"latestTrade,omitempty"`
}
