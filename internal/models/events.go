package models

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	EventStockPriceChanged   = "StockPriceChanged"
	EventExchangeRateChanged = "ExchangeRateChanged"
	EventPortfolioRevalued   = "PortfolioRevalued"
)

// StockPriceChanged is published after a stock price mutation
type StockPriceChanged struct {
	StockID   primitive.ObjectID `json:"stockId"`
	OldPrice  decimal.Decimal    `json:"oldPrice"`
	NewPrice  decimal.Decimal    `json:"newPrice"`
	Timestamp time.Time          `json:"timestamp"`
}

func (StockPriceChanged) EventName() string { return EventStockPriceChanged }

// ExchangeRateChanged is published when a new USD-TWD rate is accepted
type ExchangeRateChanged struct {
	OldRate   decimal.Decimal `json:"oldRate"`
	NewRate   decimal.Decimal `json:"newRate"`
	Timestamp time.Time       `json:"timestamp"`
	UpdatedBy string          `json:"updatedBy"`
	Source    string          `json:"source"`
}

func (ExchangeRateChanged) EventName() string { return EventExchangeRateChanged }

// PortfolioRevalued is published for every persisted recompute
type PortfolioRevalued struct {
	ID           string             `json:"id"`
	PortfolioID  primitive.ObjectID `json:"portfolioId"`
	TotalValue   decimal.Decimal    `json:"totalValue"`
	ExchangeRate decimal.Decimal    `json:"exchangeRate"`
	Reason       string             `json:"reason"`
	Timestamp    time.Time          `json:"timestamp"`
}

func (PortfolioRevalued) EventName() string { return EventPortfolioRevalued }
