package models

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Portfolio is a user's set of holdings with its last computed valuation.
// TotalValue is expressed in BaseCurrency.
type Portfolio struct {
	ID                  primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	UserID              *primitive.ObjectID `bson:"userId,omitempty" json:"userId,omitempty"`
	Holdings            []Holding           `bson:"stocks" json:"stocks"`
	TotalValue          decimal.Decimal     `bson:"totalValue" json:"totalValue"`
	ExchangeRate        *decimal.Decimal    `bson:"exchange_rate,omitempty" json:"exchangeRate,omitempty"`
	ExchangeRateUpdated *time.Time          `bson:"exchange_rate_updated,omitempty" json:"exchangeRateUpdated,omitempty"`
	LastUpdated         time.Time           `bson:"lastUpdated" json:"lastUpdated"`
}

// Holding is a quantity of one stock inside a portfolio.
// PercentageOfTotal is derived and rewritten on every recompute.
type Holding struct {
	StockID           primitive.ObjectID `bson:"stockId" json:"stockId"`
	Quantity          decimal.Decimal    `bson:"quantity" json:"quantity"`
	PercentageOfTotal decimal.Decimal    `bson:"percentageOfTotal" json:"percentageOfTotal"`
}

// StockIDs returns the distinct stock ids referenced by the holdings, in order.
func (p Portfolio) StockIDs() []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]struct{}, len(p.Holdings))
	ids := make([]primitive.ObjectID, 0, len(p.Holdings))
	for _, h := range p.Holdings {
		if _, ok := seen[h.StockID]; ok {
			continue
		}
		seen[h.StockID] = struct{}{}
		ids = append(ids, h.StockID)
	}
	return ids
}

// Rate returns the FX snapshot, or zero when none is set.
func (p Portfolio) Rate() decimal.Decimal {
	if p.ExchangeRate == nil {
		return decimal.Zero
	}
	return *p.ExchangeRate
}

// HoldingDetail is the per-holding breakdown returned by the metrics read path
type HoldingDetail struct {
	StockID           primitive.ObjectID `json:"stockId"`
	Name              string             `json:"name"`
	Quantity          decimal.Decimal    `json:"quantity"`
	Currency          string             `json:"currency"`
	OriginalPrice     decimal.Decimal    `json:"originalPrice"`
	ConvertedPrice    decimal.Decimal    `json:"convertedPrice"`
	Value             decimal.Decimal    `json:"value"`
	PercentageOfTotal decimal.Decimal    `json:"percentageOfTotal"`
}

// CurrencyShare is the portion of a portfolio held in one currency
type CurrencyShare struct {
	TotalValue decimal.Decimal `json:"totalValue"`
	Percentage decimal.Decimal `json:"percentage"`
}

// PortfolioMetrics is the recomputed view of a portfolio
type PortfolioMetrics struct {
	PortfolioID          primitive.ObjectID       `json:"portfolioId"`
	TotalValue           decimal.Decimal          `json:"totalValue"`
	ExchangeRate         decimal.Decimal          `json:"exchangeRate"`
	Holdings             []HoldingDetail          `json:"holdings"`
	CurrencyDistribution map[string]CurrencyShare `json:"currencyDistribution"`
	MissingStockIDs      []primitive.ObjectID     `json:"missingStockIds,omitempty"`
	LastUpdated          time.Time                `json:"lastUpdated"`
}
