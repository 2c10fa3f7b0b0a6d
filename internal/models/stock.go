package models

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	// BaseCurrency is the reporting currency of every portfolio.
	BaseCurrency = "TWD"
	// ForeignCurrency is the only currency converted with the portfolio FX rate.
	ForeignCurrency = "USD"
)

// Stock is a priced instrument referenced by portfolio holdings
type Stock struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name        string             `bson:"name" json:"name"`
	Alias       string             `bson:"alias,omitempty" json:"alias,omitempty"`
	Price       decimal.Decimal    `bson:"price" json:"price"`
	Currency    string             `bson:"currency" json:"currency"`
	LastUpdated time.Time          `bson:"lastUpdated" json:"lastUpdated"`
}

// StockSummary is the lightweight listing shape for stocks
type StockSummary struct {
	ID    primitive.ObjectID `bson:"_id" json:"id"`
	Name  string             `bson:"name" json:"name"`
	Alias string             `bson:"alias,omitempty" json:"alias,omitempty"`
}

// PriceUpdate describes the result of a price mutation
type PriceUpdate struct {
	StockID     primitive.ObjectID `json:"stockId"`
	Name        string             `json:"name"`
	OldPrice    decimal.Decimal    `json:"oldPrice"`
	NewPrice    decimal.Decimal    `json:"newPrice"`
	Currency    string             `json:"currency"`
	LastUpdated time.Time          `json:"lastUpdated"`
}
