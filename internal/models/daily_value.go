package models

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PortfolioDailyValue is one immutable point of a portfolio's valuation history.
// Date is the UTC instant of midnight in the reference timezone.
type PortfolioDailyValue struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	PortfolioID primitive.ObjectID `bson:"portfolioId" json:"portfolioId"`
	Date        time.Time          `bson:"date" json:"date"`
	TotalValue  decimal.Decimal    `bson:"totalValue" json:"totalValue"`
}

// ValueSummary describes a history window
type ValueSummary struct {
	StartValue       decimal.Decimal `json:"startValue"`
	EndValue         decimal.Decimal `json:"endValue"`
	ChangePercentage decimal.Decimal `json:"changePercentage"`
	HighestValue     decimal.Decimal `json:"highestValue"`
	HighestValueDate time.Time       `json:"highestValueDate"`
	LowestValue      decimal.Decimal `json:"lowestValue"`
	LowestValueDate  time.Time       `json:"lowestValueDate"`
}

// ValueHistory is the history endpoint payload
type ValueHistory struct {
	PortfolioID primitive.ObjectID    `json:"portfolioId"`
	Range       string                `json:"range"`
	Values      []PortfolioDailyValue `json:"values"`
	Summary     ValueSummary          `json:"summary"`
}

// DayStart returns the UTC instant of midnight of t's calendar day in loc
func DayStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).UTC()
}
