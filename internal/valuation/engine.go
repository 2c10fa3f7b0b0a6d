// Package valuation computes portfolio values and holding weights.
// Everything here is pure: no I/O and no mutation of caller data.
package valuation

import (
	"errors"
	"fmt"

	"github.com/chihkang/PortfolioManager/internal/models"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	// PricePlaces is the precision of converted prices and holding values.
	PricePlaces int32 = 4
	// TotalPlaces is the precision of portfolio totals and percentages.
	TotalPlaces int32 = 2
)

var (
	hundred = decimal.NewFromInt(100)

	// ErrNegativeQuantity is a precondition violation: holdings must be non-negative.
	ErrNegativeQuantity = errors.New("negative holding quantity")
)

// HoldingValue is the computed valuation of one holding
type HoldingValue struct {
	StockID        primitive.ObjectID
	Quantity       decimal.Decimal
	Currency       string
	OriginalPrice  decimal.Decimal
	ConvertedPrice decimal.Decimal
	Value          decimal.Decimal
	Percentage     decimal.Decimal
}

// Result is the output of ComputeValuation. Holdings are in input order.
type Result struct {
	TotalValue decimal.Decimal
	Holdings   []HoldingValue
	// MissingStockIDs lists holdings with no price or currency entry.
	MissingStockIDs []primitive.ObjectID
	// UnconvertedStockIDs lists foreign holdings skipped for lack of a positive FX rate.
	UnconvertedStockIDs []primitive.ObjectID
}

// ComputeValuation values holdings at the given prices. Holdings priced in
// models.ForeignCurrency are converted with fxRate; other currencies pass through.
// Holdings with no price or currency entry contribute zero and are reported in
// Result.MissingStockIDs. Percentages sum to exactly 100 whenever the total is nonzero.
func ComputeValuation(
	holdings []models.Holding,
	prices map[primitive.ObjectID]decimal.Decimal,
	currencies map[primitive.ObjectID]string,
	fxRate decimal.Decimal,
) (Result, error) {
	for _, h := range holdings {
		if h.Quantity.IsNegative() {
			return Result{}, fmt.Errorf("%w: stock %s quantity %s", ErrNegativeQuantity, h.StockID.Hex(), h.Quantity)
		}
	}

	res := Result{Holdings: make([]HoldingValue, 0, len(holdings))}
	rawTotal := decimal.Zero

	for _, h := range holdings {
		hv := HoldingValue{StockID: h.StockID, Quantity: h.Quantity}

		price, hasPrice := prices[h.StockID]
		currency, hasCurrency := currencies[h.StockID]
		if !hasPrice || !hasCurrency {
			res.MissingStockIDs = append(res.MissingStockIDs, h.StockID)
			res.Holdings = append(res.Holdings, hv)
			continue
		}
		hv.Currency = currency
		hv.OriginalPrice = price

		converted, ok := ConvertPrice(price, currency, fxRate)
		if !ok {
			res.UnconvertedStockIDs = append(res.UnconvertedStockIDs, h.StockID)
			res.Holdings = append(res.Holdings, hv)
			continue
		}
		hv.ConvertedPrice = converted
		hv.Value = h.Quantity.Mul(converted).Round(PricePlaces)
		rawTotal = rawTotal.Add(hv.Value)
		res.Holdings = append(res.Holdings, hv)
	}

	res.TotalValue = rawTotal.Round(TotalPlaces)
	assignPercentages(res.Holdings, rawTotal)
	return res, nil
}

// ConvertPrice applies the FX rule to one price. ok is false for a foreign
// price when no positive rate is available.
func ConvertPrice(price decimal.Decimal, currency string, fxRate decimal.Decimal) (decimal.Decimal, bool) {
	if currency != models.ForeignCurrency {
		return price, true
	}
	if !fxRate.IsPositive() {
		return decimal.Zero, false
	}
	return price.Mul(fxRate).Round(PricePlaces), true
}

// assignPercentages writes rounded weights and pushes the rounding remainder
// onto the largest holding, first one on ties. A total that rounds to zero
// gives every holding zero.
func assignPercentages(holdings []HoldingValue, total decimal.Decimal) {
	if total.Round(TotalPlaces).IsZero() || len(holdings) == 0 {
		for i := range holdings {
			holdings[i].Percentage = decimal.Zero
		}
		return
	}

	sum := decimal.Zero
	largest := 0
	for i := range holdings {
		holdings[i].Percentage = holdings[i].Value.Div(total).Mul(hundred).Round(TotalPlaces)
		sum = sum.Add(holdings[i].Percentage)
		if holdings[i].Value.GreaterThan(holdings[largest].Value) {
			largest = i
		}
	}

	if diff := hundred.Sub(sum); !diff.IsZero() {
		holdings[largest].Percentage = holdings[largest].Percentage.Add(diff)
	}
}

// ApplyTo returns a copy of holdings with percentages taken from the result.
// Holdings are matched by position, so the result must come from the same slice.
func (r Result) ApplyTo(holdings []models.Holding) []models.Holding {
	out := make([]models.Holding, len(holdings))
	copy(out, holdings)
	for i := range out {
		if i < len(r.Holdings) && r.Holdings[i].StockID == out[i].StockID {
			out[i].PercentageOfTotal = r.Holdings[i].Percentage
		}
	}
	return out
}

// CurrencyDistribution groups holding values by currency. Percentages are of
// the result total, rounded to two places.
func (r Result) CurrencyDistribution() map[string]models.CurrencyShare {
	totals := make(map[string]decimal.Decimal)
	for _, h := range r.Holdings {
		if h.Currency == "" {
			continue
		}
		totals[h.Currency] = totals[h.Currency].Add(h.Value)
	}

	dist := make(map[string]models.CurrencyShare, len(totals))
	for ccy, v := range totals {
		pct := decimal.Zero
		if !r.TotalValue.IsZero() {
			pct = v.Div(r.TotalValue).Mul(hundred).Round(TotalPlaces)
		}
		dist[ccy] = models.CurrencyShare{TotalValue: v.Round(TotalPlaces), Percentage: pct}
	}
	return dist
}
