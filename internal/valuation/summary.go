package valuation

import (
	"errors"

	"github.com/chihkang/PortfolioManager/internal/models"
)

// ErrNoData is returned when a history window holds no values.
var ErrNoData = errors.New("no history data in range")

// Summarize reduces date-ascending daily values to a ValueSummary.
// Highest and lowest keep the first occurrence on ties.
func Summarize(values []models.PortfolioDailyValue) (models.ValueSummary, error) {
	if len(values) == 0 {
		return models.ValueSummary{}, ErrNoData
	}

	first, last := values[0], values[len(values)-1]
	s := models.ValueSummary{
		StartValue:       first.TotalValue,
		EndValue:         last.TotalValue,
		HighestValue:     first.TotalValue,
		HighestValueDate: first.Date,
		LowestValue:      first.TotalValue,
		LowestValueDate:  first.Date,
	}

	for _, v := range values[1:] {
		if v.TotalValue.GreaterThan(s.HighestValue) {
			s.HighestValue, s.HighestValueDate = v.TotalValue, v.Date
		}
		if v.TotalValue.LessThan(s.LowestValue) {
			s.LowestValue, s.LowestValueDate = v.TotalValue, v.Date
		}
	}

	if !s.StartValue.IsZero() {
		s.ChangePercentage = s.EndValue.Sub(s.StartValue).
			Div(s.StartValue).
			Mul(hundred).
			Round(TotalPlaces)
	}
	return s, nil
}
