package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/chihkang/PortfolioManager/internal/models"
	"github.com/chihkang/PortfolioManager/internal/valuation"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultRange is used when no history range is requested
const DefaultRange = "1mo"

var historyRanges = map[string]struct{ years, months int }{
	"1mo": {0, 1},
	"3mo": {0, 3},
	"6mo": {0, 6},
	"1yr": {1, 0},
}

// HistoryStore reads daily snapshots
type HistoryStore interface {
	FindDailyValues(ctx context.Context, portfolioID primitive.ObjectID, from, to time.Time) ([]models.PortfolioDailyValue, error)
}

// HistoryService answers valuation history queries in the reference timezone
type HistoryService struct {
	store HistoryStore
	loc   *time.Location
	now   func() time.Time
}

// NewHistoryService creates a HistoryService
func NewHistoryService(store HistoryStore, loc *time.Location) *HistoryService {
	return &HistoryService{store: store, loc: loc, now: time.Now}
}

// Window returns [from, to) for a named range. The window ends at the start
// of tomorrow in the reference timezone.
func (h *HistoryService) Window(rng string) (time.Time, time.Time, error) {
	if rng == "" {
		rng = DefaultRange
	}
	span, ok := historyRanges[rng]
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: unknown range %q", models.ErrValidation, rng)
	}

	today := h.now().In(h.loc)
	end := time.Date(today.Year(), today.Month(), today.Day()+1, 0, 0, 0, 0, h.loc)
	start := end.AddDate(-span.years, -span.months, 0)
	return start.UTC(), end.UTC(), nil
}

// History returns the snapshots of a range with their summary.
// An empty window yields valuation.ErrNoData.
func (h *HistoryService) History(ctx context.Context, portfolioID primitive.ObjectID, rng string) (*models.ValueHistory, error) {
	if rng == "" {
		rng = DefaultRange
	}
	from, to, err := h.Window(rng)
	if err != nil {
		return nil, err
	}

	values, err := h.store.FindDailyValues(ctx, portfolioID, from, to)
	if err != nil {
		return nil, err
	}
	summary, err := valuation.Summarize(values)
	if err != nil {
		return nil, err
	}

	return &models.ValueHistory{
		PortfolioID: portfolioID,
		Range:       rng,
		Values:      values,
		Summary:     summary,
	}, nil
}

// Summary returns only the summary of a range
func (h *HistoryService) Summary(ctx context.Context, portfolioID primitive.ObjectID, rng string) (*models.ValueSummary, error) {
	hist, err := h.History(ctx, portfolioID, rng)
	if err != nil {
		return nil, err
	}
	return &hist.Summary, nil
}
