package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/chihkang/PortfolioManager/internal/metrics"
	"github.com/chihkang/PortfolioManager/internal/models"
	"github.com/chihkang/PortfolioManager/internal/valuation"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RateFetcher provides the live USD-TWD rate
type RateFetcher interface {
	FetchCurrentRate(ctx context.Context) (decimal.Decimal, error)
}

// SnapshotStore is the persistence the daily snapshot needs
type SnapshotStore interface {
	FindAllPortfolios(ctx context.Context) ([]models.Portfolio, error)
	FindStocksByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Stock, error)
	InsertDailyValue(ctx context.Context, v models.PortfolioDailyValue) (bool, error)
}

// DailyValueJob records one valuation per portfolio for the current day
type DailyValueJob struct {
	store   SnapshotStore
	rates   RateFetcher
	loc     *time.Location
	timeout time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

// NewDailyValueJob creates a daily snapshot job. Dates are normalized to
// midnight in loc.
func NewDailyValueJob(store SnapshotStore, rates RateFetcher, loc *time.Location, log zerolog.Logger) *DailyValueJob {
	return &DailyValueJob{
		store:   store,
		rates:   rates,
		loc:     loc,
		timeout: 5 * time.Minute,
		now:     time.Now,
		log:     log.With().Str("job", "daily_value").Logger(),
	}
}

// Name returns the job name
func (j *DailyValueJob) Name() string {
	return "daily_value"
}

// Run executes the job
func (j *DailyValueJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.RunContext(ctx)
}

// RunContext snapshots every portfolio at stored prices and the live rate.
// A rate fetch failure aborts the run before any write; per-portfolio
// failures are logged and skipped.
func (j *DailyValueJob) RunContext(ctx context.Context) error {
	rate, err := j.rates.FetchCurrentRate(ctx)
	if err != nil {
		metrics.DailySnapshots.WithLabelValues("aborted").Inc()
		return fmt.Errorf("failed to fetch exchange rate: %w", err)
	}

	portfolios, err := j.store.FindAllPortfolios(ctx)
	if err != nil {
		return fmt.Errorf("failed to load portfolios: %w", err)
	}

	prices, currencies, err := j.loadPrices(ctx, portfolios)
	if err != nil {
		return err
	}

	date := models.DayStart(j.now(), j.loc)
	log := j.log.With().Time("date", date).Str("rate", rate.String()).Logger()

	var inserted, existing, failed int
	for _, p := range portfolios {
		ok, err := j.snapshot(ctx, p, prices, currencies, rate, date)
		switch {
		case err != nil:
			failed++
			metrics.DailySnapshots.WithLabelValues("failed").Inc()
			log.Error().Err(err).Str("portfolio_id", p.ID.Hex()).Msg("Failed to record daily value, skipping")
		case ok:
			inserted++
			metrics.DailySnapshots.WithLabelValues("inserted").Inc()
		default:
			existing++
			metrics.DailySnapshots.WithLabelValues("existing").Inc()
		}
	}

	log.Info().
		Int("portfolios", len(portfolios)).
		Int("inserted", inserted).
		Int("existing", existing).
		Int("failed", failed).
		Msg("Daily values recorded")
	return nil
}

func (j *DailyValueJob) snapshot(
	ctx context.Context,
	p models.Portfolio,
	prices map[primitive.ObjectID]decimal.Decimal,
	currencies map[primitive.ObjectID]string,
	rate decimal.Decimal,
	date time.Time,
) (bool, error) {
	res, err := valuation.ComputeValuation(p.Holdings, prices, currencies, rate)
	if err != nil {
		return false, err
	}
	for _, sid := range res.MissingStockIDs {
		j.log.Warn().Str("portfolio_id", p.ID.Hex()).Str("stock_id", sid.Hex()).Msg("Missing price for holding, valued at zero")
	}

	return j.store.InsertDailyValue(ctx, models.PortfolioDailyValue{
		PortfolioID: p.ID,
		Date:        date,
		TotalValue:  res.TotalValue,
	})
}

func (j *DailyValueJob) loadPrices(ctx context.Context, portfolios []models.Portfolio) (map[primitive.ObjectID]decimal.Decimal, map[primitive.ObjectID]string, error) {
	seen := make(map[primitive.ObjectID]struct{})
	var ids []primitive.ObjectID
	for _, p := range portfolios {
		for _, id := range p.StockIDs() {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}

	stocks, err := j.store.FindStocksByIDs(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load stocks: %w", err)
	}
	prices := make(map[primitive.ObjectID]decimal.Decimal, len(stocks))
	currencies := make(map[primitive.ObjectID]string, len(stocks))
	for _, s := range stocks {
		prices[s.ID] = s.Price
		currencies[s.ID] = s.Currency
	}
	return prices, currencies, nil
}
