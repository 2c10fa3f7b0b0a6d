// Package portfolio keeps persisted portfolio valuations consistent with
// stock prices and the USD-TWD exchange rate.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chihkang/PortfolioManager/internal/config"
	"github.com/chihkang/PortfolioManager/internal/events"
	"github.com/chihkang/PortfolioManager/internal/metrics"
	"github.com/chihkang/PortfolioManager/internal/models"
	"github.com/chihkang/PortfolioManager/internal/valuation"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrUpdateInProgress is returned when the exchange rate lock could not be
// acquired within the configured wait.
var ErrUpdateInProgress = errors.New("too many concurrent exchange rate updates")

// Store is the persistence the updater needs
type Store interface {
	GetPortfolio(ctx context.Context, id primitive.ObjectID) (*models.Portfolio, error)
	FindPortfoliosContainingStock(ctx context.Context, stockID primitive.ObjectID) ([]models.Portfolio, error)
	FindPortfoliosWithRateHoldingAny(ctx context.Context, stockIDs []primitive.ObjectID) ([]models.Portfolio, error)
	FindStocksByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Stock, error)
	FindStocksByCurrency(ctx context.Context, currency string) ([]models.Stock, error)
	UpdatePortfolio(ctx context.Context, id primitive.ObjectID, totalValue decimal.Decimal, holdings []models.Holding, at time.Time) error
	BulkSetExchangeRate(ctx context.Context, rate decimal.Decimal, at time.Time) (int64, error)
	CurrentExchangeRate(ctx context.Context) (decimal.Decimal, error)
}

// Cache is the best-effort valuation cache. Implementations swallow their own failures.
type Cache interface {
	GetPortfolio(ctx context.Context, id primitive.ObjectID) (*models.Portfolio, bool)
	SetPortfolio(ctx context.Context, p *models.Portfolio, ttl time.Duration)
	InvalidatePortfolio(ctx context.Context, id primitive.ObjectID)
	GetExchangeRate(ctx context.Context) (decimal.Decimal, bool)
	SetExchangeRate(ctx context.Context, rate decimal.Decimal, ttl time.Duration)
}

// Options tunes the updater
type Options struct {
	BatchSize        int
	MaxRetryAttempts int
	RetryBaseDelay   time.Duration
	CacheExpiration  time.Duration
	LockTimeout      time.Duration
}

// OptionsFromConfig maps configuration onto Options
func OptionsFromConfig(cfg config.PortfolioUpdateConfig) Options {
	return Options{
		BatchSize:        cfg.BatchSize,
		MaxRetryAttempts: cfg.MaxRetryAttempts,
		RetryBaseDelay:   cfg.RetryBaseDelay,
		CacheExpiration:  cfg.CacheExpiration,
		LockTimeout:      cfg.LockTimeout,
	}
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.MaxRetryAttempts <= 0 {
		o.MaxRetryAttempts = 3
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = time.Second
	}
	if o.CacheExpiration <= 0 {
		o.CacheExpiration = 5 * time.Minute
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = 5 * time.Second
	}
	return o
}

// Updater recomputes affected portfolios when prices or the FX rate change
type Updater struct {
	store  Store
	cache  Cache
	bus    events.Publisher
	opts   Options
	rateMu *semaphore.Weighted
	now    func() time.Time
	log    zerolog.Logger
}

// NewUpdater creates an Updater
func NewUpdater(store Store, cache Cache, bus events.Publisher, opts Options, log zerolog.Logger) *Updater {
	return &Updater{
		store:  store,
		cache:  cache,
		bus:    bus,
		opts:   opts.withDefaults(),
		rateMu: semaphore.NewWeighted(1),
		now:    func() time.Time { return time.Now().UTC() },
		log:    log.With().Str("component", "portfolio_updater").Logger(),
	}
}

// Register subscribes the updater's handlers on bus
func (u *Updater) Register(bus *events.Bus) {
	bus.Subscribe(models.EventStockPriceChanged, "portfolio-updater", func(ctx context.Context, e events.Event) error {
		ev, ok := e.(models.StockPriceChanged)
		if !ok {
			return fmt.Errorf("unexpected event type %T", e)
		}
		return u.HandleStockPriceUpdated(ctx, ev)
	})
	bus.Subscribe(models.EventExchangeRateChanged, "portfolio-updater", func(ctx context.Context, e events.Event) error {
		ev, ok := e.(models.ExchangeRateChanged)
		if !ok {
			return fmt.Errorf("unexpected event type %T", e)
		}
		return u.HandleExchangeRateUpdated(ctx, ev)
	})
}

// HandleStockPriceUpdated recomputes every portfolio holding the changed
// stock. A transient failure retries the whole pipeline and the last error is
// returned once attempts are exhausted. A portfolio that fails permanently is
// logged and skipped.
func (u *Updater) HandleStockPriceUpdated(ctx context.Context, e models.StockPriceChanged) error {
	start := time.Now()
	defer func() {
		metrics.HandlerDuration.WithLabelValues(models.EventStockPriceChanged).Observe(time.Since(start).Seconds())
	}()

	log := u.log.With().
		Str("stock_id", e.StockID.Hex()).
		Str("old_price", e.OldPrice.String()).
		Str("new_price", e.NewPrice.String()).
		Logger()
	log.Info().Msg("Handling stock price update")

	var revalued []models.PortfolioRevalued
	err := u.withRetry(ctx, models.EventStockPriceChanged, func(ctx context.Context) error {
		var err error
		revalued, err = u.recomputeForStock(ctx, e.StockID)
		return err
	})
	if err != nil {
		log.Error().Err(err).Msg("Stock price update failed")
		return fmt.Errorf("failed to recompute portfolios for stock %s: %w", e.StockID.Hex(), err)
	}

	u.publishRevaluations(ctx, revalued)
	log.Info().Int("portfolios", len(revalued)).Msg("Stock price update applied")
	return nil
}

func (u *Updater) recomputeForStock(ctx context.Context, stockID primitive.ObjectID) ([]models.PortfolioRevalued, error) {
	portfolios, err := u.store.FindPortfoliosContainingStock(ctx, stockID)
	if err != nil {
		return nil, err
	}
	if len(portfolios) == 0 {
		u.log.Info().Str("stock_id", stockID.Hex()).Msg("No portfolios hold stock, nothing to update")
		return nil, nil
	}

	prices, currencies, err := u.priceMap(ctx, portfolios)
	if err != nil {
		return nil, err
	}

	revalued := make([]models.PortfolioRevalued, 0, len(portfolios))
	for i := range portfolios {
		ev, err := u.recomputeOne(ctx, &portfolios[i], prices, currencies, portfolios[i].Rate(), "price_change")
		if err != nil {
			if !isPermanent(err) {
				return nil, err
			}
			// a broken portfolio cannot be fixed by retrying; the rest still move
			metrics.PortfolioRecomputeFailures.WithLabelValues(models.EventStockPriceChanged).Inc()
			u.log.Error().Err(err).Str("portfolio_id", portfolios[i].ID.Hex()).Msg("Failed to recompute portfolio, skipping")
			continue
		}
		revalued = append(revalued, ev)
	}
	metrics.PortfoliosRecomputed.WithLabelValues(models.EventStockPriceChanged).Add(float64(len(revalued)))
	return revalued, nil
}

// HandleExchangeRateUpdated writes the new rate onto every portfolio that has
// one, then recomputes those holding USD stocks. The bulk write and the lookup
// of affected portfolios are each retried. Per-portfolio recompute errors are
// logged and skipped.
func (u *Updater) HandleExchangeRateUpdated(ctx context.Context, e models.ExchangeRateChanged) error {
	start := time.Now()
	defer func() {
		metrics.HandlerDuration.WithLabelValues(models.EventExchangeRateChanged).Observe(time.Since(start).Seconds())
	}()

	log := u.log.With().
		Str("old_rate", e.OldRate.String()).
		Str("new_rate", e.NewRate.String()).
		Str("updated_by", e.UpdatedBy).
		Str("source", e.Source).
		Logger()

	var modified int64
	err := u.withRetry(ctx, models.EventExchangeRateChanged, func(ctx context.Context) error {
		var err error
		modified, err = u.store.BulkSetExchangeRate(ctx, e.NewRate, u.now())
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to set exchange rate: %w", err)
	}
	if modified == 0 {
		return fmt.Errorf("no portfolio carries an exchange rate: %w", models.ErrNotFound)
	}
	log.Info().Int64("portfolios", modified).Msg("Exchange rate written to portfolios")

	// only lookups can fail here; per-portfolio errors are skipped inside
	var revalued []models.PortfolioRevalued
	var failed int
	err = u.withRetry(ctx, models.EventExchangeRateChanged, func(ctx context.Context) error {
		var err error
		revalued, failed, err = u.recomputeForeignHoldings(ctx, e.NewRate)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to resolve USD portfolios: %w", err)
	}

	u.publishRevaluations(ctx, revalued)
	log.Info().Int("recomputed", len(revalued)).Int("failed", failed).Msg("Exchange rate update applied")
	return nil
}

func (u *Updater) recomputeForeignHoldings(ctx context.Context, rate decimal.Decimal) ([]models.PortfolioRevalued, int, error) {
	usdStocks, err := u.store.FindStocksByCurrency(ctx, models.ForeignCurrency)
	if err != nil {
		return nil, 0, err
	}
	if len(usdStocks) == 0 {
		return nil, 0, nil
	}

	usdIDs := make([]primitive.ObjectID, len(usdStocks))
	for i, s := range usdStocks {
		usdIDs[i] = s.ID
	}

	portfolios, err := u.store.FindPortfoliosWithRateHoldingAny(ctx, usdIDs)
	if err != nil {
		return nil, 0, err
	}
	if len(portfolios) == 0 {
		return nil, 0, nil
	}

	prices, currencies, err := u.priceMap(ctx, portfolios)
	if err != nil {
		return nil, 0, err
	}

	revalued := make([]models.PortfolioRevalued, 0, len(portfolios))
	failed := 0
	for i := range portfolios {
		ev, err := u.recomputeOne(ctx, &portfolios[i], prices, currencies, rate, "exchange_rate_change")
		if err != nil {
			failed++
			metrics.PortfolioRecomputeFailures.WithLabelValues(models.EventExchangeRateChanged).Inc()
			u.log.Error().Err(err).Str("portfolio_id", portfolios[i].ID.Hex()).Msg("Failed to recompute portfolio, skipping")
			continue
		}
		revalued = append(revalued, ev)
	}
	metrics.PortfoliosRecomputed.WithLabelValues(models.EventExchangeRateChanged).Add(float64(len(revalued)))
	return revalued, failed, nil
}

// RecomputePortfolio revalues one portfolio, used after its holdings change
func (u *Updater) RecomputePortfolio(ctx context.Context, id primitive.ObjectID) (*models.Portfolio, error) {
	var updated *models.Portfolio
	var revalued models.PortfolioRevalued
	err := u.withRetry(ctx, "HoldingsChanged", func(ctx context.Context) error {
		p, err := u.store.GetPortfolio(ctx, id)
		if err != nil {
			return err
		}
		prices, currencies, err := u.priceMap(ctx, []models.Portfolio{*p})
		if err != nil {
			return err
		}
		if revalued, err = u.recomputeOne(ctx, p, prices, currencies, p.Rate(), "holdings_change"); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	u.publishRevaluations(ctx, []models.PortfolioRevalued{revalued})
	return updated, nil
}

// priceMap loads current prices and currencies for every stock referenced by portfolios
func (u *Updater) priceMap(ctx context.Context, portfolios []models.Portfolio) (map[primitive.ObjectID]decimal.Decimal, map[primitive.ObjectID]string, error) {
	seen := make(map[primitive.ObjectID]struct{})
	var ids []primitive.ObjectID
	for i := range portfolios {
		for _, id := range portfolios[i].StockIDs() {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}

	stocks, err := u.store.FindStocksByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	prices := make(map[primitive.ObjectID]decimal.Decimal, len(stocks))
	currencies := make(map[primitive.ObjectID]string, len(stocks))
	for _, s := range stocks {
		prices[s.ID] = s.Price
		currencies[s.ID] = s.Currency
	}
	return prices, currencies, nil
}

// recomputeOne values p, persists the result onto p and the Store, then
// invalidates its cache entry. Invalidation never precedes persistence.
func (u *Updater) recomputeOne(
	ctx context.Context,
	p *models.Portfolio,
	prices map[primitive.ObjectID]decimal.Decimal,
	currencies map[primitive.ObjectID]string,
	rate decimal.Decimal,
	reason string,
) (models.PortfolioRevalued, error) {
	res, err := valuation.ComputeValuation(p.Holdings, prices, currencies, rate)
	if err != nil {
		return models.PortfolioRevalued{}, fmt.Errorf("portfolio %s: %w", p.ID.Hex(), err)
	}
	u.warnIncomplete(p.ID, res)

	holdings := res.ApplyTo(p.Holdings)
	at := u.now()
	if err := u.store.UpdatePortfolio(ctx, p.ID, res.TotalValue, holdings, at); err != nil {
		return models.PortfolioRevalued{}, err
	}
	u.cache.InvalidatePortfolio(ctx, p.ID)

	p.Holdings = holdings
	p.TotalValue = res.TotalValue
	p.LastUpdated = at

	u.log.Debug().Str("portfolio_id", p.ID.Hex()).Str("total_value", res.TotalValue.String()).Msg("Portfolio recomputed")
	return models.PortfolioRevalued{
		ID:           uuid.NewString(),
		PortfolioID:  p.ID,
		TotalValue:   res.TotalValue,
		ExchangeRate: rate,
		Reason:       reason,
		Timestamp:    at,
	}, nil
}

func (u *Updater) warnIncomplete(id primitive.ObjectID, res valuation.Result) {
	for _, sid := range res.MissingStockIDs {
		u.log.Warn().Str("portfolio_id", id.Hex()).Str("stock_id", sid.Hex()).Msg("Missing price for holding, valued at zero")
	}
	for _, sid := range res.UnconvertedStockIDs {
		u.log.Warn().Str("portfolio_id", id.Hex()).Str("stock_id", sid.Hex()).Msg("No exchange rate for USD holding, valued at zero")
	}
}

// publishRevaluations publishes notifications in chunks of BatchSize. A chunk
// is published concurrently and awaited before the next one starts.
func (u *Updater) publishRevaluations(ctx context.Context, revalued []models.PortfolioRevalued) {
	for start := 0; start < len(revalued); start += u.opts.BatchSize {
		end := start + u.opts.BatchSize
		if end > len(revalued) {
			end = len(revalued)
		}

		var g errgroup.Group
		for _, ev := range revalued[start:end] {
			ev := ev
			g.Go(func() error {
				return u.bus.Publish(ctx, ev)
			})
		}
		if err := g.Wait(); err != nil {
			u.log.Warn().Err(err).Int("chunk_start", start).Msg("Some revaluation notifications failed")
		}
	}
}

// GetAffectedPortfolios returns the ids of portfolios holding stockID
func (u *Updater) GetAffectedPortfolios(ctx context.Context, stockID primitive.ObjectID) ([]primitive.ObjectID, error) {
	portfolios, err := u.store.FindPortfoliosContainingStock(ctx, stockID)
	if err != nil {
		return nil, fmt.Errorf("failed to find affected portfolios: %w", err)
	}
	ids := make([]primitive.ObjectID, len(portfolios))
	for i, p := range portfolios {
		ids[i] = p.ID
	}
	return ids, nil
}
