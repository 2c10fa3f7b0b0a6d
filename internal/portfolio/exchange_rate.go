package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chihkang/PortfolioManager/internal/metrics"
	"github.com/chihkang/PortfolioManager/internal/models"
	"github.com/shopspring/decimal"
)

const (
	defaultUpdatedBy = "System"
	defaultSource    = "Manual"
)

// RateChange describes an accepted exchange rate update
type RateChange struct {
	OldRate   decimal.Decimal `json:"oldRate"`
	NewRate   decimal.Decimal `json:"newRate"`
	UpdatedAt time.Time       `json:"updatedAt"`
	UpdatedBy string          `json:"updatedBy"`
	Source    string          `json:"source"`
}

// UpdateExchangeRate sets a new USD-TWD rate for all portfolios. Only one
// update runs at a time; a caller that waits longer than LockTimeout gets
// ErrUpdateInProgress.
func (u *Updater) UpdateExchangeRate(ctx context.Context, rate decimal.Decimal, updatedBy, source string) (*RateChange, error) {
	if !rate.IsPositive() {
		metrics.ExchangeRateUpdates.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: exchange rate must be positive", models.ErrValidation)
	}
	if updatedBy == "" {
		updatedBy = defaultUpdatedBy
	}
	if source == "" {
		source = defaultSource
	}

	lockCtx, cancel := context.WithTimeout(ctx, u.opts.LockTimeout)
	defer cancel()
	if err := u.rateMu.Acquire(lockCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		metrics.ExchangeRateUpdates.WithLabelValues("busy").Inc()
		u.log.Warn().Dur("waited", u.opts.LockTimeout).Msg("Exchange rate update already in progress")
		return nil, ErrUpdateInProgress
	}
	defer u.rateMu.Release(1)

	oldRate, err := u.store.CurrentExchangeRate(ctx)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to read current exchange rate: %w", err)
	}

	change := &RateChange{
		OldRate:   oldRate,
		NewRate:   rate,
		UpdatedAt: u.now(),
		UpdatedBy: updatedBy,
		Source:    source,
	}
	event := models.ExchangeRateChanged{
		OldRate:   change.OldRate,
		NewRate:   change.NewRate,
		Timestamp: change.UpdatedAt,
		UpdatedBy: change.UpdatedBy,
		Source:    change.Source,
	}
	if err := u.bus.Publish(ctx, event); err != nil {
		metrics.ExchangeRateUpdates.WithLabelValues("failed").Inc()
		return nil, err
	}

	u.cache.SetExchangeRate(ctx, rate, u.opts.CacheExpiration)
	metrics.ExchangeRateUpdates.WithLabelValues("applied").Inc()
	u.log.Info().
		Str("old_rate", oldRate.String()).
		Str("new_rate", rate.String()).
		Str("updated_by", updatedBy).
		Str("source", source).
		Msg("Exchange rate updated")
	return change, nil
}

// CurrentExchangeRate returns the latest rate, from cache when possible
func (u *Updater) CurrentExchangeRate(ctx context.Context) (decimal.Decimal, error) {
	if rate, ok := u.cache.GetExchangeRate(ctx); ok {
		return rate, nil
	}
	rate, err := u.store.CurrentExchangeRate(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	u.cache.SetExchangeRate(ctx, rate, u.opts.CacheExpiration)
	return rate, nil
}
