package portfolio

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/chihkang/PortfolioManager/internal/metrics"
	"github.com/chihkang/PortfolioManager/internal/models"
	"github.com/chihkang/PortfolioManager/internal/valuation"
)

// isPermanent reports errors that a retry cannot fix
func isPermanent(err error) bool {
	return errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrValidation) ||
		errors.Is(err, valuation.ErrNegativeQuantity)
}

// retryPolicy waits RetryBaseDelay * 2^n before retry n and allows
// MaxRetryAttempts attempts in total.
func (u *Updater) retryPolicy(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = u.opts.RetryBaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = u.opts.RetryBaseDelay << uint(u.opts.MaxRetryAttempts)
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(u.opts.MaxRetryAttempts-1)), ctx)
}

// withRetry runs op until it succeeds, fails permanently, or attempts run out.
// The error of the last attempt is returned unchanged.
func (u *Updater) withRetry(ctx context.Context, event string, op func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		switch {
		case err == nil:
			metrics.HandlerAttempts.WithLabelValues(event, "success").Inc()
			return nil
		case isPermanent(err):
			metrics.HandlerAttempts.WithLabelValues(event, "permanent").Inc()
			return backoff.Permanent(err)
		default:
			metrics.HandlerAttempts.WithLabelValues(event, "error").Inc()
			return err
		}
	}
	notify := func(err error, wait time.Duration) {
		u.log.Warn().
			Err(err).
			Str("event", event).
			Int("attempt", attempt).
			Int("max_attempts", u.opts.MaxRetryAttempts).
			Dur("retry_in", wait).
			Msg("Attempt failed, retrying")
	}

	return backoff.RetryNotify(operation, u.retryPolicy(ctx), notify)
}
