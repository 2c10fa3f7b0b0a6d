package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chihkang/PortfolioManager/internal/metrics"
	"github.com/chihkang/PortfolioManager/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const exchangeRateKey = "exchange_rate:USD-TWD"

func portfolioKey(id primitive.ObjectID) string {
	return fmt.Sprintf("portfolio:%s:values", id.Hex())
}

// Cache failures never reach the caller: reads degrade to a miss and writes
// are logged and dropped.

// GetPortfolio returns the cached valuation of a portfolio
func (c *Client) GetPortfolio(ctx context.Context, id primitive.ObjectID) (*models.Portfolio, bool) {
	data, err := c.rdb.Get(ctx, portfolioKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return nil, false
	}
	if err != nil {
		metrics.CacheRequests.WithLabelValues("error").Inc()
		c.log.Warn().Err(err).Str("portfolio_id", id.Hex()).Msg("Cache read failed, treating as miss")
		return nil, false
	}

	var p models.Portfolio
	if err := json.Unmarshal(data, &p); err != nil {
		metrics.CacheRequests.WithLabelValues("error").Inc()
		c.log.Warn().Err(err).Str("portfolio_id", id.Hex()).Msg("Cached portfolio is unreadable, treating as miss")
		return nil, false
	}
	metrics.CacheRequests.WithLabelValues("hit").Inc()
	return &p, true
}

// SetPortfolio caches a portfolio valuation for ttl
func (c *Client) SetPortfolio(ctx context.Context, p *models.Portfolio, ttl time.Duration) {
	data, err := json.Marshal(p)
	if err != nil {
		c.log.Warn().Err(err).Str("portfolio_id", p.ID.Hex()).Msg("Failed to marshal portfolio for cache")
		return
	}
	if err := c.rdb.Set(ctx, portfolioKey(p.ID), data, ttl).Err(); err != nil {
		metrics.CacheRequests.WithLabelValues("error").Inc()
		c.log.Warn().Err(err).Str("portfolio_id", p.ID.Hex()).Msg("Cache write failed")
	}
}

// InvalidatePortfolio removes a cached valuation
func (c *Client) InvalidatePortfolio(ctx context.Context, id primitive.ObjectID) {
	if err := c.rdb.Del(ctx, portfolioKey(id)).Err(); err != nil {
		metrics.CacheRequests.WithLabelValues("error").Inc()
		c.log.Warn().Err(err).Str("portfolio_id", id.Hex()).Msg("Cache invalidation failed")
		return
	}
	c.log.Debug().Str("portfolio_id", id.Hex()).Msg("Cache invalidated")
}

// GetExchangeRate returns the cached current USD-TWD rate
func (c *Client) GetExchangeRate(ctx context.Context) (decimal.Decimal, bool) {
	s, err := c.rdb.Get(ctx, exchangeRateKey).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("Exchange rate cache read failed")
		return decimal.Zero, false
	}
	rate, err := decimal.NewFromString(s)
	if err != nil {
		c.log.Warn().Err(err).Str("value", s).Msg("Cached exchange rate is unreadable")
		return decimal.Zero, false
	}
	return rate, true
}

// SetExchangeRate caches the current USD-TWD rate for ttl
func (c *Client) SetExchangeRate(ctx context.Context, rate decimal.Decimal, ttl time.Duration) {
	if err := c.rdb.Set(ctx, exchangeRateKey, rate.String(), ttl).Err(); err != nil {
		c.log.Warn().Err(err).Msg("Exchange rate cache write failed")
	}
}
