// Package exchangerate fetches the current USD-TWD rate from a quote page.
package exchangerate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/chihkang/PortfolioManager/internal/config"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrRateUnavailable is returned when the upstream page holds no parseable rate
var ErrRateUnavailable = errors.New("exchange rate unavailable")

// RatePlaces is the precision of fetched rates
const RatePlaces int32 = 4

// maxPageBytes caps how much of the quote page is read
const maxPageBytes int64 = 4 << 20

var lastPricePattern = regexp.MustCompile(`data-last-price="([^"]+)"`)

// Client scrapes the last traded price off a Google Finance quote page
type Client struct {
	url      string
	client   *http.Client
	maxBytes int64
	log      zerolog.Logger
}

// NewClient creates a new exchange rate client
func NewClient(cfg config.ExchangeRateConfig, log zerolog.Logger) *Client {
	return &Client{
		url:      cfg.SourceURL,
		client:   &http.Client{Timeout: cfg.Timeout},
		maxBytes: maxPageBytes,
		log:      log.With().Str("client", "exchange_rate").Logger(),
	}
}

// FetchCurrentRate returns the current rate rounded to RatePlaces
func (c *Client) FetchCurrentRate(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	c.log.Debug().Str("url", c.url).Msg("Fetching exchange rate")
	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("exchange rate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn().Int("status", resp.StatusCode).Msg("Exchange rate source returned non-200")
		return decimal.Zero, fmt.Errorf("%w: status %d", ErrRateUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read exchange rate page: %w", err)
	}

	m := lastPricePattern.FindSubmatch(body)
	if m == nil {
		return decimal.Zero, fmt.Errorf("%w: no price on page", ErrRateUnavailable)
	}
	rate, err := decimal.NewFromString(string(m[1]))
	if err != nil || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: unparseable price %q", ErrRateUnavailable, m[1])
	}

	rate = rate.Round(RatePlaces)
	c.log.Info().Str("rate", rate.String()).Msg("Fetched exchange rate")
	return rate, nil
}
