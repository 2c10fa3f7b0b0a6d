package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// StockUpdaterJob asks the external price updater to refresh each stock type
type StockUpdaterJob struct {
	baseURL    string
	stockTypes []string
	client     *http.Client
	log        zerolog.Logger
}

// NewStockUpdaterJob creates a stock updater trigger job
func NewStockUpdaterJob(baseURL string, stockTypes []string, log zerolog.Logger) *StockUpdaterJob {
	return &StockUpdaterJob{
		baseURL:    baseURL,
		stockTypes: stockTypes,
		client:     &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("job", "stock_updater").Logger(),
	}
}

// Name returns the job name
func (j *StockUpdaterJob) Name() string {
	return "stock_updater"
}

// Run triggers every stock type once. Failures are logged, never retried.
func (j *StockUpdaterJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, stockType := range j.stockTypes {
		if err := j.trigger(ctx, stockType); err != nil {
			j.log.Error().Err(err).Str("stock_type", stockType).Msg("Failed to trigger stock updater")
		}
	}
	return nil
}

func (j *StockUpdaterJob) trigger(ctx context.Context, stockType string) error {
	endpoint := fmt.Sprintf("%s/run?stockType=%s", j.baseURL, url.QueryEscape(stockType))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := j.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		j.log.Warn().Int("status", resp.StatusCode).Str("stock_type", stockType).Msg("Stock updater returned non-2xx")
		return nil
	}
	j.log.Info().Str("stock_type", stockType).Msg("Stock updater triggered")
	return nil
}
