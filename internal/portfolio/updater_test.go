package portfolio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chihkang/PortfolioManager/internal/events"
	"github.com/chihkang/PortfolioManager/internal/models"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var errTransient = errors.New("store timeout")

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func holding(id primitive.ObjectID, qty string) models.Holding {
	return models.Holding{StockID: id, Quantity: d(qty)}
}

type harness struct {
	log     *opLog
	store   *fakeStore
	cache   *fakeCache
	bus     *events.Bus
	updater *Updater

	mu       sync.Mutex
	revalued []models.PortfolioRevalued
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	if opts.RetryBaseDelay == 0 {
		opts.RetryBaseDelay = time.Millisecond
	}
	h := &harness{log: &opLog{}}
	h.store = newFakeStore(h.log)
	h.cache = newFakeCache(h.log)
	h.bus = events.NewBus(zerolog.Nop())
	h.updater = NewUpdater(h.store, h.cache, h.bus, opts, zerolog.Nop())
	h.updater.Register(h.bus)
	h.bus.Subscribe(models.EventPortfolioRevalued, "test-recorder", func(ctx context.Context, e events.Event) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.revalued = append(h.revalued, e.(models.PortfolioRevalued))
		return nil
	})
	return h
}

func (h *harness) revaluations() []models.PortfolioRevalued {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.PortfolioRevalued(nil), h.revalued...)
}

// scenario: A = 10 x 100 TWD, B = 5 x 20 USD, rate 31.5
func (h *harness) seedScenario() (stockA, stockB, pid primitive.ObjectID) {
	stockA = h.store.addStock("2330:TPE", "100", "TWD")
	stockB = h.store.addStock("VOO", "20", "USD")
	pid = h.store.addPortfolio("31.5", holding(stockA, "10"), holding(stockB, "5"))
	return
}

// ---------------------------------------------------------------------------
// HandleStockPriceUpdated
// ---------------------------------------------------------------------------

func TestHandleStockPriceUpdated_RecomputesAndInvalidates(t *testing.T) {
	h := newHarness(t, Options{})
	stockA, _, pid := h.seedScenario()
	ctx := context.Background()

	// warm the cache with the pre-change valuation
	p, err := h.updater.GetPortfolioWithCurrentValues(ctx, pid)
	require.NoError(t, err)
	_, cached := h.cache.GetPortfolio(ctx, pid)
	require.True(t, cached)

	_, err = h.store.UpdateStockPriceByName(ctx, "2330:TPE", d("150"), time.Now())
	require.NoError(t, err)

	err = h.updater.HandleStockPriceUpdated(ctx, models.StockPriceChanged{StockID: stockA, OldPrice: d("100"), NewPrice: d("150")})
	require.NoError(t, err)

	persisted := h.store.portfolio(pid)
	assert.Equal(t, "4650.00", persisted.TotalValue.StringFixed(2))
	sum := persisted.Holdings[0].PercentageOfTotal.Add(persisted.Holdings[1].PercentageOfTotal)
	assert.True(t, sum.Equal(d("100")))
	assert.False(t, persisted.LastUpdated.IsZero())
	assert.NotEqual(t, p.LastUpdated, persisted.LastUpdated)

	_, cached = h.cache.GetPortfolio(ctx, pid)
	assert.False(t, cached)

	revalued := h.revaluations()
	require.Len(t, revalued, 1)
	assert.Equal(t, pid, revalued[0].PortfolioID)
	assert.Equal(t, "price_change", revalued[0].Reason)
}

func TestHandleStockPriceUpdated_PersistsBeforeInvalidating(t *testing.T) {
	h := newHarness(t, Options{})
	stockA, _, pid := h.seedScenario()

	err := h.updater.HandleStockPriceUpdated(context.Background(), models.StockPriceChanged{StockID: stockA})
	require.NoError(t, err)

	assert.Equal(t, []string{"persist:" + pid.Hex(), "invalidate:" + pid.Hex()}, h.log.list())
}

func TestHandleStockPriceUpdated_UsesEveryHoldingPrice(t *testing.T) {
	h := newHarness(t, Options{})
	stockA, _, pid := h.seedScenario()

	err := h.updater.HandleStockPriceUpdated(context.Background(), models.StockPriceChanged{StockID: stockA})
	require.NoError(t, err)

	persisted := h.store.portfolio(pid)
	assert.Equal(t, "4150.00", persisted.TotalValue.StringFixed(2))
	assert.Equal(t, "24.10", persisted.Holdings[0].PercentageOfTotal.StringFixed(2))
	assert.Equal(t, "75.90", persisted.Holdings[1].PercentageOfTotal.StringFixed(2))
}

func TestHandleStockPriceUpdated_NoAffectedPortfolios(t *testing.T) {
	h := newHarness(t, Options{})
	h.seedScenario()
	lonely := h.store.addStock("LONELY", "10", "TWD")

	err := h.updater.HandleStockPriceUpdated(context.Background(), models.StockPriceChanged{StockID: lonely})
	require.NoError(t, err)
	assert.Empty(t, h.log.list())
	assert.Empty(t, h.revaluations())
}

func TestHandleStockPriceUpdated_OnlyAffectedPortfolios(t *testing.T) {
	h := newHarness(t, Options{})
	stockA, stockB, pid := h.seedScenario()
	other := h.store.addPortfolio("31.5", holding(stockB, "1"))

	err := h.updater.HandleStockPriceUpdated(context.Background(), models.StockPriceChanged{StockID: stockA})
	require.NoError(t, err)

	assert.Contains(t, h.log.list(), "persist:"+pid.Hex())
	assert.NotContains(t, h.log.list(), "persist:"+other.Hex())
}

// ---------------------------------------------------------------------------
// Retry policy
// ---------------------------------------------------------------------------

func TestHandleStockPriceUpdated_RetriesThenSurfacesOriginalError(t *testing.T) {
	h := newHarness(t, Options{MaxRetryAttempts: 3})
	stockA, _, _ := h.seedScenario()
	h.store.findErrs = []error{errTransient, errTransient, errTransient, errTransient}

	err := h.updater.HandleStockPriceUpdated(context.Background(), models.StockPriceChanged{StockID: stockA})
	require.Error(t, err)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, h.store.findCalls)
	assert.Empty(t, h.revaluations())
}

func TestHandleStockPriceUpdated_RecoversWithinRetryBudget(t *testing.T) {
	h := newHarness(t, Options{MaxRetryAttempts: 3})
	stockA, _, pid := h.seedScenario()
	h.store.findErrs = []error{errTransient, errTransient}

	err := h.updater.HandleStockPriceUpdated(context.Background(), models.StockPriceChanged{StockID: stockA})
	require.NoError(t, err)
	assert.Equal(t, 3, h.store.findCalls)
	assert.Equal(t, "4150.00", h.store.portfolio(pid).TotalValue.StringFixed(2))
}

func TestHandleStockPriceUpdated_BackoffDoubles(t *testing.T) {
	h := newHarness(t, Options{MaxRetryAttempts: 3, RetryBaseDelay: 20 * time.Millisecond})
	stockA, _, _ := h.seedScenario()
	h.store.findErrs = []error{errTransient, errTransient, errTransient}

	start := time.Now()
	err := h.updater.HandleStockPriceUpdated(context.Background(), models.StockPriceChanged{StockID: stockA})
	require.Error(t, err)
	// 20ms + 40ms of waiting between the three attempts
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestHandleStockPriceUpdated_PersistFailureRetriesWholePipeline(t *testing.T) {
	h := newHarness(t, Options{MaxRetryAttempts: 2})
	stockA, _, pid := h.seedScenario()
	h.store.updateErrs[pid] = errTransient

	err := h.updater.HandleStockPriceUpdated(context.Background(), models.StockPriceChanged{StockID: stockA})
	require.Error(t, err)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 2, h.store.findCalls)
	assert.NotContains(t, h.log.list(), "invalidate:"+pid.Hex())
}

func TestHandleStockPriceUpdated_NegativeQuantityIsNotRetried(t *testing.T) {
	h := newHarness(t, Options{MaxRetryAttempts: 3})
	stock := h.store.addStock("BAD", "10", "TWD")
	pid := h.store.addPortfolio("", holding(stock, "-1"))

	err := h.updater.HandleStockPriceUpdated(context.Background(), models.StockPriceChanged{StockID: stock})
	require.NoError(t, err)
	assert.Equal(t, 1, h.store.findCalls)
	assert.NotContains(t, h.log.list(), "persist:"+pid.Hex())
	assert.Empty(t, h.revaluations())
}

func TestHandleStockPriceUpdated_BrokenPortfolioDoesNotBlockOthers(t *testing.T) {
	h := newHarness(t, Options{MaxRetryAttempts: 3})
	stock := h.store.addStock("2330:TPE", "100", "TWD")
	first := h.store.addPortfolio("", holding(stock, "1"))
	broken := h.store.addPortfolio("", holding(stock, "-1"))
	last := h.store.addPortfolio("", holding(stock, "2"))

	err := h.updater.HandleStockPriceUpdated(context.Background(), models.StockPriceChanged{StockID: stock})
	require.NoError(t, err)
	assert.Equal(t, 1, h.store.findCalls)

	assert.Equal(t, "100.00", h.store.portfolio(first).TotalValue.StringFixed(2))
	assert.Equal(t, "200.00", h.store.portfolio(last).TotalValue.StringFixed(2))
	assert.NotContains(t, h.log.list(), "persist:"+broken.Hex())

	var ids []primitive.ObjectID
	for _, ev := range h.revaluations() {
		ids = append(ids, ev.PortfolioID)
	}
	assert.ElementsMatch(t, []primitive.ObjectID{first, last}, ids)
}

func TestHandleStockPriceUpdated_CancelledContextStopsRetrying(t *testing.T) {
	h := newHarness(t, Options{MaxRetryAttempts: 5, RetryBaseDelay: time.Hour})
	stockA, _, _ := h.seedScenario()
	h.store.findErrs = []error{errTransient, errTransient, errTransient, errTransient, errTransient}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		done <- h.updater.HandleStockPriceUpdated(ctx, models.StockPriceChanged{StockID: stockA})
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, 1, h.store.findCalls)
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not stop after cancellation")
	}
}

// ---------------------------------------------------------------------------
// HandleExchangeRateUpdated
// ---------------------------------------------------------------------------

func TestHandleExchangeRateUpdated_BulkWriteThenRecomputeUSDPortfolios(t *testing.T) {
	h := newHarness(t, Options{})
	stockA, stockB, withUSD := h.seedScenario()
	twdOnly := h.store.addPortfolio("31.5", holding(stockA, "1"))
	noRate := h.store.addPortfolio("", holding(stockB, "1"))

	err := h.updater.HandleExchangeRateUpdated(context.Background(), models.ExchangeRateChanged{OldRate: d("31.5"), NewRate: d("32")})
	require.NoError(t, err)

	ops := h.log.list()
	require.NotEmpty(t, ops)
	assert.Equal(t, "bulk_rate", ops[0])
	assert.Contains(t, ops, "persist:"+withUSD.Hex())
	assert.NotContains(t, ops, "persist:"+twdOnly.Hex())
	assert.NotContains(t, ops, "persist:"+noRate.Hex())

	// 10*100 + 5*(20*32) = 4200
	assert.Equal(t, "4200.00", h.store.portfolio(withUSD).TotalValue.StringFixed(2))
	assert.True(t, h.store.portfolio(twdOnly).Rate().Equal(d("32")))
	assert.Nil(t, h.store.portfolio(noRate).ExchangeRate)

	revalued := h.revaluations()
	require.Len(t, revalued, 1)
	assert.Equal(t, "exchange_rate_change", revalued[0].Reason)
	assert.True(t, revalued[0].ExchangeRate.Equal(d("32")))
}

func TestHandleExchangeRateUpdated_OneBadPortfolioDoesNotBlockOthers(t *testing.T) {
	h := newHarness(t, Options{})
	usd := h.store.addStock("VOO", "20", "USD")
	bad := h.store.addPortfolio("31", holding(usd, "1"))
	good := h.store.addPortfolio("31", holding(usd, "2"))
	h.store.updateErrs[bad] = errTransient

	err := h.updater.HandleExchangeRateUpdated(context.Background(), models.ExchangeRateChanged{NewRate: d("30")})
	require.NoError(t, err)

	assert.Equal(t, "1200.00", h.store.portfolio(good).TotalValue.StringFixed(2))
	require.Len(t, h.revaluations(), 1)
	assert.Equal(t, good, h.revaluations()[0].PortfolioID)
}

func TestHandleExchangeRateUpdated_RateKeptWhenRecomputeFails(t *testing.T) {
	h := newHarness(t, Options{})
	usd := h.store.addStock("VOO", "20", "USD")
	pid := h.store.addPortfolio("31", holding(usd, "1"))
	h.store.updateErrs[pid] = errTransient

	err := h.updater.HandleExchangeRateUpdated(context.Background(), models.ExchangeRateChanged{NewRate: d("30")})
	require.NoError(t, err)
	assert.True(t, h.store.portfolio(pid).Rate().Equal(d("30")))
}

func TestHandleExchangeRateUpdated_NoPortfolioWithRate(t *testing.T) {
	h := newHarness(t, Options{})
	usd := h.store.addStock("VOO", "20", "USD")
	h.store.addPortfolio("", holding(usd, "1"))

	err := h.updater.HandleExchangeRateUpdated(context.Background(), models.ExchangeRateChanged{NewRate: d("30")})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestHandleExchangeRateUpdated_BulkFailureRetried(t *testing.T) {
	h := newHarness(t, Options{MaxRetryAttempts: 3})
	h.seedScenario()
	h.store.bulkErr = errTransient

	err := h.updater.HandleExchangeRateUpdated(context.Background(), models.ExchangeRateChanged{NewRate: d("30")})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, h.store.bulkCalls)
}

func TestHandleExchangeRateUpdated_LookupFailureRetried(t *testing.T) {
	h := newHarness(t, Options{MaxRetryAttempts: 3})
	_, _, pid := h.seedScenario()
	h.store.currencyErrs = []error{errTransient, errTransient}

	err := h.updater.HandleExchangeRateUpdated(context.Background(), models.ExchangeRateChanged{NewRate: d("32")})
	require.NoError(t, err)
	assert.Equal(t, 3, h.store.currencyCalls)
	assert.Equal(t, 1, h.store.bulkCalls)
	assert.Equal(t, "4200.00", h.store.portfolio(pid).TotalValue.StringFixed(2))
	assert.Len(t, h.revaluations(), 1)
}

func TestHandleExchangeRateUpdated_LookupFailureExhausted(t *testing.T) {
	h := newHarness(t, Options{MaxRetryAttempts: 2})
	_, _, pid := h.seedScenario()
	h.store.currencyErrs = []error{errTransient, errTransient}

	err := h.updater.HandleExchangeRateUpdated(context.Background(), models.ExchangeRateChanged{NewRate: d("32")})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 2, h.store.currencyCalls)
	// the rate write stands even though nothing was recomputed
	assert.True(t, h.store.portfolio(pid).Rate().Equal(d("32")))
	assert.Empty(t, h.revaluations())
}

func TestHandleExchangeRateUpdated_PublishesInBoundedChunks(t *testing.T) {
	h := newHarness(t, Options{BatchSize: 2})
	usd := h.store.addStock("VOO", "20", "USD")
	for i := 0; i < 5; i++ {
		h.store.addPortfolio("31", holding(usd, "1"))
	}

	var inFlight, maxInFlight int32
	h.bus.Subscribe(models.EventPortfolioRevalued, "slow-sink", func(ctx context.Context, e events.Event) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	})

	err := h.updater.HandleExchangeRateUpdated(context.Background(), models.ExchangeRateChanged{NewRate: d("30")})
	require.NoError(t, err)

	assert.Len(t, h.revaluations(), 5)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2))
}

// ---------------------------------------------------------------------------
// GetAffectedPortfolios / RecomputePortfolio
// ---------------------------------------------------------------------------

func TestGetAffectedPortfolios(t *testing.T) {
	h := newHarness(t, Options{})
	stockA, stockB, pid := h.seedScenario()
	other := h.store.addPortfolio("", holding(stockB, "3"))

	ids, err := h.updater.GetAffectedPortfolios(context.Background(), stockA)
	require.NoError(t, err)
	assert.Equal(t, []primitive.ObjectID{pid}, ids)

	ids, err = h.updater.GetAffectedPortfolios(context.Background(), stockB)
	require.NoError(t, err)
	assert.ElementsMatch(t, []primitive.ObjectID{pid, other}, ids)
	assert.Empty(t, h.log.list())
}

func TestRecomputePortfolio(t *testing.T) {
	h := newHarness(t, Options{})
	_, _, pid := h.seedScenario()

	p, err := h.updater.RecomputePortfolio(context.Background(), pid)
	require.NoError(t, err)
	assert.Equal(t, "4150.00", p.TotalValue.StringFixed(2))
	assert.Equal(t, "holdings_change", h.revaluations()[0].Reason)
}

func TestRecomputePortfolio_NotFound(t *testing.T) {
	h := newHarness(t, Options{})

	_, err := h.updater.RecomputePortfolio(context.Background(), primitive.NewObjectID())
	assert.ErrorIs(t, err, models.ErrNotFound)
}
