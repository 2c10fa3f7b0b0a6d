package portfolio

import (
	"context"
	"fmt"

	"github.com/chihkang/PortfolioManager/internal/models"
	"github.com/chihkang/PortfolioManager/internal/valuation"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GetPortfolioWithCurrentValues returns the persisted valuation through the cache
func (u *Updater) GetPortfolioWithCurrentValues(ctx context.Context, id primitive.ObjectID) (*models.Portfolio, error) {
	if p, ok := u.cache.GetPortfolio(ctx, id); ok {
		return p, nil
	}

	p, err := u.store.GetPortfolio(ctx, id)
	if err != nil {
		return nil, err
	}
	u.cache.SetPortfolio(ctx, p, u.opts.CacheExpiration)
	return p, nil
}

// Metrics revalues a portfolio at current prices with its own FX snapshot,
// without persisting anything.
func (u *Updater) Metrics(ctx context.Context, id primitive.ObjectID) (*models.PortfolioMetrics, error) {
	p, err := u.store.GetPortfolio(ctx, id)
	if err != nil {
		return nil, err
	}

	stocks, err := u.store.FindStocksByIDs(ctx, p.StockIDs())
	if err != nil {
		return nil, fmt.Errorf("failed to load stocks: %w", err)
	}
	prices := make(map[primitive.ObjectID]decimal.Decimal, len(stocks))
	currencies := make(map[primitive.ObjectID]string, len(stocks))
	names := make(map[primitive.ObjectID]string, len(stocks))
	for _, s := range stocks {
		prices[s.ID] = s.Price
		currencies[s.ID] = s.Currency
		names[s.ID] = s.Name
	}

	res, err := valuation.ComputeValuation(p.Holdings, prices, currencies, p.Rate())
	if err != nil {
		return nil, err
	}
	u.warnIncomplete(p.ID, res)

	details := make([]models.HoldingDetail, len(res.Holdings))
	for i, h := range res.Holdings {
		details[i] = models.HoldingDetail{
			StockID:           h.StockID,
			Name:              names[h.StockID],
			Quantity:          h.Quantity,
			Currency:          h.Currency,
			OriginalPrice:     h.OriginalPrice,
			ConvertedPrice:    h.ConvertedPrice,
			Value:             h.Value,
			PercentageOfTotal: h.Percentage,
		}
	}

	return &models.PortfolioMetrics{
		PortfolioID:          p.ID,
		TotalValue:           res.TotalValue,
		ExchangeRate:         p.Rate(),
		Holdings:             details,
		CurrencyDistribution: res.CurrencyDistribution(),
		MissingStockIDs:      append(res.MissingStockIDs, res.UnconvertedStockIDs...),
		LastUpdated:          p.LastUpdated,
	}, nil
}
