package store

import (
	"context"
	"fmt"
	"time"

	"github.com/chihkang/PortfolioManager/internal/models"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GetPortfolio returns a portfolio by id
func (s *Store) GetPortfolio(ctx context.Context, id primitive.ObjectID) (*models.Portfolio, error) {
	var p models.Portfolio
	if err := s.portfolios.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		return nil, notFound(err, "portfolio "+id.Hex())
	}
	return &p, nil
}

// FindAllPortfolios returns every portfolio
func (s *Store) FindAllPortfolios(ctx context.Context) ([]models.Portfolio, error) {
	return s.findPortfolios(ctx, bson.M{})
}

// FindPortfoliosContainingStock returns portfolios with a holding of stockID
func (s *Store) FindPortfoliosContainingStock(ctx context.Context, stockID primitive.ObjectID) ([]models.Portfolio, error) {
	return s.findPortfolios(ctx, bson.M{"stocks.stockId": stockID})
}

// FindPortfoliosWithRateHoldingAny returns portfolios that carry an FX rate
// and hold at least one of stockIDs
func (s *Store) FindPortfoliosWithRateHoldingAny(ctx context.Context, stockIDs []primitive.ObjectID) ([]models.Portfolio, error) {
	if len(stockIDs) == 0 {
		return []models.Portfolio{}, nil
	}
	return s.findPortfolios(ctx, bson.M{
		"exchange_rate":  bson.M{"$ne": nil},
		"stocks.stockId": bson.M{"$in": stockIDs},
	})
}

func (s *Store) findPortfolios(ctx context.Context, filter bson.M) ([]models.Portfolio, error) {
	cursor, err := s.portfolios.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find portfolios: %w", err)
	}
	portfolios := []models.Portfolio{}
	if err := cursor.All(ctx, &portfolios); err != nil {
		return nil, fmt.Errorf("failed to decode portfolios: %w", err)
	}
	return portfolios, nil
}

// UpdatePortfolio writes a recomputed valuation in a single document update
func (s *Store) UpdatePortfolio(ctx context.Context, id primitive.ObjectID, totalValue decimal.Decimal, holdings []models.Holding, at time.Time) error {
	update := bson.M{"$set": bson.M{
		"totalValue":  totalValue,
		"stocks":      holdings,
		"lastUpdated": at,
	}}
	res, err := s.portfolios.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to update portfolio %s: %w", id.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("portfolio %s: %w", id.Hex(), models.ErrNotFound)
	}
	return nil
}

// BulkSetExchangeRate writes rate onto every portfolio that already has a rate
// and returns how many documents changed.
func (s *Store) BulkSetExchangeRate(ctx context.Context, rate decimal.Decimal, at time.Time) (int64, error) {
	update := bson.M{"$set": bson.M{
		"exchange_rate":         rate,
		"exchange_rate_updated": at,
		"lastUpdated":           at,
	}}
	res, err := s.portfolios.UpdateMany(ctx, bson.M{"exchange_rate": bson.M{"$ne": nil}}, update)
	if err != nil {
		return 0, fmt.Errorf("failed to set exchange rate: %w", err)
	}
	return res.ModifiedCount, nil
}

// CurrentExchangeRate returns the most recently written portfolio FX rate
func (s *Store) CurrentExchangeRate(ctx context.Context) (decimal.Decimal, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "exchange_rate_updated", Value: -1}}).
		SetProjection(bson.M{"exchange_rate": 1, "exchange_rate_updated": 1})

	var p models.Portfolio
	if err := s.portfolios.FindOne(ctx, bson.M{"exchange_rate": bson.M{"$ne": nil}}, opts).Decode(&p); err != nil {
		return decimal.Zero, notFound(err, "exchange rate")
	}
	return p.Rate(), nil
}

// SetHoldingQuantity sets the quantity of stockID, adding the holding if absent
func (s *Store) SetHoldingQuantity(ctx context.Context, portfolioID, stockID primitive.ObjectID, quantity decimal.Decimal) error {
	now := time.Now().UTC()
	res, err := s.portfolios.UpdateOne(ctx,
		bson.M{"_id": portfolioID, "stocks.stockId": stockID},
		bson.M{"$set": bson.M{"stocks.$.quantity": quantity, "lastUpdated": now}})
	if err != nil {
		return fmt.Errorf("failed to update holding: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	holding := models.Holding{StockID: stockID, Quantity: quantity, PercentageOfTotal: decimal.Zero}
	res, err = s.portfolios.UpdateOne(ctx,
		bson.M{"_id": portfolioID},
		bson.M{"$push": bson.M{"stocks": holding}, "$set": bson.M{"lastUpdated": now}})
	if err != nil {
		return fmt.Errorf("failed to add holding: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("portfolio %s: %w", portfolioID.Hex(), models.ErrNotFound)
	}
	return nil
}

// RemoveHolding deletes the holding of stockID from a portfolio
func (s *Store) RemoveHolding(ctx context.Context, portfolioID, stockID primitive.ObjectID) error {
	res, err := s.portfolios.UpdateOne(ctx,
		bson.M{"_id": portfolioID},
		bson.M{
			"$pull": bson.M{"stocks": bson.M{"stockId": stockID}},
			"$set":  bson.M{"lastUpdated": time.Now().UTC()},
		})
	if err != nil {
		return fmt.Errorf("failed to remove holding: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("portfolio %s: %w", portfolioID.Hex(), models.ErrNotFound)
	}
	return nil
}
