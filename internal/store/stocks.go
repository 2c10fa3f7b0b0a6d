package store

import (
	"context"
	"fmt"
	"time"

	"github.com/chihkang/PortfolioManager/internal/models"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CreateStock inserts a new stock
func (s *Store) CreateStock(ctx context.Context, stock *models.Stock) error {
	if stock.ID.IsZero() {
		stock.ID = primitive.NewObjectID()
	}
	if stock.LastUpdated.IsZero() {
		stock.LastUpdated = time.Now().UTC()
	}
	if _, err := s.stocks.InsertOne(ctx, stock); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("stock %s: %w", stock.Name, models.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create stock %s: %w", stock.Name, err)
	}
	return nil
}

// GetStock returns a stock by id
func (s *Store) GetStock(ctx context.Context, id primitive.ObjectID) (*models.Stock, error) {
	var stock models.Stock
	if err := s.stocks.FindOne(ctx, bson.M{"_id": id}).Decode(&stock); err != nil {
		return nil, notFound(err, "stock "+id.Hex())
	}
	return &stock, nil
}

// GetStockByName returns a stock by its unique name
func (s *Store) GetStockByName(ctx context.Context, name string) (*models.Stock, error) {
	var stock models.Stock
	if err := s.stocks.FindOne(ctx, bson.M{"name": name}).Decode(&stock); err != nil {
		return nil, notFound(err, "stock "+name)
	}
	return &stock, nil
}

// ListStocks returns id, name and alias of every stock ordered by name
func (s *Store) ListStocks(ctx context.Context) ([]models.StockSummary, error) {
	opts := options.Find().
		SetProjection(bson.M{"name": 1, "alias": 1}).
		SetSort(bson.D{{Key: "name", Value: 1}})

	cursor, err := s.stocks.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list stocks: %w", err)
	}
	stocks := []models.StockSummary{}
	if err := cursor.All(ctx, &stocks); err != nil {
		return nil, fmt.Errorf("failed to decode stocks: %w", err)
	}
	return stocks, nil
}

// FindStocksByIDs returns the stocks with the given ids in one query
func (s *Store) FindStocksByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Stock, error) {
	if len(ids) == 0 {
		return []models.Stock{}, nil
	}
	return s.findStocks(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

// FindStocksByCurrency returns every stock priced in currency
func (s *Store) FindStocksByCurrency(ctx context.Context, currency string) ([]models.Stock, error) {
	return s.findStocks(ctx, bson.M{"currency": currency})
}

// FindAllStocks returns every stock
func (s *Store) FindAllStocks(ctx context.Context) ([]models.Stock, error) {
	return s.findStocks(ctx, bson.M{})
}

func (s *Store) findStocks(ctx context.Context, filter bson.M) ([]models.Stock, error) {
	cursor, err := s.stocks.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find stocks: %w", err)
	}
	stocks := []models.Stock{}
	if err := cursor.All(ctx, &stocks); err != nil {
		return nil, fmt.Errorf("failed to decode stocks: %w", err)
	}
	return stocks, nil
}

// UpdateStockPriceByName sets a stock's price and returns the stock as it was before
func (s *Store) UpdateStockPriceByName(ctx context.Context, name string, price decimal.Decimal, at time.Time) (*models.Stock, error) {
	update := bson.M{"$set": bson.M{"price": price, "lastUpdated": at}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)

	var before models.Stock
	if err := s.stocks.FindOneAndUpdate(ctx, bson.M{"name": name}, update, opts).Decode(&before); err != nil {
		return nil, notFound(err, "stock "+name)
	}
	return &before, nil
}
