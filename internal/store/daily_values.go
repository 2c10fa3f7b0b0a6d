package store

import (
	"context"
	"fmt"
	"time"

	"github.com/chihkang/PortfolioManager/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// InsertDailyValue records one snapshot per portfolio and date. An existing
// row for the same day is left untouched and inserted is false.
func (s *Store) InsertDailyValue(ctx context.Context, v models.PortfolioDailyValue) (bool, error) {
	filter := bson.M{"portfolioId": v.PortfolioID, "date": v.Date}
	update := bson.M{"$setOnInsert": bson.M{
		"portfolioId": v.PortfolioID,
		"date":        v.Date,
		"totalValue":  v.TotalValue,
	}}

	res, err := s.dailyValues.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return false, fmt.Errorf("failed to insert daily value for %s: %w", v.PortfolioID.Hex(), err)
	}
	return res.UpsertedCount > 0, nil
}

// FindDailyValues returns snapshots with from <= date < to, oldest first
func (s *Store) FindDailyValues(ctx context.Context, portfolioID primitive.ObjectID, from, to time.Time) ([]models.PortfolioDailyValue, error) {
	filter := bson.M{
		"portfolioId": portfolioID,
		"date":        bson.M{"$gte": from, "$lt": to},
	}
	cursor, err := s.dailyValues.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "date", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to find daily values: %w", err)
	}
	values := []models.PortfolioDailyValue{}
	if err := cursor.All(ctx, &values); err != nil {
		return nil, fmt.Errorf("failed to decode daily values: %w", err)
	}
	return values, nil
}
