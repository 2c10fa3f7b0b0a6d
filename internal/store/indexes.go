package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const indexAttempts = 3

type collectionIndexes struct {
	coll   *mongo.Collection
	models []mongo.IndexModel
}

func (s *Store) indexPlan() []collectionIndexes {
	return []collectionIndexes{
		{s.stocks, []mongo.IndexModel{
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "alias", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
			{Keys: bson.D{{Key: "currency", Value: 1}, {Key: "price", Value: 1}}},
		}},
		{s.portfolios, []mongo.IndexModel{
			{Keys: bson.D{{Key: "userId", Value: 1}}},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "lastUpdated", Value: -1}}},
			{Keys: bson.D{{Key: "stocks.stockId", Value: 1}}},
		}},
		{s.users, []mongo.IndexModel{
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{s.dailyValues, []mongo.IndexModel{
			{Keys: bson.D{{Key: "portfolioId", Value: 1}, {Key: "date", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "date", Value: 1}}},
		}},
	}
}

// EnsureIndexes creates every collection index, retrying each collection
// up to three times with a one second pause.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	for _, plan := range s.indexPlan() {
		plan := plan
		name := plan.coll.Name()

		op := func() error {
			_, err := plan.coll.Indexes().CreateMany(ctx, plan.models)
			return err
		}
		notify := func(err error, wait time.Duration) {
			s.log.Warn().Err(err).Str("collection", name).Dur("retry_in", wait).Msg("Index creation failed, retrying")
		}

		policy := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), indexAttempts-1), ctx)
		if err := backoff.RetryNotify(op, policy, notify); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
		s.log.Info().Str("collection", name).Int("indexes", len(plan.models)).Msg("Indexes ensured")
	}
	return nil
}
