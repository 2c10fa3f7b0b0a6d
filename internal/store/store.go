// Package store persists users, stocks, portfolios and daily values in MongoDB.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chihkang/PortfolioManager/internal/config"
	"github.com/chihkang/PortfolioManager/internal/models"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection       = "users"
	stocksCollection      = "stocks"
	portfoliosCollection  = "portfolio"
	dailyValuesCollection = "portfolio_daily_values"
)

// Store wraps the MongoDB database and its collections.
// Collection handles are created once at construction.
type Store struct {
	client      *mongo.Client
	db          *mongo.Database
	users       *mongo.Collection
	stocks      *mongo.Collection
	portfolios  *mongo.Collection
	dailyValues *mongo.Collection
	log         zerolog.Logger
}

// New connects to MongoDB and verifies the connection
func New(ctx context.Context, cfg config.MongoConfig, log zerolog.Logger) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().
		ApplyURI(cfg.URI).
		SetRegistry(Registry()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return NewFromDatabase(client.Database(cfg.Database), log), nil
}

// NewFromDatabase builds a Store over an existing database handle.
// The client must be configured with Registry().
func NewFromDatabase(db *mongo.Database, log zerolog.Logger) *Store {
	return &Store{
		client:      db.Client(),
		db:          db,
		users:       db.Collection(usersCollection),
		stocks:      db.Collection(stocksCollection),
		portfolios:  db.Collection(portfoliosCollection),
		dailyValues: db.Collection(dailyValuesCollection),
		log:         log.With().Str("component", "store").Logger(),
	}
}

// Close disconnects from MongoDB
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks if MongoDB is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// notFound maps the driver's no-documents error onto models.ErrNotFound
func notFound(err error, what string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	return err
}
