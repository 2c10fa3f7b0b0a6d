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

// InsertUserAndPortfolio creates the user and an empty portfolio in one transaction
func (s *Store) InsertUserAndPortfolio(ctx context.Context, user *models.User) (*models.User, error) {
	now := time.Now().UTC()
	userID := primitive.NewObjectID()
	portfolio := models.Portfolio{
		ID:          primitive.NewObjectID(),
		UserID:      &userID,
		Holdings:    []models.Holding{},
		TotalValue:  decimal.Zero,
		LastUpdated: now,
	}

	created := *user
	created.ID = userID
	created.PortfolioID = portfolio.ID
	created.CreatedAt = now

	session, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := s.portfolios.InsertOne(sc, portfolio); err != nil {
			return nil, fmt.Errorf("failed to insert portfolio: %w", err)
		}
		if _, err := s.users.InsertOne(sc, created); err != nil {
			return nil, fmt.Errorf("failed to insert user: %w", err)
		}
		return nil, nil
	})
	if mongo.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("user %s: %w", user.Username, models.ErrAlreadyExists)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("user_id", userID.Hex()).Str("portfolio_id", portfolio.ID.Hex()).Msg("Created user with portfolio")
	return &created, nil
}

// DeleteUserAndPortfolio removes the user and its portfolio in one transaction
func (s *Store) DeleteUserAndPortfolio(ctx context.Context, userID primitive.ObjectID) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		var user models.User
		if err := s.users.FindOne(sc, bson.M{"_id": userID}).Decode(&user); err != nil {
			return nil, notFound(err, "user "+userID.Hex())
		}
		if _, err := s.portfolios.DeleteOne(sc, bson.M{"_id": user.PortfolioID}); err != nil {
			return nil, fmt.Errorf("failed to delete portfolio: %w", err)
		}
		if _, err := s.users.DeleteOne(sc, bson.M{"_id": userID}); err != nil {
			return nil, fmt.Errorf("failed to delete user: %w", err)
		}
		return nil, nil
	})
	return err
}

// GetUser returns a user by id
func (s *Store) GetUser(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var user models.User
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&user); err != nil {
		return nil, notFound(err, "user "+id.Hex())
	}
	return &user, nil
}

// GetUserByUsername returns a user by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := s.users.FindOne(ctx, bson.M{"username": username}).Decode(&user); err != nil {
		return nil, notFound(err, "user "+username)
	}
	return &user, nil
}

// ListUsers returns every user ordered by creation time
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	cursor, err := s.users.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users := []models.User{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	return users, nil
}

// GetPortfolioByUsername resolves a user's portfolio through the user document
func (s *Store) GetPortfolioByUsername(ctx context.Context, username string) (*models.Portfolio, error) {
	user, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user.PortfolioID.IsZero() {
		return nil, fmt.Errorf("portfolio of %s: %w", username, models.ErrNotFound)
	}
	return s.GetPortfolio(ctx, user.PortfolioID)
}
