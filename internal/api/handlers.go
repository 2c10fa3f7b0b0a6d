// Package api exposes the portfolio service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/chihkang/PortfolioManager/internal/exchangerate"
	"github.com/chihkang/PortfolioManager/internal/models"
	"github.com/chihkang/PortfolioManager/internal/portfolio"
	"github.com/chihkang/PortfolioManager/internal/valuation"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Store is the document persistence used directly by handlers
type Store interface {
	ListStocks(ctx context.Context) ([]models.StockSummary, error)
	GetStock(ctx context.Context, id primitive.ObjectID) (*models.Stock, error)
	GetStockByName(ctx context.Context, name string) (*models.Stock, error)
	CreateStock(ctx context.Context, stock *models.Stock) error
	SetHoldingQuantity(ctx context.Context, portfolioID, stockID primitive.ObjectID, quantity decimal.Decimal) error
	RemoveHolding(ctx context.Context, portfolioID, stockID primitive.ObjectID) error
	GetPortfolioByUsername(ctx context.Context, username string) (*models.Portfolio, error)
	InsertUserAndPortfolio(ctx context.Context, user *models.User) (*models.User, error)
	DeleteUserAndPortfolio(ctx context.Context, userID primitive.ObjectID) error
	GetUser(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
}

// Ledger is the position event store
type Ledger interface {
	InsertPositionEvent(ctx context.Context, e *models.PositionEvent) error
	GetPositionEvent(ctx context.Context, id int64) (*models.PositionEvent, error)
	OperationExists(ctx context.Context, operationID string) (bool, error)
	ListPositionEvents(ctx context.Context, limit, offset int) ([]*models.PositionEvent, error)
	ListPositionEventsByUser(ctx context.Context, userID string, limit, offset int) ([]*models.PositionEvent, error)
	ListPositionEventsByStock(ctx context.Context, stockID string, limit, offset int) ([]*models.PositionEvent, error)
	ListPositionEventsByUserAndStock(ctx context.Context, userID, stockID string, limit, offset int) ([]*models.PositionEvent, error)
	PositionEventStats(ctx context.Context, userID string) (*models.PositionEventStats, error)
}

// Portfolios is the valuation service
type Portfolios interface {
	GetPortfolioWithCurrentValues(ctx context.Context, id primitive.ObjectID) (*models.Portfolio, error)
	Metrics(ctx context.Context, id primitive.ObjectID) (*models.PortfolioMetrics, error)
	RecomputePortfolio(ctx context.Context, id primitive.ObjectID) (*models.Portfolio, error)
	UpdateExchangeRate(ctx context.Context, rate decimal.Decimal, updatedBy, source string) (*portfolio.RateChange, error)
	CurrentExchangeRate(ctx context.Context) (decimal.Decimal, error)
}

// Prices applies stock price changes
type Prices interface {
	UpdatePriceByName(ctx context.Context, name string, price decimal.Decimal) (*models.PriceUpdate, error)
}

// History answers valuation history queries
type History interface {
	History(ctx context.Context, portfolioID primitive.ObjectID, rng string) (*models.ValueHistory, error)
	Summary(ctx context.Context, portfolioID primitive.ObjectID, rng string) (*models.ValueSummary, error)
}

// Jobs runs registered background jobs on demand
type Jobs interface {
	RunByName(name string) error
}

// HealthCheck probes one backing service
type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Required bool
}

// Deps holds the handler dependencies
type Deps struct {
	Store      Store
	Ledger     Ledger
	Portfolios Portfolios
	Prices     Prices
	History    History
	Jobs       Jobs
	Checks     []HealthCheck
	Kafka      bool
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	store      Store
	ledger     Ledger
	portfolios Portfolios
	prices     Prices
	history    History
	jobs       Jobs
	checks     []HealthCheck
	kafka      bool
	log        zerolog.Logger
}

// NewHandler creates a new Handler
func NewHandler(deps Deps, log zerolog.Logger) *Handler {
	return &Handler{
		store:      deps.Store,
		ledger:     deps.Ledger,
		portfolios: deps.Portfolios,
		prices:     deps.Prices,
		history:    deps.History,
		jobs:       deps.Jobs,
		checks:     deps.Checks,
		kafka:      deps.Kafka,
		log:        log.With().Str("component", "api").Logger(),
	}
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services := map[string]string{}
	allHealthy := true

	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			services[c.Name] = "unhealthy: " + err.Error()
			if c.Required {
				allHealthy = false
			}
		} else {
			services[c.Name] = "healthy"
		}
	}

	if h.kafka {
		services["kafka"] = "configured"
	} else {
		services["kafka"] = "not configured"
	}

	status := "healthy"
	if !allHealthy {
		status = "degraded"
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services":  services,
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// writeError maps domain errors onto status codes
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, valuation.ErrNoData):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrDuplicateOperation), errors.Is(err, models.ErrAlreadyExists):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, portfolio.ErrUpdateInProgress):
		respondError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, exchangerate.ErrRateUnavailable):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", models.ErrValidation)
	}
	return nil
}

func objectIDVar(r *http.Request, name string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(mux.Vars(r)[name])
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: invalid %s", models.ErrValidation, name)
	}
	return id, nil
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// pagination reads page (1-based) and pageSize into limit and offset
func pagination(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return size, (page - 1) * size
}
