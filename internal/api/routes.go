package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all API routes. ws may be nil.
func SetupRoutes(handler *Handler, ws http.HandlerFunc) *mux.Router {
	r := mux.NewRouter()

	// Health check and metrics
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	if ws != nil {
		r.HandleFunc("/ws", ws).Methods("GET")
	}

	api := r.PathPrefix("/api/v1").Subrouter()

	// Stock routes
	api.HandleFunc("/stocks", handler.GetAllStocks).Methods("GET")
	api.HandleFunc("/stocks", handler.AddStock).Methods("POST")
	api.HandleFunc("/stocks/name/{name}", handler.GetStockByName).Methods("GET")
	api.HandleFunc("/stocks/name/{name}/price", handler.UpdateStockPrice).Methods("PUT")
	api.HandleFunc("/stocks/{id}", handler.GetStock).Methods("GET")

	// Portfolio routes
	api.HandleFunc("/portfolios/{id}", handler.GetPortfolio).Methods("GET")
	api.HandleFunc("/portfolios/{id}/metrics", handler.GetPortfolioMetrics).Methods("GET")
	api.HandleFunc("/portfolios/{id}/history", handler.GetPortfolioHistory).Methods("GET")
	api.HandleFunc("/portfolios/{id}/summary", handler.GetPortfolioSummary).Methods("GET")
	api.HandleFunc("/portfolios/{id}/holdings/{stockId}", handler.SetHolding).Methods("PUT")
	api.HandleFunc("/portfolios/{id}/holdings/{stockId}", handler.RemoveHolding).Methods("DELETE")

	// Exchange rate routes
	api.HandleFunc("/exchange-rate", handler.GetExchangeRate).Methods("GET")
	api.HandleFunc("/exchange-rate", handler.UpdateExchangeRate).Methods("PUT")

	// User routes
	api.HandleFunc("/users", handler.ListUsers).Methods("GET")
	api.HandleFunc("/users", handler.CreateUser).Methods("POST")
	api.HandleFunc("/users/name/{username}/portfolio", handler.GetPortfolioByUsername).Methods("GET")
	api.HandleFunc("/users/{id}", handler.GetUser).Methods("GET")
	api.HandleFunc("/users/{id}", handler.DeleteUser).Methods("DELETE")

	// Position event routes
	api.HandleFunc("/position-events", handler.CreatePositionEvent).Methods("POST")
	api.HandleFunc("/position-events", handler.ListPositionEvents).Methods("GET")
	api.HandleFunc("/position-events/operation/{operationId}", handler.OperationExists).Methods("GET")
	api.HandleFunc("/position-events/user/{userId}", handler.ListPositionEventsByUser).Methods("GET")
	api.HandleFunc("/position-events/user/{userId}/stats", handler.GetPositionEventStats).Methods("GET")
	api.HandleFunc("/position-events/user/{userId}/stock/{stockId}", handler.ListPositionEventsByUserAndStock).Methods("GET")
	api.HandleFunc("/position-events/stock/{stockId}", handler.ListPositionEventsByStock).Methods("GET")
	api.HandleFunc("/position-events/{id}", handler.GetPositionEvent).Methods("GET")

	// Job routes
	api.HandleFunc("/jobs/{name}", handler.TriggerJob).Methods("POST")

	return r
}
