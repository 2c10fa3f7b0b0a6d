package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chihkang/PortfolioManager/internal/api"
	"github.com/chihkang/PortfolioManager/internal/config"
	"github.com/chihkang/PortfolioManager/internal/database"
	"github.com/chihkang/PortfolioManager/internal/events"
	"github.com/chihkang/PortfolioManager/internal/exchangerate"
	"github.com/chihkang/PortfolioManager/internal/kafka"
	"github.com/chihkang/PortfolioManager/internal/logger"
	"github.com/chihkang/PortfolioManager/internal/portfolio"
	"github.com/chihkang/PortfolioManager/internal/redis"
	"github.com/chihkang/PortfolioManager/internal/scheduler"
	"github.com/chihkang/PortfolioManager/internal/store"
	"github.com/chihkang/PortfolioManager/internal/wshub"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
)

func main() {
	// Load configuration
	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Server exited with error")
	}
	log.Info().Msg("Server stopped")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to MongoDB
	st, err := store.New(ctx, cfg.Mongo, log)
	if err != nil {
		return err
	}
	defer st.Close(context.Background())
	if err := st.EnsureIndexes(ctx); err != nil {
		return err
	}
	log.Info().Str("database", cfg.Mongo.Database).Msg("Connected to MongoDB")

	// Connect to PostgreSQL and run migrations
	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := runMigrations(cfg.Database.ConnectionString(), log); err != nil {
		return err
	}
	log.Info().Msg("Connected to PostgreSQL database")

	// Connect to Redis; an unreachable cache degrades to misses
	cache := redis.Dial(cfg.Redis, log)
	defer cache.Close()
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := cache.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, continuing with cache misses")
	} else {
		log.Info().Str("addr", cfg.Redis.Address()).Msg("Connected to Redis cache")
	}
	pingCancel()

	// Event bus and services
	bus := events.NewBus(log)
	updater := portfolio.NewUpdater(st, cache, bus, portfolio.OptionsFromConfig(cfg.PortfolioUpdate), log)
	updater.Register(bus)
	prices := portfolio.NewPriceService(st, bus, log)
	history := portfolio.NewHistoryService(st, cfg.Scheduler.Location())

	hub := wshub.NewHub(log)
	hub.Register(bus)
	go hub.Run(ctx)

	// Kafka consumer and producer
	kafkaEnabled := len(cfg.Kafka.Brokers) > 0
	if kafkaEnabled {
		producer := kafka.NewValuationProducer(cfg.Kafka.Brokers, cfg.Kafka.ValuationsTopic, log)
		producer.Register(bus)
		defer producer.Close()

		consumer := kafka.NewMarketDataConsumer(
			cfg.Kafka.Brokers,
			cfg.Kafka.MarketDataTopic,
			cfg.Kafka.ConsumerGroup,
			prices,
			updater,
			log,
		)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("Market data consumer error")
			}
		}()
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Kafka initialized")
	}

	// Scheduled jobs
	sched := scheduler.New(cfg.Scheduler.Location(), log)
	rates := exchangerate.NewClient(cfg.ExchangeRate, log)
	if err := sched.AddJob(cfg.Scheduler.DailyValueCron, scheduler.NewDailyValueJob(st, rates, cfg.Scheduler.Location(), log)); err != nil {
		return fmt.Errorf("failed to schedule daily value job: %w", err)
	}
	if cfg.Scheduler.StockUpdaterBaseURL != "" {
		job := scheduler.NewStockUpdaterJob(cfg.Scheduler.StockUpdaterBaseURL, cfg.Scheduler.StockTypes, log)
		if err := sched.AddJob(cfg.Scheduler.StockUpdaterCron, job); err != nil {
			return fmt.Errorf("failed to schedule stock updater job: %w", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	// Set up HTTP handler and routes
	handler := api.NewHandler(api.Deps{
		Store:      st,
		Ledger:     db,
		Portfolios: updater,
		Prices:     prices,
		History:    history,
		Jobs:       sched,
		Kafka:      kafkaEnabled,
		Checks: []api.HealthCheck{
			{Name: "mongo", Check: st.Ping, Required: true},
			{Name: "postgres", Check: func(context.Context) error { return db.Ping() }, Required: true},
			{Name: "redis", Check: cache.Ping},
		},
	}, log)
	router := api.SetupRoutes(handler, hub.ServeWS)

	// Create HTTP server
	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	}

	log.Info().Msg("Shutting down server...")

	// Cancel context to stop the consumer and the hub
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func runMigrations(databaseURL string, log zerolog.Logger) error {
	m, err := migrate.New("file://./db/migrations", databaseURL)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Msg("No migrations to apply; database is up to date")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	log.Info().Msg("Migrations applied")
	return nil
}
