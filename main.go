package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/xcthomaswagner/production-risk-radar/pkg/config"
	"github.com/xcthomaswagner/production-risk-radar/pkg/database"
	"github.com/xcthomaswagner/production-risk-radar/pkg/handlers"
	"github.com/xcthomaswagner/production-risk-radar/pkg/middleware"
	"github.com/xcthomaswagner/production-risk-radar/pkg/repositories"
	"github.com/xcthomaswagner/production-risk-radar/pkg/services"
	"github.com/xcthomaswagner/production-risk-radar/pkg/timeseries"
	"github.com/xcthomaswagner/production-risk-radar/pkg/twin"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("backend", cfg.StoreBackend),
		zap.String("dataset", cfg.DatasetPath))

	ctx := context.Background()

	var (
		cascade services.Cascade
		reader  services.StateReader
	)
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		if err := runMigrations(cfg, logger); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}

		db, err := database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.ConnectionString(),
			MaxConnections: cfg.Database.MaxConnections,
		})
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		store := repositories.NewPostgresStateStore(db)
		cascade = services.NewPostgresCascade(store, logger)
		reader = store

	case config.BackendTwin:
		twinClient := twin.NewClient(twin.Config{
			BaseURL:    cfg.Twin.BaseURL,
			APIVersion: cfg.Twin.APIVersion,
			Token:      cfg.Twin.Token,
			Timeout:    time.Duration(cfg.Twin.TimeoutSeconds) * time.Second,
		}, logger)

		tsClient := timeseries.NewClient(timeseries.Config{
			URL:    cfg.Timeseries.URL,
			Token:  cfg.Timeseries.Token,
			Org:    cfg.Timeseries.Org,
			Bucket: cfg.Timeseries.Bucket,
		}, logger)
		defer tsClient.Close()

		cascade = services.NewTwinCascade(twinClient, tsClient, logger)
		reader = services.NewTwinStateReader(twinClient, tsClient)
	}

	mux := http.NewServeMux()

	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewAnomalyHandler(cascade, logger).RegisterRoutes(mux)
	handlers.NewSeedHandler(cascade, cfg.DatasetPath, logger).RegisterRoutes(mux)
	handlers.NewStateHandler(reader, logger).RegisterRoutes(mux)
	handlers.NewTwinHandler(reader, logger).RegisterRoutes(mux)

	handler := middleware.RequestLogger(logger)(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting production-risk-radar",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// runMigrations opens a short-lived database/sql connection for the
// migration tooling; the service itself talks pgx natively.
func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	db, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close()
	return database.RunMigrations(db, cfg.MigrationsPath, logger)
}
