package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/linkstash/pkg/linkstash/auth"
	"github.com/mikepea/linkstash/pkg/linkstash/config"
	"github.com/mikepea/linkstash/pkg/linkstash/database"
	"github.com/mikepea/linkstash/pkg/linkstash/links"
	"github.com/mikepea/linkstash/pkg/linkstash/logging"
	"github.com/mikepea/linkstash/pkg/linkstash/models"
	"github.com/mikepea/linkstash/pkg/linkstash/scraper"
	"github.com/mikepea/linkstash/pkg/linkstash/server"
	"github.com/mikepea/linkstash/pkg/linkstash/tags"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	gin.SetMode(cfg.GinMode)

	db, err := database.Open(database.Options{
		Driver:          cfg.DatabaseDriver,
		DSN:             cfg.DatabaseDSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close(db)

	// Run auto-migrations
	if err := models.AutoMigrate(db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed", zap.String("driver", cfg.DatabaseDriver))

	if cfg.JWTSecret == config.DevJWTSecret {
		logger.Warn("using the development JWT secret; set LINKSTASH_JWT_SECRET")
	}

	metadata := scraper.New(scraper.Config{
		Timeout:      cfg.ScraperTimeout,
		UserAgent:    cfg.ScraperUserAgent,
		MaxBodyBytes: cfg.ScraperMaxBodyBytes,

		AllowPrivateNetworks: cfg.ScraperAllowPrivateNetworks,
	}, logger)

	router := server.NewRouter(server.Deps{
		DB:     db,
		Issuer: auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		Links:  links.NewService(db, tags.NewReconciler(logger), metadata, logger),
		Logger: logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting linkstash server", zap.String("addr", httpServer.Addr))
		serverErrors <- httpServer.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		logger.Info("shutdown signal received")

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
			if err := httpServer.Close(); err != nil {
				return fmt.Errorf("could not stop server: %w", err)
			}
		}
		logger.Info("shutdown complete")
	}
	return nil
}
