// Command coinstore-server starts the purchase & entitlement HTTP service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/trollstown/coinstore/internal/catalog"
	"github.com/trollstown/coinstore/internal/config"
	"github.com/trollstown/coinstore/internal/migrate"
	"github.com/trollstown/coinstore/internal/repository/postgres"
	httpserver "github.com/trollstown/coinstore/internal/server/http"
	"github.com/trollstown/coinstore/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration, runs migrations, and starts the HTTP server
// plus the expiry sweeper.
func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	if !cfg.Dev {
		gin.SetMode(gin.ReleaseMode)
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DatabaseDSN); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	cat, err := catalog.LoadDefault()
	if err != nil {
		logger.Fatal("load catalog", zap.Error(err))
	}

	db, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres pool", zap.Error(err))
	}
	defer db.Close()

	// Repositories
	ledgerRepo := postgres.NewLedgerRepo(db)
	entRepo := postgres.NewEntitlementRepo(db)

	// Services
	activationSvc := service.NewActivationService(cat, entRepo)
	purchaseSvc := service.NewPurchaseService(cat, ledgerRepo, entRepo, activationSvc, logger)
	sweeper := service.NewSweeper(entRepo, cfg.SweepInterval, logger)

	go sweeper.Run(ctx)

	app := httpserver.New(purchaseSvc, activationSvc, sweeper, logger)
	srv := &http.Server{Addr: cfg.Addr, Handler: app.Router()}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
