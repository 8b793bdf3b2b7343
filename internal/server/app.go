// Package server initializes and runs the keyfold server: it opens the
// database, applies migrations, wires the services, and serves the HTTP API
// until interrupted.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/keyfold/keyfold/internal/logging"
	"github.com/keyfold/keyfold/internal/server/config"
	"github.com/keyfold/keyfold/internal/server/httpapi"
	"github.com/keyfold/keyfold/internal/server/repositories/repomanager"
	"github.com/keyfold/keyfold/internal/server/services"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config       *config.Config
	logger       logging.Logger
	db           *sql.DB
	repomanager  repomanager.RepositoryManager
	authService  *services.AuthService
	vaultService *services.VaultService
	maintenance  *services.MaintenanceService
}

func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm, err := repomanager.NewPostgresRepositoryManager()
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	return &App{
		config:       cfg,
		logger:       logger,
		db:           db,
		repomanager:  rm,
		authService:  services.NewAuthService(db, rm, logger, cfg),
		vaultService: services.NewVaultService(db, rm, logger, cfg),
		maintenance:  services.NewMaintenanceService(db, rm, logger, cfg),
	}, nil
}

func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := app.repomanager.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}

	go app.maintenance.Run(ctx)

	router := httpapi.NewRouter(app.authService, app.vaultService, app.config)
	srv := &http.Server{Addr: app.config.EndpointAddr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info(ctx, "server listening", "addr", app.config.EndpointAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	app.logger.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(shutdownCtx, "shutdown error", "error", err)
	}

	return app.db.Close()
}
