// Package app wires the HTTP server and the background scheduler together
// and manages their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/cleandir/leadengine/internal/config"
	"github.com/cleandir/leadengine/internal/database"
	"github.com/cleandir/leadengine/internal/drip"
)

// App represents the lead engine application and manages its components'
// lifecycle.
type App struct {
	logger    *slog.Logger
	cfg       *config.Config
	db        *sqlx.DB
	store     database.Store
	server    *http.Server
	scheduler *Scheduler
}

// New creates the application from its wired components. handler is the
// fully-routed HTTP handler; worker runs the drip dispatch and purge tasks.
func New(
	logger *slog.Logger,
	cfg *config.Config,
	db *sqlx.DB,
	store database.Store,
	handler http.Handler,
	worker *drip.Worker,
) (*App, error) {
	tasks := map[string]Task{
		"dispatch_followups": {
			Schedule: cfg.Drip.DispatchSchedule,
			Run: func(ctx context.Context) error {
				_, err := worker.Tick(ctx, time.Now().UTC())
				return err
			},
		},
		"purge_sent_jobs": {
			Schedule: cfg.Drip.PurgeSchedule,
			Run: func(ctx context.Context) error {
				_, err := worker.Purge(ctx, time.Now().UTC())
				return err
			},
		},
	}

	sched, err := NewScheduler(logger, tasks)
	if err != nil {
		return nil, err
	}

	return &App{
		logger: logger.With("component", "app"),
		cfg:    cfg,
		db:     db,
		store:  store,
		server: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		scheduler: sched,
	}, nil
}

// Run starts the HTTP server and the scheduler, then blocks until the
// context is cancelled or a component fails. Shutdown is graceful.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting application...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("Starting HTTP server", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		a.logger.Info("HTTP server stopped.")
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("Error during HTTP server shutdown", "error", err)
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.logger.Info("Starting scheduler...")
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping scheduler...")
		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	a.logger.Info("Application running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Application stopped due to error", "error", err)
		return err
	}

	a.logger.Info("Application stopped gracefully.")
	return nil
}
