// Package main contains the entrypoint for the lead engine service.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cleandir/leadengine/internal/analyzer"
	"github.com/cleandir/leadengine/internal/api"
	"github.com/cleandir/leadengine/internal/app"
	"github.com/cleandir/leadengine/internal/config"
	"github.com/cleandir/leadengine/internal/database"
	"github.com/cleandir/leadengine/internal/drip"
	"github.com/cleandir/leadengine/internal/lead"
	"github.com/cleandir/leadengine/internal/logger"
	"github.com/cleandir/leadengine/internal/mailer"
	"github.com/cleandir/leadengine/internal/memory"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop() // Ensure context cancellation is signaled before exit
	os.Exit(exitCode)
}

// run initializes and starts all application components (config, logger,
// db, analyzer, mailer, services, HTTP server, scheduler), handles graceful
// shutdown, and returns an exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	// Optional .env file for local development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	an := buildAnalyzer(ctx, cfg, log)
	m := buildMailer(cfg, log)

	agg := memory.NewAggregator(store, log)
	leads := lead.NewService(store, an, agg, log)
	sched := drip.NewScheduler(store, log)
	worker := drip.NewWorker(store, m, agg, cfg.Drip.SendDelay, log)

	handler := api.NewHandler(leads, sched, agg, store, log)

	application, err := app.New(log, cfg, db, store, handler.Routes(), worker)
	if err != nil {
		log.Error("Failed to assemble application", "error", err)
		return 1
	}

	log.Info("Starting lead engine...")
	runErr := application.Run(ctx)
	log.Info("Run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}

// buildAnalyzer prefers the Gemini analyzer with a keyword fallback; without
// an API key the keyword analyzer runs alone.
func buildAnalyzer(ctx context.Context, cfg *config.Config, log *slog.Logger) analyzer.Analyzer {
	keyword := analyzer.NewKeywordAnalyzer()

	if cfg.Gemini.APIKey == "" {
		log.Info("No Gemini API key configured, using keyword analyzer")
		return keyword
	}

	gem, err := analyzer.NewGeminiAnalyzer(ctx, analyzer.GeminiConfig{
		APIKey:     cfg.Gemini.APIKey,
		Model:      cfg.Gemini.Model,
		MaxRetries: cfg.Gemini.MaxRetries,
		RetryDelay: cfg.Gemini.RetryDelay,
	}, log)
	if err != nil {
		log.Warn("Failed to initialize Gemini analyzer, falling back to keywords", "error", err)
		return keyword
	}

	return &analyzer.WithFallback{Primary: gem, Fallback: keyword}
}

// buildMailer uses Mailgun when configured and a log-only mailer otherwise.
func buildMailer(cfg *config.Config, log *slog.Logger) mailer.Mailer {
	if cfg.Mailgun.APIKey == "" {
		log.Warn("No Mailgun API key configured, followup emails will only be logged")
		return mailer.NewLogMailer(log)
	}

	m, err := mailer.NewMailgunMailer(mailer.MailgunConfig{
		APIKey:  cfg.Mailgun.APIKey,
		Domain:  cfg.Mailgun.Domain,
		From:    cfg.Mailgun.From,
		BaseURL: cfg.Mailgun.BaseURL,
		Timeout: cfg.Mailgun.Timeout,
	}, log)
	if err != nil {
		log.Warn("Failed to initialize Mailgun mailer, followup emails will only be logged", "error", err)
		return mailer.NewLogMailer(log)
	}

	return m
}
