package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/cashflow-ledger/internal/api/handlers"
	"github.com/dvloznov/cashflow-ledger/internal/app"
	"github.com/dvloznov/cashflow-ledger/internal/config"
	"github.com/dvloznov/cashflow-ledger/internal/logger"
)

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", "", "Path to a YAML config file (or set LEDGER_CONFIG)")
		port       = flag.String("port", "", "HTTP server port (overrides server.port)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load config")
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	// Initialize logger
	log, err := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Pretty, os.Stdout)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to create logger")
	}

	ctx := context.Background()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	if a.Archiver == nil {
		log.Warn().Msg("No GCS bucket configured - uploaded statements will not be archived")
	}

	// Start workers in background to process async import jobs
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	log.Info().Int("workers", cfg.Queue.Workers).Msg("Starting import job workers")
	if err := a.Queue.Start(workerCtx, a.ProcessJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}

	// Optional collaborators stay nil interfaces when disabled
	var archiver handlers.StatementArchiver
	if a.Archiver != nil {
		archiver = a.Archiver
	}
	var suggester handlers.Suggester
	if a.Suggester != nil {
		suggester = a.Suggester
	}

	router := handlers.NewRouter(handlers.Handlers{
		Ledgers:  handlers.NewLedgersHandler(a.Ledgers, a.Rollback, log),
		Staging:  handlers.NewStagingHandler(a.Staging, archiver, cfg.Import.DefaultCurrency, log),
		Mappings: handlers.NewMappingsHandler(a.Mappings, a.Ledgers, suggester, log),
		Imports:  handlers.NewImportsHandler(a.Orchestrator, a.Queue, log),
	}, handlers.RouterConfig{
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	}, log)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.Server.Port).Str("backend", cfg.Storage.Backend).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := a.Queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
