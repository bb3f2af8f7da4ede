package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/cashflow-ledger/internal/app"
	"github.com/dvloznov/cashflow-ledger/internal/config"
	"github.com/dvloznov/cashflow-ledger/internal/logger"
	"github.com/rs/zerolog"
)

// purger removes staging rows whose TTL has elapsed.
type purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (or set LEDGER_CONFIG)")
	once := flag.Bool("once", false, "Run a single purge and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger
	log, err := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Pretty, os.Stdout)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to create logger")
	}

	// Create context that cancels on interrupt
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	if *once {
		if _, err := purgeOnce(ctx, a.Staging, log); err != nil {
			log.Fatal().Err(err).Msg("Purge failed")
		}
		return
	}

	log.Info().Dur("interval", cfg.Worker.PurgeInterval).Msg("Starting staging janitor")
	runPurger(ctx, a.Staging, cfg.Worker.PurgeInterval, log)
	log.Info().Msg("Worker service exited")
}

// runPurger purges once immediately and then every interval until ctx is
// done. Failures are logged and retried on the next tick.
func runPurger(ctx context.Context, p purger, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := purgeOnce(ctx, p, log); err != nil {
			log.Error().Err(err).Msg("Staging purge failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func purgeOnce(ctx context.Context, p purger, log zerolog.Logger) (int, error) {
	n, err := p.PurgeExpired(ctx)
	if err != nil {
		return 0, err
	}
	log.Debug().Int("deleted", n).Msg("Staging purge finished")
	return n, nil
}
