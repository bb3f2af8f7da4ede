// Package app wires configuration into the services shared by the api,
// cli and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/cashflow-ledger/internal/clock"
	"github.com/dvloznov/cashflow-ledger/internal/config"
	"github.com/dvloznov/cashflow-ledger/internal/events"
	"github.com/dvloznov/cashflow-ledger/internal/gcsuploader"
	bq "github.com/dvloznov/cashflow-ledger/internal/infra/bigquery"
	"github.com/dvloznov/cashflow-ledger/internal/infra/inmemory"
	"github.com/dvloznov/cashflow-ledger/internal/jobs"
	jobqueue "github.com/dvloznov/cashflow-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/cashflow-ledger/internal/ledger"
	"github.com/dvloznov/cashflow-ledger/internal/mapping"
	"github.com/dvloznov/cashflow-ledger/internal/pipeline"
	"github.com/dvloznov/cashflow-ledger/internal/staging"
	"github.com/dvloznov/cashflow-ledger/internal/suggest"
	"github.com/rs/zerolog"
)

// App holds every service built from one Config.
type App struct {
	Config *config.Config
	Log    zerolog.Logger
	Clock  clock.Clock

	Ledgers      *ledger.Service
	Staging      *staging.Store
	Mappings     *mapping.Resolver
	Jobs         jobs.JobStore
	Orchestrator *pipeline.Orchestrator
	Rollback     *pipeline.RollbackEngine
	Queue        *jobqueue.Queue

	// Archiver is nil when no GCS bucket is configured.
	Archiver *gcsuploader.Archiver
	// Suggester is nil when no Gemini model could be created.
	Suggester *suggest.Suggester

	closers []func() error
}

// Option customizes New.
type Option func(*options)

type options struct {
	clock     clock.Clock
	model     suggest.Model
	publisher events.Publisher
}

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithModel replaces the Gemini model used for suggestions.
func WithModel(m suggest.Model) Option {
	return func(o *options) { o.model = m }
}

// WithPublisher adds a publisher next to the configured ones.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

type repositories struct {
	ledgers  ledger.Repository
	staging  staging.Repository
	mappings mapping.Repository
	jobs     jobs.JobStore
}

// New builds the application. Close releases every client it opened.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...Option) (*App, error) {
	o := &options{clock: clock.System{}}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{Config: cfg, Log: log, Clock: o.clock}

	repos, err := a.repositories(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	publisher, err := a.publisher(ctx, o.publisher)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Ledgers = ledger.NewService(repos.ledgers, o.clock, log, ledger.WithPublisher(publisher))
	a.Staging = staging.NewStore(repos.staging, a.Ledgers, o.clock, staging.Config{
		TTL:                 cfg.Import.StagingTTL,
		SupportedCurrencies: cfg.Import.SupportedCurrencies,
	}, log)
	a.Mappings = mapping.NewResolver(repos.mappings, o.clock, cfg.Cache.MappingTTL, log)
	a.Jobs = repos.jobs
	a.Orchestrator = pipeline.NewOrchestrator(a.Ledgers, a.Staging, a.Mappings, a.Jobs, o.clock,
		pipeline.Config{RollbackGrace: cfg.Import.RollbackGrace}, log,
		pipeline.WithPublisher(publisher),
	)
	a.Rollback = pipeline.NewRollbackEngine(a.Ledgers, o.clock)
	a.Queue = jobqueue.NewQueue(cfg.Queue.BufferSize, cfg.Queue.Workers, log)
	a.closers = append(a.closers, a.Queue.Close)

	if cfg.GCS.Bucket != "" {
		store, err := gcsuploader.NewGCSStore(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.Archiver = gcsuploader.NewArchiver(store, cfg.GCS.Bucket, o.clock, log)
	}

	model := o.model
	if model == nil && cfg.Gemini.Model != "" {
		gm, err := suggest.NewGeminiModel(ctx, cfg.Gemini.Model)
		if err != nil {
			log.Warn().Err(err).Msg("Mapping suggestions disabled")
		} else {
			model = gm
		}
	}
	if model != nil {
		a.Suggester = suggest.NewSuggester(a.Ledgers, a.Staging, a.Mappings, model, log)
	}

	log.Info().
		Str("backend", cfg.Storage.Backend).
		Bool("archive", a.Archiver != nil).
		Bool("suggestions", a.Suggester != nil).
		Bool("redis", cfg.Redis.URL != "").
		Msg("Application initialized")
	return a, nil
}

func (a *App) repositories(ctx context.Context) (*repositories, error) {
	switch a.Config.Storage.Backend {
	case config.BackendBigQuery:
		conn, err := bq.Connect(ctx, a.Config.Storage.ProjectID, a.Config.Storage.Dataset)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.closers = append(a.closers, conn.Close)
		return &repositories{
			ledgers:  bq.NewLedgerRepository(conn),
			staging:  bq.NewStagingRepository(conn),
			mappings: bq.NewMappingRepository(conn),
			jobs:     bq.NewJobStore(conn),
		}, nil
	case config.BackendMemory, "":
		return &repositories{
			ledgers:  inmemory.NewLedgerRepository(),
			staging:  inmemory.NewStagingRepository(),
			mappings: inmemory.NewMappingRepository(),
			jobs:     jobqueue.NewStore(),
		}, nil
	default:
		return nil, fmt.Errorf("app: unknown storage backend %q", a.Config.Storage.Backend)
	}
}

func (a *App) publisher(ctx context.Context, extra events.Publisher) (events.Publisher, error) {
	multi := events.Multi{events.NewLogPublisher(a.Log)}
	if a.Config.Redis.URL != "" {
		client, err := events.DialRedis(ctx, a.Config.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		multi = append(multi, events.NewRedisPublisher(client, a.Config.Redis.Channel, a.Clock))
	}
	if extra != nil {
		multi = append(multi, extra)
	}
	return multi, nil
}

// ProcessJob is the queue handler for async imports. A failed run is
// recorded on the job by the orchestrator and is not an error here.
func (a *App) ProcessJob(ctx context.Context, jobID string) error {
	job, err := a.Orchestrator.Process(ctx, jobID)
	if err != nil && job != nil {
		return nil
	}
	return err
}

// Close releases clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
