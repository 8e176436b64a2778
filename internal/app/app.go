// Package app builds the service object graph from configuration. The api,
// worker and ingest binaries share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dvloznov/ledger-ingest/internal/adapter"
	"github.com/dvloznov/ledger-ingest/internal/config"
	"github.com/dvloznov/ledger-ingest/internal/export"
	"github.com/dvloznov/ledger-ingest/internal/files"
	"github.com/dvloznov/ledger-ingest/internal/intake"
	"github.com/dvloznov/ledger-ingest/internal/jobs"
	"github.com/dvloznov/ledger-ingest/internal/jobs/inmemory"
	"github.com/dvloznov/ledger-ingest/internal/jobs/pgqueue"
	"github.com/dvloznov/ledger-ingest/internal/llm"
	"github.com/dvloznov/ledger-ingest/internal/logger"
	"github.com/dvloznov/ledger-ingest/internal/migrate"
	"github.com/dvloznov/ledger-ingest/internal/normalize"
	"github.com/dvloznov/ledger-ingest/internal/pipeline"
	"github.com/dvloznov/ledger-ingest/internal/store"
	"github.com/dvloznov/ledger-ingest/internal/store/memory"
	"github.com/dvloznov/ledger-ingest/internal/store/postgres"
	"github.com/dvloznov/ledger-ingest/internal/store/sqlite"
	"github.com/dvloznov/ledger-ingest/internal/worker"
	"github.com/rs/zerolog"
)

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Config *config.Config
	Log    zerolog.Logger

	Store     store.Store
	Queue     jobs.Queue
	Machine   *pipeline.Machine
	Processor *pipeline.Processor
	Intake    *intake.Service

	closers []func() error
}

// NewLogger builds the logger described by cfg.
func NewLogger(cfg config.LogConfig) zerolog.Logger {
	return logger.NewWithOptions(logger.Options{Level: cfg.Level, Format: cfg.Format})
}

// New opens the store, migrating it when configured, and wires the queue,
// pipeline and intake service.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	st, err := OpenStore(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	var objects files.ObjectStorage
	if cfg.Uploads.Bucket != "" || cfg.GCS.CredentialsFile != "" {
		gcs, err := files.NewGCSClient(ctx, cfg.GCS.CredentialsFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		objects = gcs
		a.closers = append(a.closers, gcs.Close)
	}

	var saver files.Saver = files.NewLocalSaver(cfg.Uploads.Dir)
	if cfg.Uploads.Bucket != "" {
		saver = files.NewGCSSaver(objects, cfg.Uploads.Bucket, cfg.Uploads.Prefix)
	}

	registry := adapter.NewRegistry(adapter.NewCSVAdapter(adapter.CSVOptions{
		Delimiter: cfg.Ingest.CSV.DelimiterRune(),
		Columns:   cfg.Ingest.CSV.Columns,
	}, log))
	extractor, err := llm.NewGeminiExtractor(ctx, llm.Config{
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	}, log)
	if err != nil {
		log.Warn().Err(err).Msg("Extraction service unavailable, PDF statements are disabled")
	} else {
		registry.Register(adapter.NewPDFAdapter(adapter.PlainTextExtractor{}, extractor, cfg.Ingest.MaxExtractionChars, log))
	}

	var sink export.Sink = export.NopSink{}
	if bq := cfg.Export.BigQuery; bq.Enabled() {
		bqSink, err := export.NewBigQuerySink(ctx, bq.Project, bq.Dataset, bq.Table, cfg.GCS.CredentialsFile, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		sink = bqSink
		a.closers = append(a.closers, bqSink.Close)
	}

	a.Machine = pipeline.NewMachine(pipeline.Deps{
		Store:    st,
		Adapters: registry,
		Files:    files.NewResolver(objects, cfg.Ingest.MaxFileBytes),
		Normalizer: normalize.New(normalize.Options{
			MaxDescriptionLength: cfg.Ingest.MaxDescriptionLength,
			DecimalSeparator:     cfg.Ingest.Separator(),
		}, log),
		Sink:            sink,
		Log:             log,
		DefaultCurrency: cfg.Ingest.DefaultCurrency,
	})
	a.Processor = pipeline.NewProcessor(a.Machine, log)

	q, err := NewQueue(cfg, st, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Queue = q
	a.closers = append(a.closers, q.Close)

	a.Intake = intake.NewService(st, saver, q, intake.Options{MaxFileBytes: cfg.Ingest.MaxFileBytes}, log)
	return a, nil
}

// Worker returns a runtime that feeds the queue into the pipeline.
func (a *App) Worker() *worker.Runtime {
	return worker.New(a.Queue, a.Processor.Handle, a.Config.Queue.ShutdownTimeout, a.Log)
}

// Close releases every resource opened by New.
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

// Migrator is a store with versioned schema migrations.
type Migrator interface {
	store.Store
	migrate.Target
	Migrate(ctx context.Context, appliedBy string, log zerolog.Logger) (int, error)
}

// OpenStore opens the configured store and applies pending migrations when
// auto_migrate is set.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (store.Store, error) {
	if cfg.Driver == "memory" {
		return memory.New(), nil
	}

	m, err := OpenMigrator(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if _, err := m.Migrate(ctx, AppliedBy(), log); err != nil {
			m.Close()
			return nil, fmt.Errorf("migrate %s: %w", cfg.Driver, err)
		}
	}
	return m, nil
}

// OpenMigrator opens a SQL-backed store without migrating it.
func OpenMigrator(ctx context.Context, cfg config.DatabaseConfig) (Migrator, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Connect(ctx, cfg.URL)
	case "sqlite":
		return sqlite.Open(cfg.URL)
	default:
		return nil, fmt.Errorf("database driver %q has no migrations", cfg.Driver)
	}
}

// NewQueue builds the configured queue. The postgres queue shares the
// store's connection pool.
func NewQueue(cfg *config.Config, st store.Store, log zerolog.Logger) (jobs.Queue, error) {
	policy := jobs.RetryPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
		Multiplier:     cfg.Retry.Multiplier,
	}
	observer := jobs.NewLogObserver(log)

	switch cfg.Queue.Driver {
	case "memory":
		return inmemory.NewQueue(inmemory.Options{
			Name:     cfg.Queue.Name,
			Buffer:   cfg.Queue.Buffer,
			Workers:  cfg.Queue.Workers,
			Policy:   policy,
			Observer: observer,
			Log:      log,
		}), nil
	case "postgres":
		pg, ok := st.(*postgres.Store)
		if !ok {
			return nil, fmt.Errorf("queue driver postgres needs the postgres store, got %T", st)
		}
		return pgqueue.New(pg.Pool(), pgqueue.Options{
			Name:              cfg.Queue.Name,
			Workers:           cfg.Queue.Workers,
			PollInterval:      cfg.Queue.PollInterval,
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
			Policy:            policy,
			Observer:          observer,
			Log:               log,
		}), nil
	default:
		return nil, fmt.Errorf("unknown queue driver: %s", cfg.Queue.Driver)
	}
}

// AppliedBy identifies this process in the migration history.
func AppliedBy() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s@%s", os.Getenv("USER"), host)
}
