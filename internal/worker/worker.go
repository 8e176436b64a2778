// Package worker runs a queue consumer until its context ends, then drains
// in-flight jobs.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/ledger-ingest/internal/jobs"
	"github.com/rs/zerolog"
)

// DefaultShutdownTimeout bounds how long Run waits for in-flight jobs.
const DefaultShutdownTimeout = 30 * time.Second

// Runtime owns the lifecycle of one consumer.
type Runtime struct {
	consumer        jobs.Consumer
	handler         jobs.Handler
	shutdownTimeout time.Duration
	log             zerolog.Logger
}

// New creates a Runtime. shutdownTimeout <= 0 uses DefaultShutdownTimeout.
func New(consumer jobs.Consumer, handler jobs.Handler, shutdownTimeout time.Duration, log zerolog.Logger) *Runtime {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Runtime{
		consumer:        consumer,
		handler:         handler,
		shutdownTimeout: shutdownTimeout,
		log:             log,
	}
}

// Run starts consuming and blocks until ctx is done. Jobs already running
// are not cancelled; Run waits up to the shutdown timeout for them.
func (r *Runtime) Run(ctx context.Context) error {
	// Handlers must not see ctx's cancellation: a job is never abandoned
	// midway, Stop waits for it instead.
	if err := r.consumer.Start(context.WithoutCancel(ctx), r.handler); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	r.log.Info().Msg("Worker started, waiting for jobs")

	<-ctx.Done()
	r.log.Info().Dur("timeout", r.shutdownTimeout).Msg("Shutting down worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout)
	defer cancel()
	if err := r.consumer.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stop consumer: %w", err)
	}

	r.log.Info().Msg("Worker stopped")
	return nil
}
