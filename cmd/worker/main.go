package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/ledger-ingest/internal/app"
	"github.com/dvloznov/ledger-ingest/internal/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	workers    int
)

var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued statement ingestion jobs",
	RunE:  runWorker,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to config file (default: ./config.yaml)")
	rootCmd.Flags().IntVar(&workers, "workers", 0, "Concurrent jobs (overrides queue.workers)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if workers > 0 {
		cfg.Queue.Workers = workers
	}

	log := app.NewLogger(cfg.Log)
	if cfg.Queue.Driver == "memory" {
		log.Warn().Msg("Memory queue only sees jobs submitted by this process; use queue.driver=postgres for a standalone worker")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to release resources")
		}
	}()

	log.Info().
		Str("queue", cfg.Queue.Name).
		Str("driver", cfg.Queue.Driver).
		Int("workers", cfg.Queue.Workers).
		Msg("Starting worker service")

	if err := a.Worker().Run(ctx); err != nil {
		return err
	}
	log.Info().Msg("Worker stopped")
	return nil
}
