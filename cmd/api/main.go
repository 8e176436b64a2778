package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/ledger-ingest/internal/api"
	"github.com/dvloznov/ledger-ingest/internal/api/handlers"
	"github.com/dvloznov/ledger-ingest/internal/app"
	"github.com/dvloznov/ledger-ingest/internal/config"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	configPath string
	port       string
	noWorker   bool
)

var rootCmd = &cobra.Command{
	Use:   "api",
	Short: "Statement ingestion HTTP API",
	Long:  "Accepts bank statement uploads, records ingestion jobs and reports their status. By default it also runs a worker in-process.",
	RunE:  runAPI,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to config file (default: ./config.yaml)")
	rootCmd.Flags().StringVar(&port, "port", "", "HTTP server port (overrides api.port)")
	rootCmd.Flags().BoolVar(&noWorker, "no-worker", false, "Do not process jobs in this process")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAPI(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port != "" {
		cfg.API.Port = port
	}
	if noWorker {
		cfg.API.EmbeddedWorker = false
	}

	log := app.NewLogger(cfg.Log)

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

	router := api.NewRouter(api.Handlers{
		Ingestions:   handlers.NewIngestionsHandler(a.Intake, a.Store, cfg.Ingest.MaxFileBytes, log),
		Transactions: handlers.NewTransactionsHandler(a.Store, log),
		Health:       handlers.NewHealthHandler(a.Store),
	}, log)

	server := &http.Server{
		Addr:         ":" + cfg.API.Port,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("port", cfg.API.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	if cfg.API.EmbeddedWorker {
		g.Go(func() error {
			return a.Worker().Run(gctx)
		})
	} else {
		log.Info().Msg("Embedded worker disabled, jobs are processed by a separate worker")
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Server exited")
	return nil
}
