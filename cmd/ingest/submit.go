package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/ledger-ingest/internal/app"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/intake"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit FILE|gs://BUCKET/OBJECT",
	Short: "Enqueue a statement for a worker to ingest",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

var runCmd = &cobra.Command{
	Use:   "run FILE|gs://BUCKET/OBJECT",
	Short: "Ingest a statement in this process and wait for the result",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

var (
	submitAccountID  string
	submitSourceKind string
	runTimeout       time.Duration
)

func init() {
	for _, c := range []*cobra.Command{submitCmd, runCmd} {
		c.Flags().StringVar(&submitAccountID, "account", "", "Target account ID (required)")
		c.Flags().StringVar(&submitSourceKind, "kind", "", "Source kind: csv or pdf (default: detect from file name)")
		_ = c.MarkFlagRequired("account")
		rootCmd.AddCommand(c)
	}
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 5*time.Minute, "Give up after this long")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := submit(ctx, a, args[0])
	if err != nil {
		return err
	}
	return printJSON(job)
}

// runRun submits the statement and processes the job directly instead of
// waiting for a worker. A worker that receives the queued copy finds the
// job terminal and acknowledges it.
func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := submit(ctx, a, args[0])
	if err != nil {
		return err
	}
	a.Log.Info().Str("job_id", job.ID).Str("file_url", job.FileURL).Msg("Starting ingestion")

	_, runErr := a.Machine.Process(ctx, job.ID)

	stored, err := a.Store.GetJob(context.WithoutCancel(ctx), job.ID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", job.ID, err)
	}
	if err := printJSON(stored); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("ingestion failed: %s", domain.UserMessage(runErr))
	}
	return nil
}

func submit(ctx context.Context, a *app.App, src string) (*domain.IngestionJob, error) {
	if strings.HasPrefix(src, "gs://") {
		return a.Intake.SubmitReference(ctx, intake.Reference{
			AccountID:  submitAccountID,
			FileURL:    src,
			SourceKind: submitSourceKind,
		})
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src, err)
	}
	return a.Intake.Submit(ctx, intake.Upload{
		AccountID:   submitAccountID,
		Filename:    filepath.Base(src),
		ContentType: http.DetectContentType(data),
		SourceKind:  submitSourceKind,
		Data:        data,
	})
}
