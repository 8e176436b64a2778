package main

import (
	"fmt"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/store"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status JOB_ID",
	Short: "Show an ingestion job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		job, err := a.Store.GetJob(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get job %s: %w", args[0], err)
		}
		return printJSON(job)
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List ingestion jobs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJobs,
}

var (
	jobsAccountID string
	jobsStatus    string
	jobsLimit     int
)

func init() {
	jobsCmd.Flags().StringVar(&jobsAccountID, "account", "", "Only jobs for this account")
	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "Only jobs in this status (pending, processing, completed, failed)")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum number of jobs")

	rootCmd.AddCommand(statusCmd, jobsCmd)
}

func runJobs(cmd *cobra.Command, _ []string) error {
	filter := store.JobFilter{AccountID: jobsAccountID, Limit: jobsLimit}
	if jobsStatus != "" {
		status, err := domain.ParseJobStatus(jobsStatus)
		if err != nil {
			return err
		}
		filter.Status = status
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.Store.ListJobs(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	return printJSON(list)
}
