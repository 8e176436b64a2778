package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dvloznov/ledger-ingest/internal/app"
	"github.com/dvloznov/ledger-ingest/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	driver      string
	databaseURL string
	appliedBy   string
	statusOnly  bool
)

var rootCmd = &cobra.Command{
	Use:          "migrate",
	Short:        "Apply pending schema migrations",
	Long:         "Applies the embedded SQL migrations for the configured postgres or sqlite database and records them in schema_migrations.",
	SilenceUsage: true,
	RunE:         runMigrate,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to config file (default: ./config.yaml)")
	rootCmd.Flags().StringVar(&driver, "driver", "", "Database driver: postgres or sqlite (overrides database.driver)")
	rootCmd.Flags().StringVar(&databaseURL, "url", "", "Database URL or sqlite path (overrides database.url)")
	rootCmd.Flags().StringVar(&appliedBy, "applied-by", "", "Name recorded with each migration (default: USER@hostname)")
	rootCmd.Flags().BoolVar(&statusOnly, "status", false, "List applied migrations without applying anything")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db := cfg.Database
	if driver != "" {
		db.Driver = driver
	}
	if databaseURL != "" {
		db.URL = databaseURL
	}
	if appliedBy == "" {
		appliedBy = app.AppliedBy()
	}

	log := app.NewLogger(cfg.Log)
	return run(cmd.Context(), db, appliedBy, statusOnly, cmd.OutOrStdout(), log)
}

func run(ctx context.Context, db config.DatabaseConfig, appliedBy string, statusOnly bool, out io.Writer, log zerolog.Logger) error {
	m, err := app.OpenMigrator(ctx, db)
	if err != nil {
		return err
	}
	defer m.Close()

	log.Info().Str("driver", db.Driver).Msg("Connected to database")

	if statusOnly {
		if err := m.EnsureTable(ctx); err != nil {
			return fmt.Errorf("ensure schema_migrations table: %w", err)
		}
	} else {
		count, err := m.Migrate(ctx, appliedBy, log)
		if err != nil {
			return err
		}
		if count == 0 {
			log.Info().Msg("No new migrations to apply. Database is up to date.")
		} else {
			log.Info().Msgf("Successfully applied %d migration(s)", count)
		}
	}

	applied, err := m.Applied(ctx)
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED AT\tAPPLIED BY")
	for _, am := range applied {
		fmt.Fprintf(w, "%04d\t%s\t%s\t%s\n", am.Version, am.Name, am.AppliedAt.Format("2006-01-02 15:04:05"), am.AppliedBy)
	}
	return w.Flush()
}
