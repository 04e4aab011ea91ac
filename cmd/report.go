// cmd/report.go
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/census/api/schemas"
	"github.com/xkilldash9x/census/internal/config"
	"github.com/xkilldash9x/census/internal/observability"
	"github.com/xkilldash9x/census/internal/results"
)

func newReportCmd() *cobra.Command {
	var (
		file   string
		runID  string
		format string
	)

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Render a completed harvest",
		Long: `Loads a finished run either from the JSON file a harvest wrote or from
PostgreSQL by run ID, then prints it as a text report with the first-digit
summary, as CSV, or as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == (runID == "") {
				return errors.New("exactly one of --file or --run-id must be provided")
			}

			ctx := cmd.Context()
			logger := observability.GetLogger()

			var (
				summary *schemas.RunSummary
				err     error
			)
			if file != "" {
				summary, err = results.LoadSummary(file)
			} else {
				// Get the configuration initialized by the root command
				cfg := config.Get()
				if cfg.Postgres.URL == "" {
					return errors.New("--run-id needs postgres.url (hint: check CENSUS_DATABASE_URL)")
				}
				dbPool, st, connErr := connectStore(ctx, cfg.Postgres.URL, logger)
				if connErr != nil {
					return connErr
				}
				defer dbPool.Close()
				summary, err = st.LoadRun(ctx, runID)
			}
			if err != nil {
				logger.Error("Failed to load run", zap.Error(err), zap.String("file", file), zap.String("run_id", runID))
				return err
			}

			return renderSummary(cmd.OutOrStdout(), summary, format)
		},
	}

	reportCmd.Flags().StringVarP(&file, "file", "f", "", "run JSON written by a harvest")
	reportCmd.Flags().StringVar(&runID, "run-id", "", "ID of a run stored in PostgreSQL")
	reportCmd.Flags().StringVar(&format, "format", "text", "output format: text, csv or json")
	return reportCmd
}

func renderSummary(w io.Writer, summary *schemas.RunSummary, format string) error {
	switch format {
	case "text":
		return results.WriteText(w, summary)
	case "csv":
		return results.WriteCSV(w, summary)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return fmt.Errorf("failed to serialize run to JSON: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q (want text, csv or json)", format)
	}
}
