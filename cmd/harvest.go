package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/census/internal/config"
	"github.com/xkilldash9x/census/internal/observability"
	"github.com/xkilldash9x/census/internal/results"
)

func newHarvestCmd(v *viper.Viper) *cobra.Command {
	var dryRun bool

	harvestCmd := &cobra.Command{
		Use:   "harvest [owner]",
		Short: "Collect a follower directory and the follower count of every entry",
		Long: `Logs in, walks the owner's followers (or following) directory until the
requested number of handles is collected, then visits every collected profile
with a pool of browser tabs to read its follower count. Results are written as
CSV, a text report and JSON under run.output_dir, and to PostgreSQL when
postgres.url is set.

Credentials are read from CENSUS_USERNAME and CENSUS_PASSWORD.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := config.Get()
			if len(args) == 1 {
				cfg.Target.Owner = strings.TrimSpace(args[0])
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			creds, err := cfg.Credentials()
			if err != nil {
				return err
			}

			if dryRun {
				logger.Info("Configuration is valid",
					zap.String("owner", cfg.Target.Owner),
					zap.String("directory", cfg.Target.Directory),
					zap.Int("count", cfg.Target.Count),
					zap.Int("workers", cfg.Pool.Workers))
				fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
				return nil
			}

			components, err := newComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			summary, runErr := components.Engine.Run(ctx, creds)
			if summary != nil {
				if err := results.WriteText(cmd.OutOrStdout(), summary); err != nil {
					logger.Warn("Failed to print report", zap.Error(err))
				}
			}
			if runErr != nil {
				// An interrupted run still produced results, so it is not a failure.
				if summary != nil && (errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)) {
					logger.Warn("Harvest interrupted, partial results written", zap.Error(runErr))
					return nil
				}
				return runErr
			}
			return nil
		},
	}

	flags := harvestCmd.Flags()
	flags.String("owner", "", "account whose directory is harvested")
	flags.String("directory", "", "directory to walk: followers or following")
	flags.Int("count", 0, "number of handles to collect")
	flags.Int("workers", 0, "number of concurrent profile fetchers")
	flags.Duration("deadline", 0, "overall run deadline (0 for none)")
	flags.String("output-dir", "", "directory for result files")
	flags.Bool("cookie-dump", false, "save the exported session cookies next to the results")
	flags.BoolVar(&dryRun, "dry-run", false, "validate configuration and credentials, then exit")

	for key, flag := range map[string]string{
		"target.owner":     "owner",
		"target.directory": "directory",
		"target.count":     "count",
		"pool.workers":     "workers",
		"run.deadline":     "deadline",
		"run.output_dir":   "output-dir",
		"run.cookie_dump":  "cookie-dump",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	return harvestCmd
}
