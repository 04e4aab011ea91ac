// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/census/internal/config"
	"github.com/xkilldash9x/census/internal/observability"
)

// NewRootCmd builds the command tree around v. Each call gets its own
// viper instance so commands can be exercised in isolation.
func NewRootCmd(v *viper.Viper) *cobra.Command {
	var (
		cfgFile string
		envFile string
	)

	rootCmd := &cobra.Command{
		Use:           "census",
		Short:         "Census harvests an account's follower directory and the follower count of every entry.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// 1. Pull credentials from the env file before viper reads the environment.
			if err := config.LoadEnvFile(envFile, cmd.Flags().Changed("env-file")); err != nil {
				return err
			}

			// 2. Initialize configuration loading (Viper)
			if err := initializeConfig(v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			// 3. Unmarshal the configuration
			cfg, err := config.NewFromViper(v)
			if err != nil {
				return err
			}

			// 4. Store the configuration globally
			config.Set(cfg)

			// 5. Initialize the logger
			logger := observability.InitializeLogger(cfg.Logger)
			logger.Debug("Starting census", zap.String("version", Version), zap.String("command", cmd.Name()))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file of KEY=VALUE pairs loaded into the environment")

	rootCmd.AddCommand(newHarvestCmd(v))
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the CLI. It accepts a context passed from main.go for graceful shutdown.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCmd(viper.New())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Avoid logging context errors as failures, they are expected
		// during graceful shutdown.
		if ctx.Err() == nil || !errors.Is(err, ctx.Err()) {
			observability.GetLogger().Error("Command execution failed", zap.Error(err))
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}

// initializeConfig reads in config file and ENV variables if set.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	// Set default values so the app can run with a minimal config.
	config.SetDefaults(v)

	// 1. Set up config file search paths
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// 2. Environment Variable Configuration
	config.BindEnvironment(v)

	// 3. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine; an explicit one must exist.
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}
