// File: cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/diligence-cli/internal/config"
	"github.com/xkilldash9x/diligence-cli/internal/observability"
)

var (
	cfgFile string

	// appConfig is populated once by the root PersistentPreRunE and read by
	// every subcommand.
	appConfig *config.Config
)

// NewRootCommand builds the command tree. Each invocation returns a fresh
// tree so tests never leak flag state into each other.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "diligence-cli",
		Short:   "diligence-cli drives the due-diligence analysis agents.",
		Long:    "diligence-cli invokes the remote due-diligence analysis agents, tracks their progress, and consolidates their findings into a single report.",
		Version: Version,
		// Usage output on runtime errors buries the actual failure.
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initializeConfig(); err != nil {
				return err
			}
			if err := viper.BindPFlag("transport.base_url", cmd.Root().PersistentFlags().Lookup("endpoint")); err != nil {
				return err
			}

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "diligence-cli"})
				return err
			}
			appConfig = cfg

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting diligence-cli", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml, then ~/.diligence/config.yaml)")
	rootCmd.PersistentFlags().String("endpoint", "", "base URL of the analysis endpoint (overrides config/env)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newAnalyzeCmd(),
		newAskCmd(),
		newInvokeCmd(),
		newAgentsCmd(),
		newUploadCmd(),
		newServeCmd(),
	)
	return rootCmd
}

// Execute runs the command tree under a signal-aware context.
func Execute(ctx context.Context) error {
	defer observability.Sync()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return err
	}
	return nil
}

// initializeConfig reads the config file and environment variables.
func initializeConfig() error {
	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".diligence"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("DILIGENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; defaults and env vars carry the run.
	}
	return nil
}
