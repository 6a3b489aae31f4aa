// Package main is the abio CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/abio/internal/cli"
	"github.com/hyperjump/abio/internal/config"
	"github.com/hyperjump/abio/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/abio/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "abio",
		Short: "abio - conversational memory for local agents",
		Long: `abio remembers conversation turns and recalls the ones most similar to a query.

Turns are kept in a session log (SQLite) and indexed for exact nearest-neighbour
search over their embeddings, combined with keyword search.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("json", false, "output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRememberCmd(),
		newRecallCmd(),
		newHistoryCmd(),
		newSessionCmd(),
		newStatusCmd(),
		newReindexCmd(),
		newResetCmd(),
		newServeCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if outputFormat(cmd) == cli.OutputJSON {
				return cli.WriteJSON(cmd.OutOrStdout(), map[string]string{"version": version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "abio version %s\n", version)
			return nil
		},
	}
}

// setup loads the config selected by --config and builds the logger.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	debugFlag, _ := cmd.Flags().GetBool("debug")
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return cfg, logger, nil
}

func outputFormat(cmd *cobra.Command) cli.OutputFormat {
	jsonOut, _ := cmd.Flags().GetBool("json")
	return cli.ParseOutputFormat(jsonOut)
}
