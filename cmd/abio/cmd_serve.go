package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/abio/internal/config"
	"github.com/hyperjump/abio/internal/server"
	"github.com/hyperjump/abio/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the memory API over HTTP",
		Long: `Serve the memory API over HTTP.

Routes live under /api/v1 (sessions, turns, history, recall, status); /health
and, when metrics are enabled, /metrics sit at the root. With --watch (or
server.watch in the config) the context and recall sections are reloaded when
the config file changes.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("host", "", "listen host (default from config)")
	cmd.Flags().Int("port", 0, "listen port (default from config)")
	cmd.Flags().Bool("watch", false, "reload config on change")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		cfg.Server.Watch = true
	}

	ctx := cmd.Context()
	components, err := initializeComponents(ctx, cfg, logger, componentOptions{loadIndex: true})
	if err != nil {
		return err
	}
	defer components.Close()

	var opts []server.Option
	if components.Registry != nil {
		opts = append(opts, server.WithRegistry(components.Registry))
	}
	srv := server.NewServer(components.Engine, components.Storage, cfg, logger, opts...)

	if cfg.Server.Watch {
		configPath, _ := cmd.Flags().GetString("config")
		_, resolved, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to resolve config path: %w", err)
		}
		w := watcher.NewWatcher([]string{resolved}, func(path string) {
			reloadConfig(srv, path, logger)
		}, watcher.WithLogger(logger))
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
		defer w.Stop()
		logger.Info("watching config for changes", zap.String("path", resolved))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	return components.SaveIndex()
}

// reloadConfig applies the config at path to srv. An invalid file is logged and
// the running config is kept.
func reloadConfig(srv *server.Server, path string, logger *zap.Logger) {
	next, err := config.Load(path)
	if err != nil {
		logger.Warn("config reload skipped", zap.String("path", path), zap.Error(err))
		return
	}
	srv.UpdateConfig(next)
}
