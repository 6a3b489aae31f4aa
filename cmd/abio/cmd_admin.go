package main

import (
	"fmt"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/hyperjump/abio/internal/cli"
	"github.com/hyperjump/abio/internal/models"
	"github.com/hyperjump/abio/internal/storage"
	"github.com/hyperjump/abio/internal/vector"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage conversation sessions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "new [name]",
			Short: "Create a session and print its ID",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runSessionNew,
		},
		&cobra.Command{
			Use:   "list",
			Short: "List sessions, newest first",
			Args:  cobra.NoArgs,
			RunE:  runSessionList,
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a session, its turns and their memories",
			Args:  cobra.ExactArgs(1),
			RunE:  runSessionDelete,
		},
	)
	return cmd
}

func runSessionNew(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	components, err := initializeComponents(cmd.Context(), cfg, logger, componentOptions{})
	if err != nil {
		return err
	}
	defer components.Close()

	name := cli.JoinArgs(args)
	sess, err := components.Storage.CreateSession(cmd.Context(), name)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if outputFormat(cmd) == cli.OutputJSON {
		return cli.WriteJSON(cmd.OutOrStdout(), sess)
	}
	fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
	return nil
}

func runSessionList(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	components, err := initializeComponents(cmd.Context(), cfg, logger, componentOptions{})
	if err != nil {
		return err
	}
	defer components.Close()

	sessions, err := components.Storage.ListSessions(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	return cli.WriteSessions(cmd.OutOrStdout(), sessions, outputFormat(cmd))
}

func runSessionDelete(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	components, err := initializeComponents(ctx, cfg, logger, componentOptions{})
	if err != nil {
		return err
	}
	defer components.Close()

	if err := components.Storage.DeleteSession(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", args[0], err)
	}
	turns, err := components.Storage.ListAllTurns(ctx)
	if err != nil {
		return fmt.Errorf("failed to list turns: %w", err)
	}
	if _, err := components.Engine.Reindex(ctx, turns); err != nil {
		return fmt.Errorf("session deleted but index not rebuilt (run abio reindex): %w", err)
	}
	if err := components.SaveIndex(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session deleted: %s\n", args[0])
	return nil
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show storage and index status",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
	cmd.Flags().Bool("metrics", false, "print Prometheus metrics in text exposition format")
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	showMetrics, _ := cmd.Flags().GetBool("metrics")
	components, err := initializeComponents(ctx, cfg, logger, componentOptions{loadIndex: true, metrics: showMetrics})
	if err != nil {
		return err
	}
	defer components.Close()

	if showMetrics {
		families, err := components.Registry.Gather()
		if err != nil {
			return fmt.Errorf("failed to gather metrics: %w", err)
		}
		enc := expfmt.NewEncoder(cmd.OutOrStdout(), expfmt.NewFormat(expfmt.TypeTextPlain))
		for _, mf := range families {
			if err := enc.Encode(mf); err != nil {
				return fmt.Errorf("failed to encode metrics: %w", err)
			}
		}
		return nil
	}

	status := &models.Status{
		IndexSize:      components.Engine.Size(),
		IndexDimension: components.Engine.Dimension(),
		Provider:       cfg.Embedding.Provider,
		DatabasePath:   cfg.Storage.DatabasePath,
		IndexPath:      cfg.Storage.IndexPath,
	}
	if status.Sessions, err = components.Storage.CountSessions(ctx); err != nil {
		return fmt.Errorf("failed to count sessions: %w", err)
	}
	if status.Turns, err = components.Storage.CountTurns(ctx); err != nil {
		return fmt.Errorf("failed to count turns: %w", err)
	}
	usage, err := storage.DiskUsageBytes(
		cfg.Storage.DatabasePath,
		cfg.Storage.IndexPath,
		cfg.Storage.IndexPath+vector.PayloadSuffix,
	)
	if err == nil {
		status.DiskUsageBytes = &usage
	}
	return cli.WriteStatus(cmd.OutOrStdout(), status, outputFormat(cmd))
}

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the memory index from the session log",
		Long: `Rebuild the memory index from the session log.

Use after changing the embedding provider or dimensions, or when the saved
index is missing or corrupt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			components, err := initializeComponents(ctx, cfg, logger, componentOptions{})
			if err != nil {
				return err
			}
			defer components.Close()

			turns, err := components.Storage.ListAllTurns(ctx)
			if err != nil {
				return fmt.Errorf("failed to list turns: %w", err)
			}
			n, err := components.Engine.Reindex(ctx, turns)
			if err != nil {
				return fmt.Errorf("reindex failed: %w", err)
			}
			if err := components.SaveIndex(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reindexed %d turns into %d memories\n", len(turns), n)
			return nil
		},
	}
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the memory index (the session log is kept)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			components, err := initializeComponents(cmd.Context(), cfg, logger, componentOptions{})
			if err != nil {
				return err
			}
			defer components.Close()

			if err := components.Engine.Reset(); err != nil {
				return err
			}
			if err := components.SaveIndex(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Memory index cleared; run abio reindex to rebuild it from the session log")
			return nil
		},
	}
}
