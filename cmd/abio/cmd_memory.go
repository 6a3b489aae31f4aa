package main

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/abio/internal/cli"
	"github.com/hyperjump/abio/internal/history"
	"github.com/hyperjump/abio/internal/models"
)

// rememberResult is the JSON output of the remember command.
type rememberResult struct {
	SessionID string   `json:"session_id"`
	TurnIDs   []string `json:"turn_ids"`
	Memories  int      `json:"memories"`
}

func newRememberCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remember [flags] <text>",
		Short: "Append a turn to a session and index it",
		Long: `Append a turn to a session and index it for recall.

The text is all remaining arguments joined by spaces. Use --file to import a JSON
array of turns ({"role": "...", "content": "..."}) instead.
Without --session a new session is created and its ID printed.`,
		Example: `  abio remember --session 3f2a... "the deploy failed on friday"
  abio remember --role assistant --session 3f2a... "I'll look into it"
  abio remember --file conversation.json`,
		RunE: runRemember,
	}
	cmd.Flags().String("session", "", "session ID (default: create a new session)")
	cmd.Flags().String("name", "", "name for a newly created session")
	cmd.Flags().String("role", string(history.RoleUser), "turn role: user, assistant or system")
	cmd.Flags().Int("tokens", -1, "token count of the turn (default: estimated)")
	cmd.Flags().String("file", "", "JSON file with an array of turns to import")
	return cmd
}

func runRemember(cmd *cobra.Command, args []string) error {
	turns, err := turnsFromInput(cmd, args)
	if err != nil {
		return err
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	components, err := initializeComponents(ctx, cfg, logger, componentOptions{loadIndex: true})
	if err != nil {
		return err
	}
	defer components.Close()

	sessionID, _ := cmd.Flags().GetString("session")
	if sessionID == "" {
		name, _ := cmd.Flags().GetString("name")
		sess, err := components.Storage.CreateSession(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		sessionID = sess.ID
	}

	stored, err := components.Storage.AppendTurns(ctx, sessionID, turns)
	if err != nil {
		return fmt.Errorf("failed to store turns: %w", err)
	}
	memories, err := components.Engine.Remember(ctx, stored...)
	if err != nil {
		return fmt.Errorf("turns stored but not indexed (run abio reindex): %w", err)
	}
	if err := components.SaveIndex(); err != nil {
		return err
	}

	result := rememberResult{SessionID: sessionID, Memories: len(memories)}
	for _, t := range stored {
		result.TurnIDs = append(result.TurnIDs, t.ID)
	}
	logger.Debug("remember complete", zap.String("session_id", sessionID), zap.Int("turns", len(stored)))
	if outputFormat(cmd) == cli.OutputJSON {
		return cli.WriteJSON(cmd.OutOrStdout(), result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Remembered %d turn(s) in session %s (%d memories)\n", len(stored), sessionID, len(memories))
	return nil
}

// turnsFromInput builds turns from --file or from the positional text and --role/--tokens.
func turnsFromInput(cmd *cobra.Command, args []string) ([]history.Turn, error) {
	now := time.Now().UTC()
	if path, _ := cmd.Flags().GetString("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		var turns []history.Turn
		if err := json.Unmarshal(data, &turns); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if len(turns) == 0 {
			return nil, fmt.Errorf("%s contains no turns", path)
		}
		for i := range turns {
			if turns[i].Timestamp.IsZero() {
				turns[i].Timestamp = now
			}
			if err := turns[i].Validate(); err != nil {
				return nil, fmt.Errorf("turn %d: %w", i, err)
			}
		}
		return turns, nil
	}

	content := cli.JoinArgs(args)
	if content == "" {
		return nil, fmt.Errorf("nothing to remember: pass the turn text or --file")
	}
	roleStr, _ := cmd.Flags().GetString("role")
	role, err := history.ParseRole(roleStr)
	if err != nil {
		return nil, err
	}
	turn := history.Turn{Role: role, Content: content, Timestamp: now}
	if tokens, _ := cmd.Flags().GetInt("tokens"); tokens >= 0 {
		turn.TokenCount = &tokens
	}
	return []history.Turn{turn}, nil
}

func newRecallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recall [flags] <query>",
		Short: "Recall the memories most similar to a query",
		Long: `Recall the memories most similar to a query.

The query is all remaining arguments joined by spaces. By default keyword and
semantic scores are fused; --semantic alone keeps the similarity index order.
When a keyword search finds nothing, it is retried with typo tolerance.`,
		Example: `  abio recall deploy friday
  abio recall --k 10 --session 3f2a... "what did we decide"
  abio recall --semantic --json "lunch plans"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRecall,
	}
	cmd.Flags().Int("k", 0, "number of memories to return (default from config)")
	cmd.Flags().String("session", "", "only recall memories from this session")
	cmd.Flags().Bool("fuzzy", false, "enable fuzzy matching for typo tolerance")
	cmd.Flags().Bool("keyword", false, "keyword search only")
	cmd.Flags().Bool("semantic", false, "semantic search only")
	cmd.Flags().Float64("min-score", 0, "minimum fused score")
	return cmd
}

func runRecall(cmd *cobra.Command, args []string) error {
	text := cli.JoinArgs(args)
	if text == "" {
		return fmt.Errorf("query cannot be empty")
	}
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	components, err := initializeComponents(ctx, cfg, logger, componentOptions{loadIndex: true})
	if err != nil {
		return err
	}
	defer components.Close()

	k, _ := cmd.Flags().GetInt("k")
	sessionID, _ := cmd.Flags().GetString("session")
	fuzzy, _ := cmd.Flags().GetBool("fuzzy")
	keywordOnly, _ := cmd.Flags().GetBool("keyword")
	semanticOnly, _ := cmd.Flags().GetBool("semantic")
	minScore, _ := cmd.Flags().GetFloat64("min-score")

	query := &models.RecallQuery{
		Text:            text,
		Limit:           k,
		SessionID:       sessionID,
		KeywordEnabled:  keywordOnly,
		SemanticEnabled: semanticOnly,
		FuzzyEnabled:    fuzzy,
		MinScore:        minScore,
	}
	response, err := components.Engine.RecallWithFallback(ctx, query)
	if err != nil {
		return fmt.Errorf("recall failed: %w", err)
	}
	return cli.WriteRecallResults(cmd.OutOrStdout(), response, outputFormat(cmd))
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the recent conversation context of a session",
		Long: `Show the recent conversation context of a session.

The context is bounded by context.message_limit and starts from
context.context_messages followed by the session's stored turns, oldest first.`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}
	cmd.Flags().String("session", "", "session ID (default: context messages only)")
	cmd.Flags().IntP("count", "n", 0, "number of recent turns to show (default: all retained)")
	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
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

	seed := append([]history.Turn(nil), cfg.Context.ContextMessages...)
	if sessionID, _ := cmd.Flags().GetString("session"); sessionID != "" {
		if _, err := components.Storage.GetSession(ctx, sessionID); err != nil {
			return err
		}
		stored, err := components.Storage.ListTurns(ctx, sessionID, cfg.Context.MessageLimit)
		if err != nil {
			return fmt.Errorf("failed to list turns: %w", err)
		}
		for _, t := range stored {
			seed = append(seed, t.Turn)
		}
	}

	h, err := history.New(cfg.Context.MessageLimit, seed, history.WithLogger(logger))
	if err != nil {
		return err
	}
	turns := h.All()
	if n, _ := cmd.Flags().GetInt("count"); n > 0 {
		if turns, err = h.Recent(n); err != nil {
			return err
		}
	}
	format := outputFormat(cmd)
	if err := cli.WriteTurns(cmd.OutOrStdout(), turns, format); err != nil {
		return err
	}
	if format == cli.OutputText {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d turns retained, ~%d tokens\n", len(turns), h.Len(), h.EstimateTokens())
	}
	return nil
}
