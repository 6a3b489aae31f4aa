// Package cli provides output helpers for the abio command line.
package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/hyperjump/abio/internal/history"
	"github.com/hyperjump/abio/internal/models"
	"github.com/hyperjump/abio/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat maps the --json flag to a format.
func ParseOutputFormat(jsonOut bool) OutputFormat {
	if jsonOut {
		return OutputJSON
	}
	return OutputText
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteRecallResults writes recall hits to w in the given format.
func WriteRecallResults(w io.Writer, response *models.RecallResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d memories in %dms (showing %d)\n\n", response.Total, response.QueryTime, len(response.Hits))
	for _, hit := range response.Hits {
		writeOneHit(w, hit)
	}
	return nil
}

func writeOneHit(w io.Writer, hit *models.Hit) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f (Keyword: %.4f, Semantic: %.4f)", hit.Rank, hit.Score, hit.KeywordScore, hit.SemanticScore)
	if hit.Distance >= 0 {
		fmt.Fprintf(w, " | Distance: %.4f", hit.Distance)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Session: %s | Turn: %s | Role: %s\n", hit.Memory.SessionID, hit.Memory.TurnID, hit.Memory.Role)
	fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(hit.Memory.Content, 200))
}

// WriteTurns writes conversation turns, oldest first.
func WriteTurns(w io.Writer, turns []history.Turn, format OutputFormat) error {
	if format == OutputJSON {
		if turns == nil {
			turns = []history.Turn{}
		}
		return WriteJSON(w, turns)
	}
	for _, t := range turns {
		stamp := ""
		if !t.Timestamp.IsZero() {
			stamp = t.Timestamp.Local().Format(time.DateTime) + " "
		}
		fmt.Fprintf(w, "%s[%s] %s\n", stamp, t.Role, t.Content)
	}
	return nil
}

// WriteSessions writes a session listing.
func WriteSessions(w io.Writer, sessions []*models.Session, format OutputFormat) error {
	if format == OutputJSON {
		if sessions == nil {
			sessions = []*models.Session{}
		}
		return WriteJSON(w, sessions)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions.")
		return nil
	}
	for _, s := range sessions {
		name := s.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%s  %s  %s\n", s.ID, s.CreatedAt.Local().Format(time.DateTime), name)
	}
	return nil
}

// WriteStatus writes s in the given format.
func WriteStatus(w io.Writer, s *models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, s)
	}
	fmt.Fprintf(w, "Sessions:        %d\n", s.Sessions)
	fmt.Fprintf(w, "Turns:           %d\n", s.Turns)
	fmt.Fprintf(w, "Index size:      %d\n", s.IndexSize)
	fmt.Fprintf(w, "Index dimension: %d\n", s.IndexDimension)
	fmt.Fprintf(w, "Embedding:       %s\n", s.Provider)
	fmt.Fprintf(w, "Database:        %s\n", s.DatabasePath)
	fmt.Fprintf(w, "Index:           %s\n", s.IndexPath)
	if s.DiskUsageBytes != nil {
		fmt.Fprintf(w, "Disk usage:      %s\n", FormatBytes(*s.DiskUsageBytes))
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// JoinArgs joins positional args with spaces so multi-word input works the same
// with or without shell quoting.
func JoinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
