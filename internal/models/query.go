package models

import (
	"fmt"
	"strings"
)

// RecallQuery asks for the memories most similar to Text.
type RecallQuery struct {
	Text            string  `json:"text"`
	Limit           int     `json:"limit,omitempty"`
	SessionID       string  `json:"session_id,omitempty"`
	KeywordEnabled  bool    `json:"keyword_enabled,omitempty"`
	SemanticEnabled bool    `json:"semantic_enabled,omitempty"`
	FuzzyEnabled    bool    `json:"fuzzy_enabled,omitempty"`
	MinScore        float64 `json:"min_score,omitempty"`
}

// Validate rejects an empty query and normalizes the rest: limit defaults to
// defaultLimit and is capped at maxLimit; with neither mode set, both are enabled.
func (q *RecallQuery) Validate(defaultLimit, maxLimit int) error {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if maxLimit > 0 && q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if !q.KeywordEnabled && !q.SemanticEnabled {
		q.KeywordEnabled = true
		q.SemanticEnabled = true
	}
	return nil
}
