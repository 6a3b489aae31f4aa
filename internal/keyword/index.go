// Package keyword provides a full-text index over remembered turns.
package keyword

import (
	"context"

	"github.com/hyperjump/abio/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// FuzzyEnabled matches terms within Fuzziness edits for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance (1 or 2). Default 2.
	Fuzziness int
	// SessionID restricts results to one session when set.
	SessionID string
}

// KeywordIndex defines keyword search operations.
type KeywordIndex interface {
	Index(ctx context.Context, m *models.Memory) error
	IndexBatch(ctx context.Context, memories []models.Memory) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, id string) error
	Reset() error
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit; ID is the memory ID.
type KeywordResult struct {
	ID    string
	Score float64
}
