// Package embedding turns text into fixed-length vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEncodingFailure is returned when an embedder cannot produce vectors for a batch.
// A batch either succeeds completely or fails with this error.
var ErrEncodingFailure = errors.New("encoding failure")

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// ValidateTexts rejects an empty batch and blank texts.
func ValidateTexts(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: empty batch", ErrEncodingFailure)
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("%w: text %d is blank", ErrEncodingFailure, i)
		}
	}
	return nil
}

// checkBatch verifies that an encoder returned one vector of the expected length per input.
func checkBatch(vectors [][]float32, n, dimensions int) error {
	if len(vectors) != n {
		return fmt.Errorf("%w: got %d vectors for %d texts", ErrEncodingFailure, len(vectors), n)
	}
	for i, v := range vectors {
		if len(v) != dimensions {
			return fmt.Errorf("%w: vector %d has %d values, expected %d", ErrEncodingFailure, i, len(v), dimensions)
		}
	}
	return nil
}
