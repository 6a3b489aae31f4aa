package recall

import (
	"fmt"
	"strings"

	"github.com/hyperjump/abio/internal/models"
)

// Chunker splits turn content into overlapping word-based chunks.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in words).
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Chunk splits a stored turn into memories with overlapping windows. Whitespace
// inside each chunk is collapsed. Memory IDs are "<turn id>_<chunk>" so a rebuild
// from the session log produces the same IDs.
func (c *Chunker) Chunk(turn *models.StoredTurn) []models.Memory {
	words := strings.Fields(turn.Content)
	if len(words) == 0 {
		return nil
	}
	size := c.chunkSize
	if size <= 0 {
		size = len(words)
	}
	step := size - c.chunkOverlap
	if step <= 0 {
		step = 1
	}
	memories := make([]models.Memory, 0, len(words)/step+1)
	chunkIndex := 0
	for i := 0; i < len(words); i += step {
		end := i + size
		if end > len(words) {
			end = len(words)
		}
		m := models.Memory{
			ID:        fmt.Sprintf("%s_%d", turn.ID, chunkIndex),
			SessionID: turn.SessionID,
			TurnID:    turn.ID,
			Chunk:     chunkIndex,
			Turn:      turn.Turn,
		}
		m.Content = strings.Join(words[i:end], " ")
		memories = append(memories, m)
		chunkIndex++
		if end >= len(words) {
			break
		}
	}
	return memories
}
