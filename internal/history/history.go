// Package history keeps a bounded, oldest-first buffer of conversation turns.
package history

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrInvalidTurn     = errors.New("invalid turn")
	ErrInvalidCount    = errors.New("count must be positive")
	ErrInvalidCapacity = errors.New("capacity must not be negative")
)

// Option configures a History.
type Option func(*History)

// WithLogger sets the logger used to report evictions.
func WithLogger(l *zap.Logger) Option {
	return func(h *History) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithClock sets the time source used to stamp turns that have no timestamp.
func WithClock(now func() time.Time) Option {
	return func(h *History) {
		if now != nil {
			h.now = now
		}
	}
}

// History is an ordered list of turns holding at most Capacity entries.
// A capacity of zero means unlimited.
type History struct {
	capacity int
	turns    []Turn
	mu       sync.RWMutex
	now      func() time.Time
	logger   *zap.Logger
}

// New creates a history seeded with initial turns. The seed is validated and
// trimmed exactly like Append would.
func New(capacity int, initial []Turn, opts ...Option) (*History, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	h := &History{
		capacity: capacity,
		turns:    make([]Turn, 0, len(initial)),
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	for i, t := range initial {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("initial turn %d: %w", i, err)
		}
		h.turns = append(h.turns, h.stamp(t))
	}
	h.trim()
	return h, nil
}

// Append adds turn at the end, then evicts the oldest turns beyond capacity.
func (h *History) Append(turn Turn) error {
	if err := turn.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, h.stamp(turn))
	h.trim()
	return nil
}

// Recent returns the last min(n, Len()) turns in chronological order.
func (h *History) Recent(n int) ([]Turn, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCount, n)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n > len(h.turns) {
		n = len(h.turns)
	}
	return cloneTurns(h.turns[len(h.turns)-n:]), nil
}

// All returns a copy of every retained turn.
func (h *History) All() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return cloneTurns(h.turns)
}

// Len returns the number of retained turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Capacity returns the configured bound, zero when unlimited.
func (h *History) Capacity() int {
	return h.capacity
}

// Clear removes every turn.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = make([]Turn, 0)
}

// EstimateTokens sums Tokens() over the retained turns.
func (h *History) EstimateTokens() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, t := range h.turns {
		total += t.Tokens()
	}
	return total
}

func (h *History) stamp(t Turn) Turn {
	if t.Timestamp.IsZero() {
		t.Timestamp = h.now()
	}
	return t.clone()
}

func cloneTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t.clone()
	}
	return out
}

// trim must be called with the write lock held (or before h is shared).
func (h *History) trim() {
	if h.capacity == 0 || len(h.turns) <= h.capacity {
		return
	}
	excess := len(h.turns) - h.capacity
	kept := make([]Turn, h.capacity)
	copy(kept, h.turns[excess:])
	h.turns = kept
	h.logger.Debug("history trimmed", zap.Int("evicted", excess), zap.Int("capacity", h.capacity))
}
