// Package vector provides an exact in-memory similarity index that keeps an
// arbitrary payload next to every stored vector.
package vector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Result is a single search hit. Position is the entry's insertion position and
// breaks ties between equal distances.
type Result[P any] struct {
	Payload  P
	Distance float64
	Position int
}

// Option configures an Index.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	observer Observer
}

// WithLogger sets the logger for index operations.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver sets the sink for index events (size, searches, persistence).
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// Index stores fixed-length float32 vectors with one payload per vector and answers
// exact nearest-neighbour queries by Euclidean distance. vectors[i] is described by payloads[i].
type Index[P any] struct {
	dimension int
	vectors   [][]float32
	payloads  []P
	mu        sync.RWMutex
	logger    *zap.Logger
	observer  Observer
}

// New creates an empty index for vectors of the given dimension.
func New[P any](dimension int, opts ...Option) (*Index[P], error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDimension, dimension)
	}
	o := options{logger: zap.NewNop(), observer: nopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &Index[P]{
		dimension: dimension,
		vectors:   make([][]float32, 0),
		payloads:  make([]P, 0),
		logger:    o.logger,
		observer:  o.observer,
	}, nil
}

// AddBatch appends vectors and their payloads pairwise, preserving order. The whole
// batch is validated before anything is stored.
func (x *Index[P]) AddBatch(ctx context.Context, vectors [][]float32, payloads []P) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(vectors) == 0 || len(payloads) == 0 {
		return fmt.Errorf("%w: %d vectors, %d payloads", ErrEmptyInput, len(vectors), len(payloads))
	}
	if len(vectors) != len(payloads) {
		return fmt.Errorf("%w: %d vectors, %d payloads", ErrMismatchedCount, len(vectors), len(payloads))
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for i, v := range vectors {
		if len(v) != x.dimension {
			return fmt.Errorf("%w: vector %d has %d values, expected %d", ErrDimensionMismatch, i, len(v), x.dimension)
		}
	}
	for i, v := range vectors {
		vec := make([]float32, x.dimension)
		copy(vec, v)
		x.vectors = append(x.vectors, vec)
		x.payloads = append(x.payloads, payloads[i])
	}
	size := len(x.vectors)

	x.logger.Debug("vectors added", zap.Int("added", len(vectors)), zap.Int("size", size))
	x.observer.IndexChanged(size)
	return nil
}

// Search returns the min(k, Size()) entries closest to query, nearest first.
// An empty index yields an empty result and no error.
func (x *Index[P]) Search(ctx context.Context, query []float32, k int) ([]Result[P], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	start := time.Now()

	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.vectors) == 0 {
		return []Result[P]{}, nil
	}
	if len(query) != x.dimension {
		return nil, fmt.Errorf("%w: query has %d values, expected %d", ErrDimensionMismatch, len(query), x.dimension)
	}

	type scored struct {
		pos  int
		dist float64
	}
	scores := make([]scored, len(x.vectors))
	for i, vec := range x.vectors {
		scores[i] = scored{pos: i, dist: L2Distance(query, vec)}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].dist != scores[j].dist {
			return scores[i].dist < scores[j].dist
		}
		return scores[i].pos < scores[j].pos
	})
	if k > len(scores) {
		k = len(scores)
	}
	results := make([]Result[P], k)
	for i := 0; i < k; i++ {
		s := scores[i]
		results[i] = Result[P]{Payload: x.payloads[s.pos], Distance: s.dist, Position: s.pos}
	}

	elapsed := time.Since(start)
	x.logger.Debug("search completed", zap.Int("k", k), zap.Int("size", len(x.vectors)), zap.Duration("elapsed", elapsed))
	x.observer.SearchCompleted(k, len(results), elapsed)
	return results, nil
}

// Size returns the number of stored entries.
func (x *Index[P]) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Dimension returns the vector length accepted by the index.
func (x *Index[P]) Dimension() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dimension
}

// Payloads returns a copy of the payloads in insertion order.
func (x *Index[P]) Payloads() []P {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]P, len(x.payloads))
	copy(out, x.payloads)
	return out
}

// Reset removes every entry. The dimension is kept.
func (x *Index[P]) Reset() {
	x.mu.Lock()
	x.vectors = make([][]float32, 0)
	x.payloads = make([]P, 0)
	x.mu.Unlock()

	x.logger.Info("index reset")
	x.observer.IndexChanged(0)
}

// Save writes the index to prefix (vectors) and prefix+PayloadSuffix (payloads).
func (x *Index[P]) Save(prefix string) error {
	if strings.TrimSpace(prefix) == "" {
		return fmt.Errorf("%w: empty prefix", ErrInvalidPath)
	}
	start := time.Now()

	x.mu.RLock()
	snap := snapshot[P]{
		dimension: x.dimension,
		vectors:   append([][]float32(nil), x.vectors...),
		payloads:  append([]P(nil), x.payloads...),
	}
	x.mu.RUnlock()

	gen, err := writeSnapshot(prefix, snap)
	elapsed := time.Since(start)
	x.observer.Persisted(OpSave, len(snap.vectors), elapsed, err)
	if err != nil {
		x.logger.Warn("index save failed", zap.String("prefix", prefix), zap.Error(err))
		return err
	}
	x.logger.Info("index saved",
		zap.String("prefix", prefix),
		zap.Int("size", len(snap.vectors)),
		zap.String("generation", gen.String()),
		zap.Duration("elapsed", elapsed))
	return nil
}

// Load replaces the contents of the index with the pair of files written by Save.
// Nothing changes unless both files decode and agree with each other. When the stored
// dimension differs from the current one, the stored dimension is adopted.
func (x *Index[P]) Load(prefix string) error {
	return x.LoadWith(prefix, nil)
}

// LoadWith is Load with a hook that receives the decoded payloads before they
// replace the current contents. If prepare returns an error the index is unchanged.
func (x *Index[P]) LoadWith(prefix string, prepare func(payloads []P) error) error {
	if strings.TrimSpace(prefix) == "" {
		return fmt.Errorf("%w: empty prefix", ErrInvalidPath)
	}
	start := time.Now()

	snap, err := readSnapshot[P](prefix)
	if err == nil && prepare != nil {
		err = prepare(append([]P(nil), snap.payloads...))
	}
	if err != nil {
		x.observer.Persisted(OpLoad, 0, time.Since(start), err)
		x.logger.Warn("index load failed", zap.String("prefix", prefix), zap.Error(err))
		return err
	}

	x.mu.Lock()
	prev := x.dimension
	x.dimension = snap.dimension
	x.vectors = snap.vectors
	x.payloads = snap.payloads
	x.mu.Unlock()

	size := len(snap.vectors)
	if prev != snap.dimension {
		x.logger.Warn("index dimension adopted from disk",
			zap.String("prefix", prefix),
			zap.Int("configured", prev),
			zap.Int("loaded", snap.dimension))
		x.observer.DimensionAdopted(prev, snap.dimension)
	}
	elapsed := time.Since(start)
	x.logger.Info("index loaded", zap.String("prefix", prefix), zap.Int("size", size), zap.Duration("elapsed", elapsed))
	x.observer.IndexChanged(size)
	x.observer.Persisted(OpLoad, size, elapsed, nil)
	return nil
}

// Close is a no-op; the index holds no external resources.
func (x *Index[P]) Close() error {
	return nil
}
