// Package recall remembers conversation turns and retrieves the ones most similar
// to a query, combining the similarity index with the keyword index.
package recall

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/abio/internal/config"
	"github.com/hyperjump/abio/internal/embedding"
	"github.com/hyperjump/abio/internal/keyword"
	"github.com/hyperjump/abio/internal/models"
	"github.com/hyperjump/abio/internal/vector"
)

// Recall modes reported to the Recorder.
const (
	ModeHybrid   = "hybrid"
	ModeSemantic = "semantic"
	ModeKeyword  = "keyword"
)

// Recorder receives engine activity. metrics.Collector implements it.
type Recorder interface {
	TurnsRemembered(n int)
	EmbeddingCompleted(elapsed time.Duration, err error)
	RecallServed(mode string)
}

type nopRecorder struct{}

func (nopRecorder) TurnsRemembered(int)                     {}
func (nopRecorder) EmbeddingCompleted(time.Duration, error) {}
func (nopRecorder) RecallServed(string)                     {}

// settings is swapped as a unit when the recall config is reloaded.
type settings struct {
	config  config.RecallConfig
	chunker *Chunker
}

func newSettings(cfg config.RecallConfig) *settings {
	return &settings{config: cfg, chunker: NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)}
}

// Engine indexes stored turns and answers recall queries.
type Engine struct {
	embedder     embedding.Embedder
	vectorIndex  *vector.Index[models.Memory]
	keywordIndex keyword.KeywordIndex
	settings     atomic.Pointer[settings]
	logger       *zap.Logger
	recorder     Recorder

	mu   sync.RWMutex
	byID map[string]models.Memory
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a logger for engine events.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRecorder sets the sink for remember, embedding and recall events.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// NewEngine creates a recall engine over the given indices.
func NewEngine(
	embedder embedding.Embedder,
	vectorIndex *vector.Index[models.Memory],
	keywordIndex keyword.KeywordIndex,
	cfg *config.RecallConfig,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		embedder:     embedder,
		vectorIndex:  vectorIndex,
		keywordIndex: keywordIndex,
		logger:       zap.NewNop(),
		recorder:     nopRecorder{},
		byID:         make(map[string]models.Memory),
	}
	e.settings.Store(newSettings(*cfg))
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// UpdateConfig replaces the recall settings. Chunking changes apply to turns
// remembered afterwards.
func (e *Engine) UpdateConfig(cfg config.RecallConfig) {
	e.settings.Store(newSettings(cfg))
	e.logger.Info("recall config updated",
		zap.Float64("keyword_weight", cfg.KeywordWeight),
		zap.Float64("semantic_weight", cfg.SemanticWeight),
		zap.Int("chunk_size", cfg.ChunkSize))
}

// Config returns the current recall settings.
func (e *Engine) Config() config.RecallConfig {
	return e.settings.Load().config
}

// Remember chunks, embeds and indexes stored turns. Either every chunk of every
// turn is added or none is.
func (e *Engine) Remember(ctx context.Context, turns ...*models.StoredTurn) ([]models.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chunker := e.settings.Load().chunker
	var memories []models.Memory
	for _, t := range turns {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("turn %s: %w", t.ID, err)
		}
		memories = append(memories, chunker.Chunk(t)...)
	}
	if len(memories) == 0 {
		return nil, nil
	}

	texts := make([]string, len(memories))
	for i := range memories {
		texts[i] = memories[i].Content
	}
	vectors, err := e.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Keywords go first: they can be deleted again, vectors cannot.
	if err := e.keywordIndex.IndexBatch(ctx, memories); err != nil {
		e.dropKeywords(memories)
		return nil, fmt.Errorf("failed to index keywords: %w", err)
	}
	if err := e.vectorIndex.AddBatch(ctx, vectors, memories); err != nil {
		e.dropKeywords(memories)
		return nil, fmt.Errorf("failed to index vectors: %w", err)
	}
	for _, m := range memories {
		e.byID[m.ID] = m
	}

	e.recorder.TurnsRemembered(len(turns))
	e.logger.Debug("turns remembered",
		zap.Int("turns", len(turns)),
		zap.Int("memories", len(memories)),
		zap.Int("index_size", e.vectorIndex.Size()))
	return memories, nil
}

// Reindex clears both indices and rebuilds them from the given turns.
func (e *Engine) Reindex(ctx context.Context, turns []*models.StoredTurn) (int, error) {
	if err := e.Reset(); err != nil {
		return 0, err
	}
	const batchSize = 64
	total := 0
	for start := 0; start < len(turns); start += batchSize {
		end := start + batchSize
		if end > len(turns) {
			end = len(turns)
		}
		memories, err := e.Remember(ctx, turns[start:end]...)
		if err != nil {
			return total, err
		}
		total += len(memories)
	}
	e.logger.Info("reindex complete", zap.Int("turns", len(turns)), zap.Int("memories", total))
	return total, nil
}

// Recall returns the memories most similar to the query. With only the semantic
// mode active the index order is kept as is.
func (e *Engine) Recall(ctx context.Context, query *models.RecallQuery) (*models.RecallResponse, error) {
	startTime := time.Now()
	cfg := e.settings.Load().config
	if err := query.Validate(cfg.DefaultLimit, cfg.MaxLimit); err != nil {
		return nil, err
	}
	useKeyword := query.KeywordEnabled && cfg.KeywordWeight > 0
	useSemantic := query.SemanticEnabled && cfg.SemanticWeight > 0
	if !useKeyword && !useSemantic {
		// Weights disabled the requested modes; fall back to what was asked for.
		useKeyword, useSemantic = query.KeywordEnabled, query.SemanticEnabled
	}
	candidates := cfg.TopKCandidates
	if candidates < query.Limit {
		candidates = query.Limit
	}

	var (
		keywordResults  []*keyword.KeywordResult
		semanticResults []vector.Result[models.Memory]
		errChan         = make(chan error, 2)
		wg              sync.WaitGroup
	)

	if useKeyword {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := e.keywordIndex.Search(ctx, query.Text, candidates, &keyword.SearchOptions{
				FuzzyEnabled: query.FuzzyEnabled || cfg.Fuzzy,
				Fuzziness:    cfg.Fuzziness,
				SessionID:    query.SessionID,
			})
			if err != nil {
				errChan <- fmt.Errorf("keyword search failed: %w", err)
				return
			}
			keywordResults = results
		}()
	}

	if useSemantic {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vectors, err := e.embed(ctx, []string{query.Text})
			if err != nil {
				errChan <- fmt.Errorf("embedding failed: %w", err)
				return
			}
			// A session filter needs the whole ranking so other sessions cannot
			// crowd its entries out of the candidates.
			k := candidates
			if query.SessionID != "" && e.vectorIndex.Size() > k {
				k = e.vectorIndex.Size()
			}
			results, err := e.vectorIndex.Search(ctx, vectors[0], k)
			if err != nil {
				errChan <- fmt.Errorf("vector search failed: %w", err)
				return
			}
			results = filterSession(results, query.SessionID)
			if len(results) > candidates {
				results = results[:candidates]
			}
			semanticResults = results
		}()
	}

	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return nil, err
		}
	}

	var (
		fused []*FusedResult
		mode  string
	)
	switch {
	case useKeyword && useSemantic:
		mode = ModeHybrid
		fused = Fuse(NormalizeKeywordScores(keywordResults), SemanticResults(semanticResults),
			cfg.KeywordWeight, cfg.SemanticWeight)
	case useSemantic:
		mode = ModeSemantic
		fused = SemanticResults(semanticResults)
	default:
		mode = ModeKeyword
		fused = KeywordOnly(NormalizeKeywordScores(keywordResults))
	}

	if query.MinScore > 0 {
		filtered := make([]*FusedResult, 0, len(fused))
		for _, r := range fused {
			if r.Score >= query.MinScore {
				filtered = append(filtered, r)
			}
		}
		fused = filtered
	}

	response := &models.RecallResponse{
		Hits:  make([]*models.Hit, 0, query.Limit),
		Total: len(fused),
		Query: query.Text,
	}
	e.mu.RLock()
	for _, r := range fused {
		if len(response.Hits) == query.Limit {
			break
		}
		m, ok := e.byID[r.MemoryID]
		if !ok {
			continue
		}
		response.Hits = append(response.Hits, &models.Hit{
			Memory:        m,
			Score:         r.Score,
			KeywordScore:  r.KeywordScore,
			SemanticScore: r.SemanticScore,
			Distance:      r.Distance,
			Rank:          len(response.Hits) + 1,
		})
	}
	e.mu.RUnlock()
	response.QueryTime = time.Since(startTime).Milliseconds()

	e.recorder.RecallServed(mode)
	e.logger.Debug("recall served",
		zap.String("mode", mode),
		zap.Int("hits", len(response.Hits)),
		zap.Int("total", response.Total),
		zap.Int64("query_time_ms", response.QueryTime))
	return response, nil
}

// RecallWithFallback runs Recall and, when a keyword query without typo
// tolerance finds nothing, retries it with fuzzy matching.
func (e *Engine) RecallWithFallback(ctx context.Context, query *models.RecallQuery) (*models.RecallResponse, error) {
	response, err := e.Recall(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(response.Hits) > 0 || !query.KeywordEnabled || query.FuzzyEnabled || e.Config().Fuzzy {
		return response, nil
	}
	retry := *query
	retry.FuzzyEnabled = true
	fuzzyResponse, err := e.Recall(ctx, &retry)
	if err != nil || len(fuzzyResponse.Hits) == 0 {
		return response, nil
	}
	e.logger.Debug("recall retried with fuzzy matching", zap.String("query", query.Text))
	return fuzzyResponse, nil
}

// Save writes the similarity index to prefix.
func (e *Engine) Save(prefix string) error {
	return e.vectorIndex.Save(prefix)
}

// Load replaces the similarity index with the one stored at prefix and rebuilds
// the keyword index from its payloads. On error the engine keeps its previous
// contents.
func (e *Engine) Load(ctx context.Context, prefix string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var (
		byID    map[string]models.Memory
		touched bool
	)
	err := e.vectorIndex.LoadWith(prefix, func(memories []models.Memory) error {
		touched = true
		if err := e.rebuildKeywords(ctx, memories); err != nil {
			return fmt.Errorf("failed to rebuild keyword index: %w", err)
		}
		byID = make(map[string]models.Memory, len(memories))
		for _, m := range memories {
			byID[m.ID] = m
		}
		return nil
	})
	if err != nil {
		if touched {
			if rerr := e.rebuildKeywords(context.Background(), e.vectorIndex.Payloads()); rerr != nil {
				e.logger.Error("failed to restore keyword index", zap.Error(rerr))
			}
		}
		return err
	}
	e.byID = byID
	if d := e.embedder.Dimensions(); d != e.vectorIndex.Dimension() {
		e.logger.Warn("embedder and index dimensions differ",
			zap.Int("embedder", d),
			zap.Int("index", e.vectorIndex.Dimension()))
	}
	return nil
}

func (e *Engine) rebuildKeywords(ctx context.Context, memories []models.Memory) error {
	if err := e.keywordIndex.Reset(); err != nil {
		return err
	}
	return e.keywordIndex.IndexBatch(ctx, memories)
}

// dropKeywords removes memories from the keyword index after a failed remember.
// Memories that were already remembered stay. Called with e.mu held.
func (e *Engine) dropKeywords(memories []models.Memory) {
	for _, m := range memories {
		if _, ok := e.byID[m.ID]; ok {
			continue
		}
		if err := e.keywordIndex.Delete(context.Background(), m.ID); err != nil {
			e.logger.Warn("failed to roll back keyword entry", zap.String("id", m.ID), zap.Error(err))
		}
	}
}

// Reset removes every memory from both indices.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectorIndex.Reset()
	e.byID = make(map[string]models.Memory)
	if err := e.keywordIndex.Reset(); err != nil {
		return fmt.Errorf("failed to reset keyword index: %w", err)
	}
	return nil
}

// Size returns the number of memories in the similarity index.
func (e *Engine) Size() int {
	return e.vectorIndex.Size()
}

// Dimension returns the dimension accepted by the similarity index.
func (e *Engine) Dimension() int {
	return e.vectorIndex.Dimension()
}

func (e *Engine) embed(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	e.recorder.EmbeddingCompleted(time.Since(start), err)
	return vectors, err
}

func filterSession(results []vector.Result[models.Memory], sessionID string) []vector.Result[models.Memory] {
	if sessionID == "" {
		return results
	}
	filtered := make([]vector.Result[models.Memory], 0, len(results))
	for _, r := range results {
		if r.Payload.SessionID == sessionID {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
