package keyword

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/abio/internal/models"
)

const defaultFuzziness = 2

// memoryDoc is the document shape stored in bleve.
type memoryDoc struct {
	Content   string `json:"content"`
	Role      string `json:"role"`
	SessionID string `json:"session_id"`
}

// BleveIndex implements KeywordIndex with an in-memory Bleve index. It is derived
// state: callers rebuild it from the vector index payloads after a load.
type BleveIndex struct {
	index bleve.Index
	mu    sync.RWMutex
}

// NewBleveIndex creates an empty in-memory index.
func NewBleveIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func buildMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer lowercases and tokenizes without stemming, so a query matches the exact word.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("role", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("session_id", keywordFieldMapping)
	im.AddDocumentMapping("memory", docMapping)
	im.DefaultType = "memory"
	im.DefaultMapping = docMapping
	return im
}

func toDoc(m *models.Memory) memoryDoc {
	return memoryDoc{Content: m.Content, Role: string(m.Role), SessionID: m.SessionID}
}

// Index indexes a single memory by its ID.
func (b *BleveIndex) Index(ctx context.Context, m *models.Memory) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Index(m.ID, toDoc(m))
}

// IndexBatch indexes memories in one Bleve batch.
func (b *BleveIndex) IndexBatch(ctx context.Context, memories []models.Memory) error {
	if len(memories) == 0 {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	batch := b.index.NewBatch()
	for i := range memories {
		if err := batch.Index(memories[i].ID, toDoc(&memories[i])); err != nil {
			return fmt.Errorf("batch index %s: %w", memories[i].ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("Bleve batch failed: %w", err)
	}
	return nil
}

// Search runs a match (or fuzzy) query over content and returns up to limit hits.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	fuzzyEnabled := false
	fuzziness := defaultFuzziness
	sessionID := ""
	if opts != nil {
		fuzzyEnabled = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
		sessionID = opts.SessionID
	}

	var q blevequery.Query
	if fuzzyEnabled {
		q = buildFuzzyQuery(query, fuzziness, "content")
	} else {
		mq := bleve.NewMatchQuery(query)
		mq.SetField("content")
		q = mq
	}
	if sessionID != "" {
		tq := bleve.NewTermQuery(sessionID)
		tq.SetField("session_id")
		q = bleve.NewConjunctionQuery(q, tq)
	}

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	b.mu.RLock()
	results, err := b.index.SearchInContext(ctx, req)
	b.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &KeywordResult{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// tokenizeQuery splits query into lowercase terms, filtering out empty strings.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries, one per query term.
func buildFuzzyQuery(queryStr string, fuzziness int, field string) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		mq.SetField(field)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Delete removes a memory from the index.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Delete(id)
}

// Reset drops every document by swapping in a fresh in-memory index.
func (b *BleveIndex) Reset() error {
	fresh, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return fmt.Errorf("failed to create Bleve index: %w", err)
	}
	b.mu.Lock()
	old := b.index
	b.index = fresh
	b.mu.Unlock()
	return old.Close()
}

// DocCount returns the total number of documents in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Close()
}
