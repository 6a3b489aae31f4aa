package recall

import (
	"math"
	"sort"

	"github.com/hyperjump/abio/internal/keyword"
	"github.com/hyperjump/abio/internal/models"
	"github.com/hyperjump/abio/internal/vector"
)

// FusedResult holds a memory ID and its fused keyword/semantic scores.
// Distance is -1 when the memory was not among the semantic candidates.
type FusedResult struct {
	MemoryID      string
	Score         float64
	KeywordScore  float64
	SemanticScore float64
	Distance      float64
}

// Similarity maps a Euclidean distance to (0,1]; identical vectors score 1.
func Similarity(distance float64) float64 {
	if math.IsInf(distance, 1) || math.IsNaN(distance) {
		return 0
	}
	return 1 / (1 + distance)
}

// NormalizeKeywordScores normalizes keyword scores to [0,1] by max.
func NormalizeKeywordScores(results []*keyword.KeywordResult) map[string]float64 {
	if len(results) == 0 {
		return make(map[string]float64)
	}
	maxScore := results[0].Score
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	normalized := make(map[string]float64, len(results))
	for _, r := range results {
		if maxScore > 0 {
			normalized[r.ID] = r.Score / maxScore
		} else {
			normalized[r.ID] = 0
		}
	}
	return normalized
}

// SemanticResults converts index results to fused results in index order.
func SemanticResults(results []vector.Result[models.Memory]) []*FusedResult {
	out := make([]*FusedResult, 0, len(results))
	for _, r := range results {
		sim := Similarity(r.Distance)
		out = append(out, &FusedResult{
			MemoryID:      r.Payload.ID,
			Score:         sim,
			SemanticScore: sim,
			Distance:      r.Distance,
		})
	}
	return out
}

// Fuse merges keyword scores with semantic results using the given weights and
// returns results sorted by fused score, ties broken by memory ID.
func Fuse(keywordScores map[string]float64, semantic []*FusedResult, keywordWeight, semanticWeight float64) []*FusedResult {
	scoreMap := make(map[string]*FusedResult, len(keywordScores)+len(semantic))
	for id, score := range keywordScores {
		scoreMap[id] = &FusedResult{
			MemoryID:     id,
			KeywordScore: score,
			Distance:     -1,
		}
	}
	for _, s := range semantic {
		if result, exists := scoreMap[s.MemoryID]; exists {
			result.SemanticScore = s.SemanticScore
			result.Distance = s.Distance
		} else {
			scoreMap[s.MemoryID] = &FusedResult{
				MemoryID:      s.MemoryID,
				SemanticScore: s.SemanticScore,
				Distance:      s.Distance,
			}
		}
	}
	results := make([]*FusedResult, 0, len(scoreMap))
	for _, result := range scoreMap {
		result.Score = (keywordWeight * result.KeywordScore) + (semanticWeight * result.SemanticScore)
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].MemoryID < results[j].MemoryID
	})
	return results
}

// KeywordOnly turns normalized keyword scores into ranked results.
func KeywordOnly(keywordScores map[string]float64) []*FusedResult {
	return Fuse(keywordScores, nil, 1, 0)
}
