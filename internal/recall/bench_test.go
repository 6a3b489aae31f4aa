package recall

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/abio/internal/history"
	"github.com/hyperjump/abio/internal/models"
)

func BenchmarkFuse(b *testing.B) {
	kw := make(map[string]float64)
	sem := make([]*FusedResult, 0, 100)
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("t%d_0", i)
		kw[id] = float64(i) / 100
		sem = append(sem, &FusedResult{MemoryID: id, SemanticScore: float64(100-i) / 100, Distance: float64(i)})
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Fuse(kw, sem, 0.5, 0.5)
	}
}

func BenchmarkEngine_Recall(b *testing.B) {
	e, _ := newEngine(b, testConfig())
	ctx := context.Background()
	turns := make([]*models.StoredTurn, 0, 500)
	for i := 0; i < 500; i++ {
		turns = append(turns, stored(fmt.Sprintf("t%d", i), "s1", history.RoleUser,
			fmt.Sprintf("note %d about deploys, lunches and plants", i)))
	}
	if _, err := e.Remember(ctx, turns...); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Recall(ctx, &models.RecallQuery{Text: "deploy plants"}); err != nil {
			b.Fatal(err)
		}
	}
}
