package vector

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"
	"testing"
)

func TestNew_InvalidDimension(t *testing.T) {
	for _, dim := range []int{0, -1, -128} {
		if _, err := New[string](dim); !errors.Is(err, ErrInvalidDimension) {
			t.Errorf("New(%d): got %v, want ErrInvalidDimension", dim, err)
		}
	}
	idx, err := New[string](4)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Dimension() != 4 || idx.Size() != 0 {
		t.Errorf("Dimension=%d Size=%d", idx.Dimension(), idx.Size())
	}
}

func TestIndex_AddSearch(t *testing.T) {
	idx, err := New[string](2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	err = idx.AddBatch(ctx,
		[][]float32{{0, 0}, {3, 4}, {1, 0}},
		[]string{"origin", "far", "near"},
	)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Fatalf("Size=%d, want 3", idx.Size())
	}

	results, err := idx.Search(ctx, []float32{0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Payload != "origin" || results[0].Distance != 0 || results[0].Position != 0 {
		t.Errorf("first result: %+v", results[0])
	}
	if results[1].Payload != "near" || results[1].Distance != 1 {
		t.Errorf("second result: %+v", results[1])
	}

	all, err := idx.Search(ctx, []float32{0, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("k larger than size: got %d results", len(all))
	}
	if all[2].Payload != "far" || all[2].Distance != 5 {
		t.Errorf("third result: %+v", all[2])
	}
}

func TestIndex_SearchTieBreakByPosition(t *testing.T) {
	idx, _ := New[int](2)
	ctx := context.Background()
	vecs := [][]float32{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}
	if err := idx.AddBatch(ctx, vecs, []int{10, 11, 12, 13}); err != nil {
		t.Fatal(err)
	}
	for run := 0; run < 5; run++ {
		results, err := idx.Search(ctx, []float32{0, 0}, 4)
		if err != nil {
			t.Fatal(err)
		}
		for i, r := range results {
			if r.Position != i || r.Payload != 10+i {
				t.Fatalf("run %d: result %d = %+v", run, i, r)
			}
		}
	}
}

func TestIndex_SearchUnitAxes(t *testing.T) {
	idx, _ := New[string](3)
	ctx := context.Background()
	vecs := [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	if err := idx.AddBatch(ctx, vecs, []string{"a", "b", "c"}); err != nil {
		t.Fatal(err)
	}
	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Payload != "a" || results[0].Distance != 0 {
		t.Errorf("first = %+v, want a at 0", results[0])
	}
	if results[1].Payload != "b" || math.Abs(results[1].Distance-math.Sqrt2) > 1e-9 {
		t.Errorf("second = %+v, want b at sqrt(2)", results[1])
	}
}

func TestIndex_SearchMatchesBruteForce(t *testing.T) {
	const (
		n   = 2000
		dim = 64
	)
	rng := rand.New(rand.NewSource(42))
	vecs := make([][]float32, n)
	payloads := make([]int, n)
	for i := range vecs {
		if i%7 == 6 {
			// duplicates force ties that only position can break
			vecs[i] = append([]float32(nil), vecs[rng.Intn(i)]...)
		} else {
			vecs[i] = make([]float32, dim)
			for j := range vecs[i] {
				vecs[i][j] = float32(rng.NormFloat64())
			}
		}
		payloads[i] = i * 10
	}
	idx, _ := New[int](dim)
	ctx := context.Background()
	if err := idx.AddBatch(ctx, vecs, payloads); err != nil {
		t.Fatal(err)
	}

	type entry struct {
		pos  int
		dist float64
	}
	for q := 0; q < 5; q++ {
		query := make([]float32, dim)
		if q == 0 {
			copy(query, vecs[3])
		} else {
			for j := range query {
				query[j] = float32(rng.NormFloat64())
			}
		}
		want := make([]entry, n)
		for i, v := range vecs {
			var sum float64
			for j := range v {
				d := float64(query[j]) - float64(v[j])
				sum += d * d
			}
			want[i] = entry{pos: i, dist: math.Sqrt(sum)}
		}
		sort.SliceStable(want, func(i, j int) bool { return want[i].dist < want[j].dist })

		for _, k := range []int{1, 5, 50, 500, n, n + 100} {
			got, err := idx.Search(ctx, query, k)
			if err != nil {
				t.Fatal(err)
			}
			wantLen := k
			if wantLen > n {
				wantLen = n
			}
			if len(got) != wantLen {
				t.Fatalf("query %d k=%d: got %d results, want %d", q, k, len(got), wantLen)
			}
			for i, r := range got {
				w := want[i]
				if r.Position != w.pos || r.Payload != payloads[w.pos] || math.Abs(r.Distance-w.dist) > 1e-9 {
					t.Fatalf("query %d k=%d rank %d: got (%d, %d, %g), want (%d, %d, %g)",
						q, k, i, r.Position, r.Payload, r.Distance, w.pos, payloads[w.pos], w.dist)
				}
			}
		}
	}
}

func TestIndex_SearchSorted(t *testing.T) {
	idx, _ := New[int](3)
	ctx := context.Background()
	vecs := make([][]float32, 50)
	payloads := make([]int, 50)
	for i := range vecs {
		f := float32(i)
		vecs[i] = []float32{float32(math.Sin(float64(f))), f / 10, float32(i % 7)}
		payloads[i] = i
	}
	if err := idx.AddBatch(ctx, vecs, payloads); err != nil {
		t.Fatal(err)
	}
	query := []float32{0.5, 2, 3}
	results, err := idx.Search(ctx, query, 20)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Fatalf("results not ascending at %d: %v < %v", i, results[i].Distance, results[i-1].Distance)
		}
	}
	for _, r := range results {
		if want := L2Distance(query, vecs[r.Payload]); r.Distance != want {
			t.Errorf("payload %d: distance %v, want %v", r.Payload, r.Distance, want)
		}
	}
}

func TestIndex_SearchValidation(t *testing.T) {
	idx, _ := New[string](2)
	ctx := context.Background()

	for _, k := range []int{0, -1} {
		if _, err := idx.Search(ctx, []float32{1, 0}, k); !errors.Is(err, ErrInvalidK) {
			t.Errorf("k=%d on empty index: got %v, want ErrInvalidK", k, err)
		}
	}

	results, err := idx.Search(ctx, []float32{1, 2, 3}, 3)
	if err != nil {
		t.Fatalf("empty index search should not fail, got %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("expected empty non-nil result, got %#v", results)
	}

	_ = idx.AddBatch(ctx, [][]float32{{1, 1}}, []string{"a"})
	if _, err := idx.Search(ctx, []float32{1, 2, 3}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("got %v, want ErrDimensionMismatch", err)
	}
	if _, err := idx.Search(ctx, []float32{1, 0}, 0); !errors.Is(err, ErrInvalidK) {
		t.Errorf("got %v, want ErrInvalidK", err)
	}
}

func TestIndex_AddBatchValidation(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		vectors  [][]float32
		payloads []string
		want     error
	}{
		{"no vectors", nil, []string{"a"}, ErrEmptyInput},
		{"no payloads", [][]float32{{1, 2}}, nil, ErrEmptyInput},
		{"both empty", [][]float32{}, []string{}, ErrEmptyInput},
		{"count mismatch", [][]float32{{1, 2}, {3, 4}}, []string{"a"}, ErrMismatchedCount},
		{"bad dimension", [][]float32{{1, 2}, {3, 4, 5}}, []string{"a", "b"}, ErrDimensionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, _ := New[string](2)
			_ = idx.AddBatch(ctx, [][]float32{{9, 9}}, []string{"seed"})
			err := idx.AddBatch(ctx, tt.vectors, tt.payloads)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			if idx.Size() != 1 {
				t.Errorf("failed batch changed size to %d", idx.Size())
			}
			if p := idx.Payloads(); len(p) != 1 || p[0] != "seed" {
				t.Errorf("payloads after failed batch: %v", p)
			}
		})
	}
}

func TestIndex_AddBatchCopiesInput(t *testing.T) {
	idx, _ := New[string](2)
	ctx := context.Background()
	vec := []float32{1, 1}
	if err := idx.AddBatch(ctx, [][]float32{vec}, []string{"a"}); err != nil {
		t.Fatal(err)
	}
	vec[0] = 100
	results, _ := idx.Search(ctx, []float32{1, 1}, 1)
	if results[0].Distance != 0 {
		t.Errorf("stored vector was mutated through caller slice: distance %v", results[0].Distance)
	}
}

func TestIndex_Reset(t *testing.T) {
	idx, _ := New[string](2)
	ctx := context.Background()
	_ = idx.AddBatch(ctx, [][]float32{{1, 0}, {0, 1}}, []string{"a", "b"})
	idx.Reset()
	if idx.Size() != 0 || len(idx.Payloads()) != 0 {
		t.Errorf("after reset: size=%d payloads=%d", idx.Size(), len(idx.Payloads()))
	}
	if idx.Dimension() != 2 {
		t.Errorf("reset changed dimension to %d", idx.Dimension())
	}
	results, err := idx.Search(ctx, []float32{1, 0}, 1)
	if err != nil || len(results) != 0 {
		t.Errorf("search after reset: %v, %v", results, err)
	}
}

func TestIndex_ContextCanceled(t *testing.T) {
	idx, _ := New[string](2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := idx.AddBatch(ctx, [][]float32{{1, 0}}, []string{"a"}); !errors.Is(err, context.Canceled) {
		t.Errorf("AddBatch: got %v", err)
	}
	if _, err := idx.Search(ctx, []float32{1, 0}, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("Search: got %v", err)
	}
}

func TestIndex_ConcurrentAddSearch(t *testing.T) {
	idx, _ := New[int](4)
	ctx := context.Background()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				v := []float32{float32(w), float32(i), 0, 1}
				if err := idx.AddBatch(ctx, [][]float32{v}, []int{w*1000 + i}); err != nil {
					t.Error(err)
					return
				}
				if _, err := idx.Search(ctx, v, 3); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	if idx.Size() != 400 {
		t.Errorf("Size=%d, want 400", idx.Size())
	}
	if len(idx.Payloads()) != idx.Size() {
		t.Errorf("payload count %d != size %d", len(idx.Payloads()), idx.Size())
	}
}

func TestL2Distance(t *testing.T) {
	if d := L2Distance([]float32{0, 0}, []float32{3, 4}); d != 5 {
		t.Errorf("got %v, want 5", d)
	}
	if d := L2Distance([]float32{1}, []float32{1, 2}); !math.IsInf(d, 1) {
		t.Errorf("length mismatch: got %v, want +Inf", d)
	}
	nan := float32(math.NaN())
	if d := L2Distance([]float32{nan}, []float32{1}); !math.IsInf(d, 1) {
		t.Errorf("NaN: got %v, want +Inf", d)
	}
	if n := L2Norm([]float32{3, 4}); n != 5 {
		t.Errorf("L2Norm: got %v", n)
	}
}

func BenchmarkIndex_Search(b *testing.B) {
	const dim, n = 384, 2000
	idx, _ := New[int](dim)
	ctx := context.Background()
	vecs := make([][]float32, n)
	payloads := make([]int, n)
	for i := range vecs {
		vecs[i] = make([]float32, dim)
		for j := range vecs[i] {
			vecs[i][j] = float32(math.Sin(float64(i*dim + j)))
		}
		payloads[i] = i
	}
	if err := idx.AddBatch(ctx, vecs, payloads); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := idx.Search(ctx, vecs[i%n], 10); err != nil {
			b.Fatal(err)
		}
	}
}
