package vector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type note struct {
	Text string `json:"text"`
	Turn int    `json:"turn"`
}

type recordingObserver struct {
	mu        sync.Mutex
	sizes     []int
	searches  int
	persisted map[string]int
	failures  int
	adopted   [][2]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{persisted: make(map[string]int)}
}

func (r *recordingObserver) IndexChanged(size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sizes = append(r.sizes, size)
}

func (r *recordingObserver) SearchCompleted(int, int, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searches++
}

func (r *recordingObserver) Persisted(op string, _ int, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failures++
		return
	}
	r.persisted[op]++
}

func (r *recordingObserver) DimensionAdopted(from, to int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adopted = append(r.adopted, [2]int{from, to})
}

func seededIndex(t *testing.T, dim int) *Index[note] {
	t.Helper()
	idx, err := New[note](dim)
	if err != nil {
		t.Fatal(err)
	}
	vecs := make([][]float32, 3)
	for i := range vecs {
		vecs[i] = make([]float32, dim)
		vecs[i][i%dim] = float32(i + 1)
	}
	payloads := []note{{"hello", 0}, {"wörld ✓", 1}, {"", 2}}
	if err := idx.AddBatch(context.Background(), vecs, payloads); err != nil {
		t.Fatal(err)
	}
	return idx
}

func TestIndex_SaveLoadRoundTrip(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "nested", "memory.idx")
	src := seededIndex(t, 4)
	if err := src.Save(prefix); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{prefix, prefix + PayloadSuffix} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected %s to exist: %v", p, err)
		}
	}

	dst, _ := New[note](4)
	if err := dst.Load(prefix); err != nil {
		t.Fatal(err)
	}
	if dst.Size() != src.Size() {
		t.Fatalf("Size=%d, want %d", dst.Size(), src.Size())
	}
	want := src.Payloads()
	got := dst.Payloads()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("payload %d: got %+v, want %+v", i, got[i], want[i])
		}
	}

	ctx := context.Background()
	query := []float32{0, 2, 0, 0}
	a, _ := src.Search(ctx, query, 3)
	b, _ := dst.Search(ctx, query, 3)
	for i := range a {
		if a[i].Payload != b[i].Payload || a[i].Distance != b[i].Distance || a[i].Position != b[i].Position {
			t.Errorf("result %d differs after reload: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestIndex_LoadWithPrepareFailure(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "memory.idx")
	if err := seededIndex(t, 4).Save(prefix); err != nil {
		t.Fatal(err)
	}
	dst, _ := New[note](2)
	if err := dst.AddBatch(context.Background(), [][]float32{{1, 1}}, []note{{"kept", 9}}); err != nil {
		t.Fatal(err)
	}

	errRejected := errors.New("rejected")
	var seen int
	err := dst.LoadWith(prefix, func(payloads []note) error {
		seen = len(payloads)
		return errRejected
	})
	if !errors.Is(err, errRejected) {
		t.Fatalf("got %v, want errRejected", err)
	}
	if seen != 3 {
		t.Errorf("prepare saw %d payloads, want 3", seen)
	}
	if dst.Size() != 1 || dst.Dimension() != 2 || dst.Payloads()[0].Text != "kept" {
		t.Errorf("index changed: size=%d dim=%d payloads=%+v", dst.Size(), dst.Dimension(), dst.Payloads())
	}

	if err := dst.LoadWith(prefix, func([]note) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if dst.Size() != 3 || dst.Dimension() != 4 {
		t.Errorf("after load: size=%d dim=%d", dst.Size(), dst.Dimension())
	}
}

func TestIndex_SaveLoadEmpty(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "empty")
	src, _ := New[note](3)
	if err := src.Save(prefix); err != nil {
		t.Fatal(err)
	}
	dst, _ := New[note](3)
	_ = dst.AddBatch(context.Background(), [][]float32{{1, 2, 3}}, []note{{"x", 0}})
	if err := dst.Load(prefix); err != nil {
		t.Fatal(err)
	}
	if dst.Size() != 0 {
		t.Errorf("Size=%d, want 0", dst.Size())
	}
}

func TestIndex_SaveInvalidPath(t *testing.T) {
	idx := seededIndex(t, 3)
	for _, p := range []string{"", "   "} {
		if err := idx.Save(p); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Save(%q): got %v, want ErrInvalidPath", p, err)
		}
		if err := idx.Load(p); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Load(%q): got %v, want ErrInvalidPath", p, err)
		}
	}
}

func TestIndex_SaveIOFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	idx := seededIndex(t, 3)
	err := idx.Save(filepath.Join(blocker, "sub", "index"))
	if !errors.Is(err, ErrIOFailure) {
		t.Fatalf("got %v, want ErrIOFailure", err)
	}
}

func TestIndex_LoadNotFound(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "idx")
	idx := seededIndex(t, 3)

	if err := idx.Load(prefix); !errors.Is(err, ErrNotFound) {
		t.Errorf("no files: got %v, want ErrNotFound", err)
	}

	if err := idx.Save(prefix); err != nil {
		t.Fatal(err)
	}
	for _, missing := range []string{prefix + PayloadSuffix, prefix} {
		other := filepath.Join(dir, "copy")
		if err := idx.Save(other); err != nil {
			t.Fatal(err)
		}
		target := other
		if missing == prefix+PayloadSuffix {
			target = other + PayloadSuffix
		}
		if err := os.Remove(target); err != nil {
			t.Fatal(err)
		}
		fresh, _ := New[note](3)
		if err := fresh.Load(other); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing %s: got %v, want ErrNotFound", filepath.Base(target), err)
		}
		if fresh.Size() != 0 {
			t.Errorf("partial load: size %d", fresh.Size())
		}
	}
	if idx.Size() != 3 {
		t.Errorf("failed loads changed the index: size %d", idx.Size())
	}
}

func TestIndex_LoadCorrupt(t *testing.T) {
	tests := []struct {
		name   string
		mangle func(t *testing.T, prefix string)
	}{
		{"flipped vector byte", func(t *testing.T, prefix string) {
			data, _ := os.ReadFile(prefix)
			data[headerSize+1] ^= 0xFF
			writeFile(t, prefix, data)
		}},
		{"truncated vector file", func(t *testing.T, prefix string) {
			data, _ := os.ReadFile(prefix)
			writeFile(t, prefix, data[:len(data)-7])
		}},
		{"too short", func(t *testing.T, prefix string) {
			writeFile(t, prefix, []byte("ABVX"))
		}},
		{"bad magic", func(t *testing.T, prefix string) {
			data, _ := os.ReadFile(prefix)
			copy(data, "NOPE")
			writeFile(t, prefix, data)
		}},
		{"payload not json", func(t *testing.T, prefix string) {
			writeFile(t, prefix+PayloadSuffix, []byte("{not json"))
		}},
		{"payload count differs", func(t *testing.T, prefix string) {
			writeFile(t, prefix+PayloadSuffix, []byte(`{"version":1,"generation":"x","count":5,"payloads":[]}`))
		}},
		{"torn pair", func(t *testing.T, prefix string) {
			other := prefix + ".other"
			idx := seededIndex(t, 3)
			if err := idx.Save(other); err != nil {
				t.Fatal(err)
			}
			data, _ := os.ReadFile(other + PayloadSuffix)
			writeFile(t, prefix+PayloadSuffix, data)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefix := filepath.Join(t.TempDir(), "idx")
			if err := seededIndex(t, 3).Save(prefix); err != nil {
				t.Fatal(err)
			}
			tt.mangle(t, prefix)

			dst, _ := New[note](3)
			_ = dst.AddBatch(context.Background(), [][]float32{{1, 1, 1}}, []note{{"keep", 9}})
			if err := dst.Load(prefix); !errors.Is(err, ErrCorruptData) {
				t.Fatalf("got %v, want ErrCorruptData", err)
			}
			if p := dst.Payloads(); dst.Size() != 1 || p[0].Text != "keep" {
				t.Errorf("failed load modified the index: %v", p)
			}
		})
	}
}

func TestIndex_LoadAdoptsDimension(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "idx")
	if err := seededIndex(t, 5).Save(prefix); err != nil {
		t.Fatal(err)
	}

	core, logs := observer.New(zap.WarnLevel)
	obs := newRecordingObserver()
	idx, _ := New[note](3, WithLogger(zap.New(core)), WithObserver(obs))
	if err := idx.Load(prefix); err != nil {
		t.Fatal(err)
	}
	if idx.Dimension() != 5 {
		t.Fatalf("Dimension=%d, want 5", idx.Dimension())
	}
	if logs.FilterMessage("index dimension adopted from disk").Len() != 1 {
		t.Errorf("expected one adoption warning, got %v", logs.All())
	}
	if len(obs.adopted) != 1 || obs.adopted[0] != [2]int{3, 5} {
		t.Errorf("observer adoption events: %v", obs.adopted)
	}

	ctx := context.Background()
	if _, err := idx.Search(ctx, []float32{1, 0, 0}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("old dimension query: got %v", err)
	}
	if res, err := idx.Search(ctx, []float32{1, 0, 0, 0, 0}, 1); err != nil || len(res) != 1 {
		t.Errorf("new dimension query: %v, %v", res, err)
	}
}

func TestIndex_ObserverEvents(t *testing.T) {
	obs := newRecordingObserver()
	idx, _ := New[note](2, WithObserver(obs))
	ctx := context.Background()
	_ = idx.AddBatch(ctx, [][]float32{{1, 0}}, []note{{"a", 0}})
	_ = idx.AddBatch(ctx, [][]float32{{0, 1}}, []note{{"b", 1}})
	_, _ = idx.Search(ctx, []float32{1, 0}, 1)

	prefix := filepath.Join(t.TempDir(), "idx")
	if err := idx.Save(prefix); err != nil {
		t.Fatal(err)
	}
	idx.Reset()
	if err := idx.Load(prefix); err != nil {
		t.Fatal(err)
	}
	_ = idx.Load(filepath.Join(t.TempDir(), "missing"))

	want := []int{1, 2, 0, 2}
	if len(obs.sizes) != len(want) {
		t.Fatalf("sizes=%v, want %v", obs.sizes, want)
	}
	for i := range want {
		if obs.sizes[i] != want[i] {
			t.Errorf("sizes=%v, want %v", obs.sizes, want)
			break
		}
	}
	if obs.searches != 1 {
		t.Errorf("searches=%d", obs.searches)
	}
	if obs.persisted[OpSave] != 1 || obs.persisted[OpLoad] != 1 || obs.failures != 1 {
		t.Errorf("persisted=%v failures=%d", obs.persisted, obs.failures)
	}
}

func TestIndex_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	idx := seededIndex(t, 3)
	for i := 0; i < 3; i++ {
		if err := idx.Save(filepath.Join(dir, "idx")); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("expected exactly two files, got %v", names)
	}
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
}
