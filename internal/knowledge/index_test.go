package knowledge

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

// fakeEmbedder returns canned vectors by exact text and a distant fallback
// for anything unregistered.
type fakeEmbedder struct {
	vectors map[string][]float32
	fail    bool
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: make(map[string][]float32)}
}

func (f *fakeEmbedder) set(text string, vec []float32) {
	f.vectors[text] = vec
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedding oracle unavailable")
	}
	if vec, ok := f.vectors[text]; ok {
		return vec, nil
	}
	return []float32{100, 100, 100}, nil
}

func newTestIndex(t *testing.T, emb Embedder) *Index {
	t.Helper()
	dir := t.TempDir()
	return NewIndex(filepath.Join(dir, "kb.md"), dir, 1000, emb)
}

func TestIndex_SearchEmptyIndex(t *testing.T) {
	idx := newTestIndex(t, newFakeEmbedder())

	results, err := idx.Search(context.Background(), "anything", 3)
	if err != nil {
		t.Fatalf("search on empty index must not fail: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestIndex_RebuildAndSearch(t *testing.T) {
	emb := newFakeEmbedder()
	emb.set("Школа работает с 9 до 18.", []float32{1, 0, 0})
	emb.set("Запись на курс через сайт школы.", []float32{0, 1, 0})
	emb.set("когда открыта школа?", []float32{0.9, 0.1, 0})

	idx := newTestIndex(t, emb)
	source := "Школа работает с 9 до 18.\n\nЗапись на курс через сайт школы."
	// Force one chunk per line.
	idx.chunkSize = 10

	if err := idx.RebuildText(context.Background(), source); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	results, err := idx.Search(context.Background(), "когда открыта школа?", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Text != "Школа работает с 9 до 18." {
		t.Errorf("closest chunk = %q, want the working-hours line", results[0].Text)
	}
	if results[0].Score >= results[1].Score {
		t.Errorf("results must be ordered by ascending distance: %v then %v",
			results[0].Score, results[1].Score)
	}
	for _, r := range results {
		if !strings.Contains(source, r.Text) {
			t.Errorf("result text %q is not a substring of the source", r.Text)
		}
		if r.ChunkID == "" {
			t.Error("result missing chunk id")
		}
	}
}

func TestIndex_TopKBound(t *testing.T) {
	emb := newFakeEmbedder()
	idx := newTestIndex(t, emb)
	idx.chunkSize = 10

	if err := idx.RebuildText(context.Background(), "первый факт\n\nвторой факт\n\nтретий факт"); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	results, err := idx.Search(context.Background(), "первый факт", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("expected results capped at index size 3, got %d", len(results))
	}
}

func TestIndex_PersistAndReload(t *testing.T) {
	emb := newFakeEmbedder()
	emb.set("Школа работает с 9 до 18.", []float32{1, 0, 0})
	emb.set("Запись на курс через сайт школы.", []float32{0, 1, 0})
	emb.set("когда открыта школа?", []float32{0.9, 0.1, 0})

	dir := t.TempDir()
	idx := NewIndex(filepath.Join(dir, "kb.md"), dir, 10, emb)
	source := "Школа работает с 9 до 18.\n\nЗапись на курс через сайт школы."
	if err := idx.RebuildText(context.Background(), source); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	want, err := idx.Search(context.Background(), "когда открыта школа?", 2)
	if err != nil {
		t.Fatalf("search before reload: %v", err)
	}

	reloaded := NewIndex(filepath.Join(dir, "kb.md"), dir, 10, emb)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	got, err := reloaded.Search(context.Background(), "когда открыта школа?", 2)
	if err != nil {
		t.Fatalf("search after reload: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("result count changed after reload: %d vs %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("result %d changed after reload: %+v vs %+v", i, got[i], want[i])
		}
	}
}

func TestIndex_FailedRebuildKeepsOldIndex(t *testing.T) {
	emb := newFakeEmbedder()
	emb.set("старый факт", []float32{1, 0, 0})
	emb.set("старый факт?", []float32{1, 0, 0})

	idx := newTestIndex(t, emb)
	idx.chunkSize = 10
	if err := idx.RebuildText(context.Background(), "старый факт"); err != nil {
		t.Fatalf("initial rebuild: %v", err)
	}

	emb.fail = true
	if err := idx.RebuildText(context.Background(), "новый факт"); err == nil {
		t.Fatal("rebuild with a failing embedder must return an error")
	}
	emb.fail = false

	results, err := idx.Search(context.Background(), "старый факт?", 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Text != "старый факт" {
		t.Errorf("previous index must stay authoritative after failed rebuild, got %+v", results)
	}
}

func TestIndex_SearchRejectsDimensionMismatch(t *testing.T) {
	emb := newFakeEmbedder()
	emb.set("старый факт", []float32{1, 0, 0})
	emb.set("запрос от новой модели", []float32{1, 0})

	idx := newTestIndex(t, emb)
	idx.chunkSize = 10
	if err := idx.RebuildText(context.Background(), "старый факт"); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if _, err := idx.Search(context.Background(), "запрос от новой модели", 1); err == nil {
		t.Error("a query vector of the wrong dimension must be an error, not a truncated score")
	}
}

func TestIndex_LoadMissingFilesIsNotFatal(t *testing.T) {
	idx := newTestIndex(t, newFakeEmbedder())
	if err := idx.Load(); err != nil {
		t.Fatalf("missing index files should not be a load error: %v", err)
	}
	if idx.ChunkCount() != 0 {
		t.Errorf("expected empty index, got %d chunks", idx.ChunkCount())
	}
}

func TestIndex_EmptyRebuildSucceeds(t *testing.T) {
	idx := newTestIndex(t, newFakeEmbedder())
	if err := idx.RebuildText(context.Background(), ""); err != nil {
		t.Fatalf("empty source is a valid rebuild, not a failure: %v", err)
	}
	results, err := idx.Search(context.Background(), "что-нибудь", 3)
	if err != nil || len(results) != 0 {
		t.Errorf("expected empty results after empty rebuild, got %v, %v", results, err)
	}
}
