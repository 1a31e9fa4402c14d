package dedup

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/schoolbot/backend/internal/storage/sqlite"
)

type fakeEmbedder struct {
	vectors map[string][]float32
	fail    bool
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedding oracle unavailable")
	}
	if vec, ok := f.vectors[text]; ok {
		return vec, nil
	}
	return []float32{1, 0, 0, 0}, nil
}

func newTestDedup(t *testing.T, emb Embedder) *Deduplicator {
	t.Helper()
	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "questions.db"))
	if err != nil {
		t.Fatalf("create db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return New(db, emb, 0.85)
}

func TestRecord_SameQuestionTwice(t *testing.T) {
	ctx := context.Background()
	d := newTestDedup(t, &fakeEmbedder{vectors: map[string][]float32{}})

	isNew, err := d.Record(ctx, "когда открыта школа?", "telegram")
	if err != nil {
		t.Fatalf("first record: %v", err)
	}
	if !isNew {
		t.Error("first occurrence should be new")
	}

	isNew, err = d.Record(ctx, "когда открыта школа?", "jivo")
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if isNew {
		t.Error("identical question should be a duplicate")
	}

	questions, err := d.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(questions) != 1 {
		t.Fatalf("expected 1 stored question, got %d", len(questions))
	}
	if questions[0].Count != 2 {
		t.Errorf("occurrence count = %d, want 2", questions[0].Count)
	}
	if questions[0].Source != "telegram" {
		t.Errorf("source = %q, want the first channel seen", questions[0].Source)
	}
}

func TestRecord_DistinctQuestionsBothStored(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"когда открыта школа?": {1, 0, 0, 0},
		"сколько стоит курс?":  {0, 1, 0, 0},
	}}
	d := newTestDedup(t, emb)

	if isNew, err := d.Record(ctx, "когда открыта школа?", "telegram"); err != nil || !isNew {
		t.Fatalf("first question: isNew=%v err=%v", isNew, err)
	}
	if isNew, err := d.Record(ctx, "сколько стоит курс?", "telegram"); err != nil || !isNew {
		t.Fatalf("orthogonal question: isNew=%v err=%v", isNew, err)
	}

	questions, _ := d.List(ctx)
	if len(questions) != 2 {
		t.Errorf("expected 2 distinct questions, got %d", len(questions))
	}
}

func TestRecord_FirstMatchWins(t *testing.T) {
	ctx := context.Background()
	// The third question clears the threshold against both stored
	// questions; only the first scanned may take the count.
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"а": {1, 0.3, 0, 0},
		"б": {1, -0.3, 0, 0}, // cos(а, б) ≈ 0.83, distinct at 0.85
		"в": {1, 0, 0, 0},    // cos to both а and б ≈ 0.958
	}}
	d := newTestDedup(t, emb)

	if isNew, _ := d.Record(ctx, "а", "telegram"); !isNew {
		t.Fatal("а should be new")
	}
	if isNew, _ := d.Record(ctx, "б", "telegram"); !isNew {
		t.Fatal("б should be distinct from а")
	}
	if isNew, _ := d.Record(ctx, "в", "telegram"); isNew {
		t.Fatal("в should match an existing question")
	}

	questions, _ := d.List(ctx)
	counts := map[string]int{}
	for _, q := range questions {
		counts[q.Question] = q.Count
	}
	if counts["а"] != 2 {
		t.Errorf("first matching record must take the count, got а=%d", counts["а"])
	}
	if counts["б"] != 1 {
		t.Errorf("later records are not checked after a match, got б=%d", counts["б"])
	}
}

func TestGet_ReturnsStoredQuestion(t *testing.T) {
	ctx := context.Background()
	d := newTestDedup(t, &fakeEmbedder{vectors: map[string][]float32{}})

	if _, err := d.Record(ctx, "когда открыта школа?", "telegram"); err != nil {
		t.Fatalf("record: %v", err)
	}
	questions, err := d.List(ctx)
	if err != nil || len(questions) != 1 {
		t.Fatalf("list: %v, %d questions", err, len(questions))
	}

	got, err := d.Get(ctx, questions[0].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Question != "когда открыта школа?" || got.Count != 1 {
		t.Errorf("unexpected question: %+v", got)
	}

	if _, err := d.Get(ctx, questions[0].ID+1000); err == nil {
		t.Error("unknown id must be an error")
	}
}

func TestRecord_EmbedderFailurePropagates(t *testing.T) {
	d := newTestDedup(t, &fakeEmbedder{fail: true})

	if _, err := d.Record(context.Background(), "вопрос", "telegram"); err == nil {
		t.Error("embedder failure must propagate, not be dropped")
	}
}
