package dedup

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/schoolbot/backend/internal/storage/models"
	"github.com/schoolbot/backend/internal/storage/sqlite"
	"github.com/schoolbot/backend/pkg/logger"
)

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Deduplicator tracks semantically distinct questions for analytics. Two
// questions are near-duplicates when the cosine similarity of their
// embeddings meets the threshold. Note the contrast with the knowledge index,
// which ranks by raw L2 distance; the two metrics are intentionally separate.
//
// Every Record call scans all stored questions linearly, so cost grows with
// the number of distinct questions ever seen. Fine at support-bot scale; a
// proper vector index is needed before this sees real volume.
type Deduplicator struct {
	db        *sqlite.Client
	embedder  Embedder
	threshold float64

	// mu makes scan-then-increment-or-insert atomic so two concurrent
	// near-duplicates cannot both be inserted as distinct.
	mu sync.Mutex
}

func New(db *sqlite.Client, embedder Embedder, threshold float64) *Deduplicator {
	return &Deduplicator{
		db:        db,
		embedder:  embedder,
		threshold: threshold,
	}
}

// Record stores the question if it is semantically new, otherwise increments
// the counter of the first stored question that clears the similarity
// threshold. The scan stops at the first match rather than looking for the
// best one; with a high threshold the difference rarely matters, and the
// first-match policy keeps results stable across runs.
func (d *Deduplicator) Record(ctx context.Context, question, source string) (bool, error) {
	embedding, err := d.embedder.Embed(ctx, question)
	if err != nil {
		return false, fmt.Errorf("failed to embed question: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	existing, err := d.db.ListEmbeddings(ctx)
	if err != nil {
		return false, err
	}

	for _, q := range existing {
		similarity := cosineSimilarity(embedding, q.Embedding)
		if similarity >= d.threshold {
			if err := d.db.IncrementQuestionCount(ctx, q.ID); err != nil {
				return false, err
			}
			logger.Debug("Duplicate question recorded",
				zap.Int64("matched_id", q.ID),
				zap.Float64("similarity", similarity),
			)
			return false, nil
		}
	}

	record := &models.UniqueQuestion{
		Question:  question,
		Embedding: embedding,
		Source:    source,
		CreatedAt: time.Now(),
	}
	if err := d.db.InsertQuestion(ctx, record); err != nil {
		return false, err
	}

	logger.Info("New unique question recorded",
		zap.Int64("id", record.ID),
		zap.String("source", source),
	)
	return true, nil
}

// List returns all recorded questions newest-first.
func (d *Deduplicator) List(ctx context.Context) ([]models.UniqueQuestion, error) {
	return d.db.ListQuestions(ctx)
}

// Get returns one recorded question by id.
func (d *Deduplicator) Get(ctx context.Context, id int64) (*models.UniqueQuestion, error) {
	return d.db.GetQuestion(ctx, id)
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
