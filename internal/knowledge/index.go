package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/schoolbot/backend/pkg/logger"
)

const (
	indexFileName    = "index.bin"
	metadataFileName = "metadata.json"
	kbSourceName     = "knowledge_base.md"
)

// ErrIndexEmpty marks search against an index that has never been built or
// loaded. Callers degrade to an empty retrieval context rather than failing.
var ErrIndexEmpty = errors.New("knowledge index is empty")

// Embedder turns text into a fixed-length vector. Calls block on a remote
// oracle and must be given a context.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChunkRecord is the metadata stored alongside each indexed vector. The
// metadata slice and the vector index always match positionally.
type ChunkRecord struct {
	ChunkID string `json:"chunk_id"`
	Text    string `json:"text"`
	Source  string `json:"source"`
}

type SearchResult struct {
	ChunkID string
	Text    string
	// Score is the squared L2 distance to the query; smaller is closer.
	Score float32
}

// snapshot is one immutable generation of the index. Rebuilds produce a new
// snapshot and swap the pointer; readers never observe a partial rebuild.
type snapshot struct {
	index *flatIndex
	meta  []ChunkRecord
}

// Index is a semantic search structure over a chunked knowledge document,
// rebuildable at runtime and persisted as an index file plus a parallel
// metadata file under dir.
type Index struct {
	kbPath    string
	dir       string
	chunkSize int
	embedder  Embedder

	mu   sync.RWMutex
	snap *snapshot
}

func NewIndex(kbPath, dir string, chunkSize int, embedder Embedder) *Index {
	return &Index{
		kbPath:    kbPath,
		dir:       dir,
		chunkSize: chunkSize,
		embedder:  embedder,
	}
}

// Load restores the persisted index and metadata. A missing index is not an
// error: the index simply stays empty until the first rebuild.
func (idx *Index) Load() error {
	indexPath := filepath.Join(idx.dir, indexFileName)
	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		logger.Warn("Knowledge index not found, search disabled until rebuild",
			zap.String("dir", idx.dir),
		)
		return nil
	}

	flat, err := loadFlatIndex(indexPath)
	if err != nil {
		return fmt.Errorf("failed to load vector index: %w", err)
	}

	metaBytes, err := os.ReadFile(filepath.Join(idx.dir, metadataFileName))
	if err != nil {
		return fmt.Errorf("failed to read chunk metadata: %w", err)
	}

	var meta []ChunkRecord
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return fmt.Errorf("failed to parse chunk metadata: %w", err)
	}

	if flat.len() != len(meta) {
		return fmt.Errorf("index/metadata length mismatch: %d vectors, %d records", flat.len(), len(meta))
	}

	idx.mu.Lock()
	idx.snap = &snapshot{index: flat, meta: meta}
	idx.mu.Unlock()

	logger.Info("Knowledge index loaded",
		zap.Int("chunks", len(meta)),
		zap.Int("dimension", flat.dim),
	)
	return nil
}

// Rebuild re-reads the knowledge-base file and rebuilds the index from it.
func (idx *Index) Rebuild(ctx context.Context) error {
	content, err := os.ReadFile(idx.kbPath)
	if err != nil {
		return fmt.Errorf("failed to read knowledge base: %w", err)
	}
	return idx.RebuildText(ctx, string(content))
}

// RebuildText chunks the source, embeds every chunk, persists the new index
// and metadata, and swaps them in atomically. On any failure the previous
// generation stays live and authoritative.
func (idx *Index) RebuildText(ctx context.Context, source string) error {
	chunks := SplitChunks(source, idx.chunkSize)
	logger.Info("Rebuilding knowledge index", zap.Int("chunks", len(chunks)))

	var flat *flatIndex
	meta := make([]ChunkRecord, 0, len(chunks))

	for i, chunk := range chunks {
		vec, err := idx.embedder.Embed(ctx, chunk)
		if err != nil {
			return fmt.Errorf("failed to embed chunk %d: %w", i, err)
		}
		if flat == nil {
			flat = newFlatIndex(len(vec))
		}
		if err := flat.add(vec); err != nil {
			return fmt.Errorf("failed to index chunk %d: %w", i, err)
		}
		meta = append(meta, ChunkRecord{
			ChunkID: fmt.Sprintf("kb_%03d", i),
			Text:    chunk,
			Source:  kbSourceName,
		})
	}

	if flat == nil {
		flat = newFlatIndex(0)
	}

	if err := idx.persist(flat, meta); err != nil {
		return err
	}

	idx.mu.Lock()
	idx.snap = &snapshot{index: flat, meta: meta}
	idx.mu.Unlock()

	logger.Info("Knowledge index rebuilt", zap.Int("chunks", len(meta)))
	return nil
}

// Search embeds the query and returns up to topK chunks ordered by ascending
// distance. An empty or never-built index yields no results and no error.
func (idx *Index) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	idx.mu.RLock()
	snap := idx.snap
	idx.mu.RUnlock()

	if snap == nil || snap.index.len() == 0 {
		return nil, nil
	}

	queryVec, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(queryVec) != snap.index.dim {
		// The embedding model changed since the last rebuild; distances
		// against the stored vectors would be meaningless.
		return nil, fmt.Errorf("query dimension mismatch: got %d, index has %d; rebuild the index",
			len(queryVec), snap.index.dim)
	}

	results := make([]SearchResult, 0, topK)
	for _, n := range snap.index.search(queryVec, topK) {
		record := snap.meta[n.position]
		results = append(results, SearchResult{
			ChunkID: record.ChunkID,
			Text:    record.Text,
			Score:   n.distance,
		})
	}
	return results, nil
}

// ChunkCount reports the size of the live snapshot.
func (idx *Index) ChunkCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.snap == nil {
		return 0
	}
	return idx.snap.index.len()
}

// persist writes the index and metadata files together; they are a single
// unit of backup and restore.
func (idx *Index) persist(flat *flatIndex, meta []ChunkRecord) error {
	if err := os.MkdirAll(idx.dir, 0755); err != nil {
		return fmt.Errorf("failed to create index dir: %w", err)
	}

	if err := flat.saveFile(filepath.Join(idx.dir, indexFileName)); err != nil {
		return err
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal chunk metadata: %w", err)
	}

	metaPath := filepath.Join(idx.dir, metadataFileName)
	tmp := metaPath + ".tmp"
	if err := os.WriteFile(tmp, metaBytes, 0644); err != nil {
		return fmt.Errorf("failed to write chunk metadata: %w", err)
	}
	if err := os.Rename(tmp, metaPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace chunk metadata: %w", err)
	}
	return nil
}
