package knowledge

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
)

// flatIndex is an exact nearest-neighbor structure over fixed-dimension
// vectors. Scores are squared Euclidean distances over raw, unnormalized
// vectors — smaller means closer. This is deliberately not cosine similarity.
type flatIndex struct {
	dim     int
	vectors [][]float32
}

func newFlatIndex(dim int) *flatIndex {
	return &flatIndex{dim: dim}
}

func (f *flatIndex) add(vec []float32) error {
	if len(vec) != f.dim {
		return fmt.Errorf("vector dimension mismatch: got %d, want %d", len(vec), f.dim)
	}
	f.vectors = append(f.vectors, vec)
	return nil
}

func (f *flatIndex) len() int {
	return len(f.vectors)
}

type neighbor struct {
	position int
	distance float32
}

// search returns up to topK positions ordered by ascending distance.
func (f *flatIndex) search(query []float32, topK int) []neighbor {
	if len(f.vectors) == 0 || topK <= 0 {
		return nil
	}

	neighbors := make([]neighbor, len(f.vectors))
	for i, vec := range f.vectors {
		neighbors[i] = neighbor{position: i, distance: squaredL2(query, vec)}
	}

	sort.Slice(neighbors, func(i, j int) bool {
		return neighbors[i].distance < neighbors[j].distance
	})

	if topK > len(neighbors) {
		topK = len(neighbors)
	}
	return neighbors[:topK]
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// writeTo serializes the index as little-endian: uint32 dim, uint32 count,
// then count*dim float32 values.
func (f *flatIndex) writeTo(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(f.dim)); err != nil {
		return fmt.Errorf("failed to write index header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(f.vectors))); err != nil {
		return fmt.Errorf("failed to write index header: %w", err)
	}
	for _, vec := range f.vectors {
		if err := binary.Write(w, binary.LittleEndian, vec); err != nil {
			return fmt.Errorf("failed to write vectors: %w", err)
		}
	}
	return nil
}

func readFlatIndex(r io.Reader) (*flatIndex, error) {
	var dim, count uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("failed to read index header: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("failed to read index header: %w", err)
	}

	f := newFlatIndex(int(dim))
	for i := uint32(0); i < count; i++ {
		vec := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, fmt.Errorf("failed to read vector %d: %w", i, err)
		}
		f.vectors = append(f.vectors, vec)
	}
	return f, nil
}

func (f *flatIndex) saveFile(path string) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	if err := f.writeTo(file); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close index file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace index file: %w", err)
	}
	return nil
}

func loadFlatIndex(path string) (*flatIndex, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()
	return readFlatIndex(file)
}
