// Package index provides exact nearest-neighbor retrieval over the
// embedded lines of a bot corpus.
//
// Corpora here are tens to low thousands of lines, so the index is a
// flat structure searched linearly with exact L2 distance. Approximate
// structures buy nothing at this scale and would cost determinism.
package index

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"sort"
	"sync"
)

// placeholderLine is substituted when a corpus is empty so the index is
// never degenerate (no zero-row search structure, no zero-vector query
// edge cases).
const placeholderLine = "hello"

// Encoder turns text into fixed-dimension vectors. Implementations must
// be deterministic for a given model version, and must use the same
// model for corpus lines and queries.
type Encoder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Match is one retrieval hit: a corpus line position and its L2 distance
// from the query.
type Match struct {
	Line     int
	Distance float32
}

// Index holds the embedded lines of one corpus. Read-only after Build;
// safe for concurrent Search.
type Index struct {
	encoder Encoder
	lines   []string
	vectors [][]float32
	dim     int
}

// Build encodes every corpus line and assembles a flat index over them.
// Vector i corresponds to lines[i]. An empty corpus is replaced with a
// single placeholder line rather than rejected.
func Build(ctx context.Context, enc Encoder, corpus []string) (*Index, error) {
	lines := corpus
	if len(lines) == 0 {
		lines = []string{placeholderLine}
	}

	vectors, err := enc.EmbedBatch(ctx, lines)
	if err != nil {
		return nil, fmt.Errorf("embed corpus: %w", err)
	}
	if len(vectors) != len(lines) {
		return nil, fmt.Errorf("encoder returned %d vectors for %d lines", len(vectors), len(lines))
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}

	return &Index{encoder: enc, lines: lines, vectors: vectors, dim: dim}, nil
}

// Lines returns the indexed corpus lines, positionally aligned with the
// vectors. The caller must not mutate the slice.
func (ix *Index) Lines() []string { return ix.lines }

// Search returns the k corpus lines nearest to queryText, ascending by
// L2 distance, ties broken by corpus order. At most k matches come back;
// fewer if the corpus is smaller.
func (ix *Index) Search(ctx context.Context, queryText string, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	qv, err := ix.encoder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(qv) != ix.dim {
		return nil, fmt.Errorf("query vector has dimension %d, index has %d", len(qv), ix.dim)
	}

	matches := make([]Match, len(ix.vectors))
	for i, v := range ix.vectors {
		matches[i] = Match{Line: i, Distance: l2Distance(qv, v)}
	}
	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Distance < matches[b].Distance
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func l2Distance(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}

// Cache memoizes built indexes keyed by a content hash of the corpus, so
// repeated lookups for an unchanged bot are free and any byte-level
// change to the corpus invalidates the entry automatically.
type Cache struct {
	mu      sync.Mutex
	entries map[[sha256.Size]byte]*Index
}

func NewCache() *Cache {
	return &Cache{entries: make(map[[sha256.Size]byte]*Index)}
}

// Get returns the cached index for the given corpus text, building and
// caching one on a miss. corpusText is the joined corpus exactly as
// stored; lines are its non-empty trimmed split.
func (c *Cache) Get(ctx context.Context, enc Encoder, corpusText string, lines []string) (*Index, error) {
	key := sha256.Sum256([]byte(corpusText))

	c.mu.Lock()
	cached, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	ix, err := Build(ctx, enc, lines)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = ix
	c.mu.Unlock()
	return ix, nil
}
