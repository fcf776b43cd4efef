package index

import (
	"context"
	"errors"
	"testing"
)

// fakeEncoder maps known strings to fixed 2-d vectors so distances are
// easy to reason about.
type fakeEncoder struct {
	vectors map[string][]float32
	batches int
}

func (f *fakeEncoder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, ok := f.vectors[text]
	if !ok {
		return nil, errors.New("unknown text: " + text)
	}
	return v, nil
}

func (f *fakeEncoder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.batches++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{vectors: map[string][]float32{
		"near":  {1, 0},
		"mid":   {3, 0},
		"far":   {10, 0},
		"query": {0, 0},
		"hello": {5, 5},
	}}
}

func TestSearch_OrderedByDistance(t *testing.T) {
	enc := newFakeEncoder()
	ix, err := Build(context.Background(), enc, []string{"far", "near", "mid"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	matches, err := ix.Search(context.Background(), "query", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("got %d matches, want 3", len(matches))
	}
	wantOrder := []int{1, 2, 0} // near, mid, far by corpus position
	for i, m := range matches {
		if m.Line != wantOrder[i] {
			t.Errorf("match %d = line %d, want %d", i, m.Line, wantOrder[i])
		}
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Distance < matches[i-1].Distance {
			t.Errorf("distances not ascending: %v", matches)
		}
	}
}

func TestSearch_KLimitsResults(t *testing.T) {
	enc := newFakeEncoder()
	ix, err := Build(context.Background(), enc, []string{"far", "near", "mid"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	matches, err := ix.Search(context.Background(), "query", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches, _ := ix.Search(context.Background(), "query", 50); len(matches) != 3 {
		t.Fatalf("oversized k returned %d matches", len(matches))
	}
}

func TestSearch_TiesBreakByCorpusOrder(t *testing.T) {
	enc := &fakeEncoder{vectors: map[string][]float32{
		"a": {1, 0}, "b": {1, 0}, "q": {0, 0},
	}}
	ix, err := Build(context.Background(), enc, []string{"a", "b"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	matches, err := ix.Search(context.Background(), "q", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if matches[0].Line != 0 || matches[1].Line != 1 {
		t.Fatalf("tie order wrong: %v", matches)
	}
}

func TestBuild_EmptyCorpusGetsPlaceholder(t *testing.T) {
	enc := newFakeEncoder()
	ix, err := Build(context.Background(), enc, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := ix.Lines(); len(got) != 1 || got[0] != placeholderLine {
		t.Fatalf("placeholder corpus = %q", got)
	}
	matches, err := ix.Search(context.Background(), "query", 5)
	if err != nil {
		t.Fatalf("Search on placeholder index: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
}

func TestBuild_RejectsMixedDimensions(t *testing.T) {
	enc := &fakeEncoder{vectors: map[string][]float32{
		"a": {1, 0}, "b": {1, 0, 0},
	}}
	if _, err := Build(context.Background(), enc, []string{"a", "b"}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestCache_ReusesByContent(t *testing.T) {
	enc := newFakeEncoder()
	cache := NewCache()
	ctx := context.Background()

	first, err := cache.Get(ctx, enc, "near\nmid", []string{"near", "mid"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := cache.Get(ctx, enc, "near\nmid", []string{"near", "mid"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first != second {
		t.Error("same corpus content rebuilt the index")
	}
	if enc.batches != 1 {
		t.Errorf("encoder ran %d batches, want 1", enc.batches)
	}

	third, err := cache.Get(ctx, enc, "near\nfar", []string{"near", "far"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if third == first {
		t.Error("changed corpus content reused the old index")
	}
	if enc.batches != 2 {
		t.Errorf("encoder ran %d batches, want 2", enc.batches)
	}
}
