package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/kosmos-bio/kosmos/internal/document"
	"github.com/kosmos-bio/kosmos/internal/gemini"
	"github.com/kosmos-bio/kosmos/internal/vector"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	vec := make([]float32, vector.Dimensions)
	for i, r := range text {
		vec[i%vector.Dimensions] += float32(r)
	}
	return vec, nil
}

type fakeSearcher struct {
	results []document.Candidate
	err     error
	lastOpt []vector.SearchOption
}

func (s *fakeSearcher) Search(_ context.Context, _ []float32, opts ...vector.SearchOption) ([]document.Candidate, error) {
	s.lastOpt = opts
	return s.results, s.err
}

func TestRetrieveUsesEmbeddingCache(t *testing.T) {
	t.Parallel()

	embedder := &countingEmbedder{}
	r := NewRetriever(embedder, &fakeSearcher{}, 0, nil)
	ctx := context.Background()

	q := document.Query{Text: "bone loss in microgravity"}
	for i := 0; i < 3; i++ {
		if _, err := r.Retrieve(ctx, q); err != nil {
			t.Fatalf("Retrieve() #%d = %v", i, err)
		}
	}
	if embedder.calls != 1 {
		t.Errorf("embedder called %d times for identical query, want 1", embedder.calls)
	}

	q.Text = "muscle atrophy"
	if _, err := r.Retrieve(ctx, q); err != nil {
		t.Fatalf("Retrieve() = %v", err)
	}
	if embedder.calls != 2 {
		t.Errorf("embedder called %d times after new query, want 2", embedder.calls)
	}
}

func TestRetrieveFailsFastOnEmbeddingError(t *testing.T) {
	t.Parallel()

	embedder := &countingEmbedder{err: gemini.ErrEmbeddingUnavailable}
	searcher := &fakeSearcher{}
	r := NewRetriever(embedder, searcher, 0, nil)

	_, err := r.Retrieve(context.Background(), document.Query{Text: "anything"})
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("Retrieve() = %v, want ErrEmbeddingUnavailable", err)
	}
	if searcher.lastOpt != nil {
		t.Error("store was queried despite embedding failure")
	}
}

func TestRetrieveSurfacesStoreError(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{err: vector.ErrUnavailable}
	r := NewRetriever(&countingEmbedder{}, searcher, 0, nil)

	_, err := r.Retrieve(context.Background(), document.Query{Text: "anything"})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Retrieve() = %v, want ErrStoreUnavailable", err)
	}
}

func TestClampTopK(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       int
		fallback int
		want     int
	}{
		{in: 0, fallback: DefaultTopK, want: DefaultTopK},
		{in: 0, fallback: 20, want: 20},
		{in: -1, fallback: DefaultTopK, want: DefaultTopK},
		{in: 5, fallback: 20, want: 5},
		{in: MaxTopK, fallback: DefaultTopK, want: MaxTopK},
		{in: MaxTopK + 1, fallback: DefaultTopK, want: MaxTopK},
		{in: 10_000, fallback: DefaultTopK, want: MaxTopK},
	}
	for _, tt := range tests {
		if got := clampTopK(tt.in, tt.fallback); got != tt.want {
			t.Errorf("clampTopK(%d, %d) = %d, want %d", tt.in, tt.fallback, got, tt.want)
		}
	}
}

func TestWithDefaultTopK(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opt  int
		want int
	}{
		{name: "configured value wins", opt: 20, want: 20},
		{name: "zero keeps package default", opt: 0, want: DefaultTopK},
		{name: "over max keeps package default", opt: MaxTopK + 1, want: DefaultTopK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := NewRetriever(&countingEmbedder{}, &fakeSearcher{}, 0, nil, WithDefaultTopK(tt.opt))
			if r.defaultTopK != tt.want {
				t.Errorf("defaultTopK = %d, want %d", r.defaultTopK, tt.want)
			}
		})
	}
}

func TestSanitizeFilters(t *testing.T) {
	t.Parallel()

	got := sanitizeFilters(map[string]string{
		"organism":    "mouse",
		"mission":     "ISS",
		"planet":      "mars",
		"source_type": "dataset",
		"tissue":      "",
	})
	want := map[string]string{
		"organism":    "mouse",
		"mission":     "ISS",
		"source_type": "dataset",
	}
	if len(got) != len(want) {
		t.Fatalf("sanitizeFilters() = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("sanitizeFilters()[%q] = %q, want %q", k, got[k], v)
		}
	}

	if sanitizeFilters(nil) != nil {
		t.Error("sanitizeFilters(nil) != nil")
	}
}
