package rag

import (
	"fmt"
	"strings"
	"testing"

	"github.com/kosmos-bio/kosmos/internal/document"
)

func candidate(id, title, content string, score float32) document.Candidate {
	return document.Candidate{
		Document: document.Document{
			ID:      id,
			Content: content,
			Metadata: document.Metadata{
				Title:      title,
				SourceType: document.SourcePublication,
			},
		},
		Score: score,
	}
}

func TestAssembleEmpty(t *testing.T) {
	t.Parallel()

	text, sources := NewAssembler(1000).Assemble(nil)
	if text != "" || sources != nil {
		t.Fatalf("Assemble(nil) = (%q, %v), want empty", text, sources)
	}
}

func TestAssembleNumbersSources(t *testing.T) {
	t.Parallel()

	text, sources := NewAssembler(6000).Assemble([]document.Candidate{
		candidate("a", "Bone loss study", "content a", 0.9),
		candidate("b", "Muscle atrophy study", "content b", 0.8),
	})

	if len(sources) != 2 {
		t.Fatalf("got %d sources, want 2", len(sources))
	}
	for i, s := range sources {
		if s.Index != i+1 {
			t.Errorf("sources[%d].Index = %d, want %d", i, s.Index, i+1)
		}
		if !strings.Contains(text, fmt.Sprintf("[%d] %s", s.Index, s.Title)) {
			t.Errorf("context missing numbered header for %q", s.Title)
		}
	}
}

func TestAssembleDedupesByTitle(t *testing.T) {
	t.Parallel()

	_, sources := NewAssembler(6000).Assemble([]document.Candidate{
		candidate("a", "Rodent Research-1", "chunk one", 0.9),
		candidate("b", "rodent research-1", "chunk two", 0.85),
		candidate("c", "Plant growth on ISS", "chunk three", 0.8),
	})

	if len(sources) != 2 {
		t.Fatalf("got %d sources after dedupe, want 2", len(sources))
	}
	if sources[0].Title != "Rodent Research-1" {
		t.Errorf("best-scored duplicate not kept: %q", sources[0].Title)
	}
}

func TestAssembleDedupesByID(t *testing.T) {
	t.Parallel()

	_, sources := NewAssembler(6000).Assemble([]document.Candidate{
		candidate("pmc-1", "Rodent Research-1", "chunk one", 0.9),
		candidate("pmc-1", "Rodent Research-1 (reprint)", "chunk two", 0.85),
		candidate("pmc-2", "Plant growth on ISS", "chunk three", 0.8),
	})

	if len(sources) != 2 {
		t.Fatalf("got %d sources after dedupe, want 2", len(sources))
	}
	if sources[0].ID != "pmc-1" || sources[1].ID != "pmc-2" {
		t.Errorf("source ids = %q, %q; want pmc-1, pmc-2", sources[0].ID, sources[1].ID)
	}
}

func TestAssembleCapsSources(t *testing.T) {
	t.Parallel()

	var candidates []document.Candidate
	for i := 0; i < maxSources+5; i++ {
		candidates = append(candidates,
			candidate(fmt.Sprintf("d%d", i), fmt.Sprintf("Study %d", i), "short", float32(1)-float32(i)/100))
	}

	_, sources := NewAssembler(100_000).Assemble(candidates)
	if len(sources) != maxSources {
		t.Fatalf("got %d sources, want cap %d", len(sources), maxSources)
	}
}

func TestAssembleHonorsBudget(t *testing.T) {
	t.Parallel()

	const budget = 300
	long := strings.Repeat("microgravity alters gene expression ", 40)

	var candidates []document.Candidate
	for i := 0; i < 6; i++ {
		candidates = append(candidates,
			candidate(fmt.Sprintf("d%d", i), fmt.Sprintf("Study %d", i), long, float32(1)-float32(i)/10))
	}

	text, sources := NewAssembler(budget).Assemble(candidates)
	if got := estimateTokens(text); got > budget {
		t.Fatalf("context is %d tokens, budget %d", got, budget)
	}
	if len(sources) == 0 {
		t.Fatal("budget clipping removed every source")
	}
	// The survivors must be the best-scored prefix.
	for i, s := range sources {
		if want := fmt.Sprintf("Study %d", i); s.Title != want {
			t.Errorf("sources[%d].Title = %q, want %q", i, s.Title, want)
		}
	}
}

func TestAssembleNeverEmptyWithOversizedSingle(t *testing.T) {
	t.Parallel()

	const budget = 50
	huge := strings.Repeat("bone density measurements ", 200)

	text, sources := NewAssembler(budget).Assemble([]document.Candidate{
		candidate("a", "Oversized study", huge, 0.9),
	})

	if text == "" || len(sources) != 1 {
		t.Fatalf("oversized single candidate produced empty context (%d sources)", len(sources))
	}
	if got := estimateTokens(text); got > budget {
		t.Fatalf("context is %d tokens, budget %d", got, budget)
	}
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want int
	}{
		{text: "", want: 0},
		{text: "ab", want: 1},
		{text: "hello world", want: 5},
		{text: "微重力研究", want: 2},
	}
	for _, tt := range tests {
		if got := estimateTokens(tt.text); got != tt.want {
			t.Errorf("estimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}
