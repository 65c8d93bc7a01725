package rag_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/kosmos-bio/kosmos/internal/chat"
	"github.com/kosmos-bio/kosmos/internal/document"
	"github.com/kosmos-bio/kosmos/internal/entity"
	"github.com/kosmos-bio/kosmos/internal/gemini"
	"github.com/kosmos-bio/kosmos/internal/rag"
	"github.com/kosmos-bio/kosmos/internal/testutil"
	"github.com/kosmos-bio/kosmos/internal/vector"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// corpusSearcher returns a fixed ranked corpus regardless of the query
// embedding, standing in for the pgvector store.
type corpusSearcher struct {
	candidates []document.Candidate
}

func (s *corpusSearcher) Search(_ context.Context, _ []float32, _ ...vector.SearchOption) ([]document.Candidate, error) {
	return s.candidates, nil
}

func spaceBiologyCorpus() *corpusSearcher {
	return &corpusSearcher{candidates: []document.Candidate{
		{
			Document: document.Document{
				ID:      "PMC-1001",
				Content: "Mice flown on the ISS for 30 days showed significant bone density loss in load-bearing regions under microgravity.",
				Metadata: document.Metadata{
					Title:      "Microgravity-induced bone loss in mice",
					SourceType: document.SourcePublication,
				},
			},
			Score: 0.92,
		},
		{
			Document: document.Document{
				ID:      "GLDS-242",
				Content: "Transcriptomic profiling of murine femur tissue after spaceflight aboard the International Space Station.",
				Metadata: document.Metadata{
					Title:      "Rodent Research-1 femur transcriptomics",
					SourceType: document.SourceDataset,
				},
			},
			Score: 0.85,
		},
	}}
}

func quickRetry() chat.RetryConfig {
	return chat.RetryConfig{
		MaxRetries:      1,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func newPipeline(t *testing.T, mock *testutil.MockLLM) *rag.Pipeline {
	t.Helper()
	logger := testutil.DiscardLogger()

	retriever := rag.NewRetriever(testutil.NewHashEmbedder(768), spaceBiologyCorpus(), 0, logger)
	orchestrator := chat.NewOrchestrator(mock, nil, quickRetry(), 2000, logger)

	return rag.NewPipeline(retriever, rag.NewAssembler(6000), orchestrator,
		entity.NewPatternExtractor(), logger)
}

func TestPipelineAnswersWithCitationsAndEntities(t *testing.T) {
	t.Parallel()

	mock := testutil.NewMockLLM("I could not find relevant research.")
	mock.AddResponse("bone density",
		"Studies aboard the ISS show that microgravity accelerates bone density loss in mice [1]. Transcriptomic data confirms changes in femur tissue [2].")

	p := newPipeline(t, mock)
	answer, err := p.Answer(context.Background(),
		document.Query{Text: "How does microgravity affect bone density in mice?"}, nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	if len(answer.Sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(answer.Sources))
	}
	if !strings.Contains(answer.Text, "[1]") || !strings.Contains(answer.Text, "[2]") {
		t.Errorf("answer %q lost citation markers", answer.Text)
	}

	wantEntities := []entity.Entity{
		{Type: entity.TypeOrganism, Value: "mice"},
		{Type: entity.TypeTissue, Value: "bone"},
		{Type: entity.TypeGravityCondition, Value: "microgravity"},
	}
	for _, want := range wantEntities {
		found := false
		for _, got := range answer.Entities {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing entity %+v in %+v", want, answer.Entities)
		}
	}
}

func TestPipelineStripsInventedCitations(t *testing.T) {
	t.Parallel()

	mock := testutil.NewMockLLM("fallback")
	mock.AddResponse("muscle", "Muscle atrophy is documented [1] and elsewhere [7].")

	p := newPipeline(t, mock)
	answer, err := p.Answer(context.Background(),
		document.Query{Text: "what is known about muscle atrophy in space"}, nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !strings.Contains(answer.Text, "[1]") {
		t.Errorf("valid citation removed: %q", answer.Text)
	}
	if strings.Contains(answer.Text, "[7]") {
		t.Errorf("invented citation survived: %q", answer.Text)
	}
}

func TestPipelineRejectionReturnsApologyWithoutSources(t *testing.T) {
	t.Parallel()

	mock := testutil.NewMockLLM("fallback")
	mock.FailWith("dangerous", gemini.ErrGenerationRejected)

	p := newPipeline(t, mock)
	answer, err := p.Answer(context.Background(),
		document.Query{Text: "something dangerous"}, nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer.Text == "" {
		t.Error("apology text missing")
	}
	if len(answer.Sources) != 0 || len(answer.Entities) != 0 {
		t.Errorf("refusal leaked sources/entities: %+v", answer)
	}
	if calls := mock.Calls(); len(calls) != 1 {
		t.Errorf("generation attempts = %d, want 1 (no retry on refusal)", len(calls))
	}
}

func TestPipelineRetriesUnavailableGeneration(t *testing.T) {
	t.Parallel()

	mock := testutil.NewMockLLM("fallback")
	mock.FailWith("radiation", gemini.ErrGenerationUnavailable)

	p := newPipeline(t, mock)
	_, err := p.Answer(context.Background(),
		document.Query{Text: "radiation effects on cells"}, nil)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	// MaxRetries 1 means one initial attempt plus one retry.
	if calls := mock.Calls(); len(calls) != 2 {
		t.Errorf("generation attempts = %d, want 2", len(calls))
	}
}

func TestPipelineEmbeddingIsDeterministicAcrossCalls(t *testing.T) {
	t.Parallel()

	embedder := testutil.NewHashEmbedder(768)
	first, _ := embedder.Embed(context.Background(), "bone density")
	second, _ := embedder.Embed(context.Background(), "bone density")
	if len(first) != 768 {
		t.Fatalf("dimensions = %d, want 768", len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("vector differs at %d", i)
		}
	}
}
