package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kosmos-bio/kosmos/internal/gemini"
	"github.com/kosmos-bio/kosmos/internal/limit"
	"github.com/kosmos-bio/kosmos/internal/rag"
)

// scriptedGenerator returns one scripted result per call, repeating the
// last entry once the script runs out.
type scriptedGenerator struct {
	texts []string
	errs  []error
	calls int
}

func (g *scriptedGenerator) Generate(context.Context, string) (string, error) {
	i := g.calls
	if i >= len(g.errs) {
		i = len(g.errs) - 1
	}
	g.calls++
	return g.texts[i], g.errs[i]
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func newOrchestrator(g Generator) *Orchestrator {
	return NewOrchestrator(g, NewCircuitBreaker(DefaultCircuitBreakerConfig()), fastRetry(), 2000, nil)
}

func TestRespondSuccess(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{
		texts: []string{"Microgravity reduces bone density [1]."},
		errs:  []error{nil},
	}
	o := newOrchestrator(gen)

	reply, err := o.Respond(context.Background(), "bone density?", "[1] Study\nexcerpt", nil)
	if err != nil {
		t.Fatalf("Respond() = %v", err)
	}
	if reply.Rejected {
		t.Fatal("Rejected = true for a normal answer")
	}
	if reply.Text != "Microgravity reduces bone density [1]." {
		t.Errorf("Text = %q", reply.Text)
	}
}

func TestRespondRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{
		texts: []string{"", "", "recovered answer"},
		errs:  []error{gemini.ErrGenerationUnavailable, gemini.ErrGenerationUnavailable, nil},
	}
	o := newOrchestrator(gen)

	reply, err := o.Respond(context.Background(), "q", "ctx", nil)
	if err != nil {
		t.Fatalf("Respond() = %v", err)
	}
	if reply.Text != "recovered answer" {
		t.Errorf("Text = %q", reply.Text)
	}
	if gen.calls != 3 {
		t.Errorf("generator called %d times, want 3", gen.calls)
	}
}

func TestRespondExhaustedRetriesSurfaceUnavailable(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{
		texts: []string{""},
		errs:  []error{gemini.ErrGenerationUnavailable},
	}
	o := newOrchestrator(gen)

	_, err := o.Respond(context.Background(), "q", "ctx", nil)
	if !errors.Is(err, gemini.ErrGenerationUnavailable) {
		t.Fatalf("Respond() = %v, want ErrGenerationUnavailable", err)
	}
	if want := fastRetry().MaxRetries + 1; gen.calls != want {
		t.Errorf("generator called %d times, want %d", gen.calls, want)
	}
}

func TestRespondRejectionBecomesApology(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{
		texts: []string{""},
		errs:  []error{gemini.ErrGenerationRejected},
	}
	o := newOrchestrator(gen)

	reply, err := o.Respond(context.Background(), "q", "ctx", nil)
	if err != nil {
		t.Fatalf("Respond() = %v, want nil", err)
	}
	if !reply.Rejected {
		t.Fatal("Rejected = false after refusal")
	}
	if reply.Text != apologyMessage {
		t.Errorf("Text = %q, want apology", reply.Text)
	}
	if gen.calls != 1 {
		t.Errorf("refusal was retried: %d calls", gen.calls)
	}
	if o.BreakerState() != CircuitClosed {
		t.Errorf("breaker opened on a refusal: %v", o.BreakerState())
	}
}

func TestRespondRateLimitIsTerminal(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{
		texts: []string{""},
		errs:  []error{limit.ErrRateLimited},
	}
	o := newOrchestrator(gen)

	_, err := o.Respond(context.Background(), "q", "ctx", nil)
	if !errors.Is(err, limit.ErrRateLimited) {
		t.Fatalf("Respond() = %v, want ErrRateLimited", err)
	}
	if gen.calls != 1 {
		t.Errorf("rate limited call was retried: %d calls", gen.calls)
	}
}

func TestRespondRateLimitLeavesBreakerClosed(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{
		texts: []string{""},
		errs:  []error{limit.ErrRateLimited},
	}
	breaker := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Hour})
	o := NewOrchestrator(gen, breaker, fastRetry(), 2000, nil)

	for i := 0; i < 3; i++ {
		if _, err := o.Respond(context.Background(), "q", "ctx", nil); !errors.Is(err, limit.ErrRateLimited) {
			t.Fatalf("Respond() #%d = %v, want ErrRateLimited", i, err)
		}
	}
	if breaker.State() != CircuitClosed {
		t.Fatalf("breaker state = %v after local limiter timeouts, want closed", breaker.State())
	}
	if gen.calls != 3 {
		t.Errorf("generator calls = %d, want 3; an open circuit would have blocked them", gen.calls)
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{
		texts: []string{""},
		errs:  []error{gemini.ErrGenerationUnavailable},
	}
	breaker := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Hour})
	o := NewOrchestrator(gen, breaker, fastRetry(), 2000, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := o.Respond(ctx, "q", "ctx", nil); err == nil {
			t.Fatalf("Respond() #%d succeeded unexpectedly", i)
		}
	}
	if breaker.State() != CircuitOpen {
		t.Fatalf("breaker state = %v after %d failures, want open", breaker.State(), 2)
	}

	before := gen.calls
	_, err := o.Respond(ctx, "q", "ctx", nil)
	if !errors.Is(err, gemini.ErrGenerationUnavailable) {
		t.Fatalf("Respond() with open breaker = %v, want ErrGenerationUnavailable", err)
	}
	if gen.calls != before {
		t.Error("open breaker still reached the generator")
	}
}

func TestRetryableError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "rejection", err: gemini.ErrGenerationRejected, want: false},
		{name: "limiter timeout", err: limit.ErrRateLimited, want: false},
		{name: "unavailable sentinel", err: gemini.ErrGenerationUnavailable, want: true},
		{name: "raw 429", err: errors.New("upstream said 429"), want: true},
		{name: "raw 503", err: errors.New("503 service unavailable"), want: true},
		{name: "connection reset", err: errors.New("read: connection reset by peer"), want: true},
		{name: "plain failure", err: errors.New("invalid argument"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := retryableError(tt.err); got != tt.want {
				t.Errorf("retryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCleanResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "strips html",
			in:   "<p>Bone loss</p> occurs <b>rapidly</b>.",
			want: "Bone loss occurs rapidly.",
		},
		{
			name: "collapses blank lines",
			in:   "First.\n\n\n\n\nSecond.",
			want: "First.\n\nSecond.",
		},
		{
			name: "trims surrounding whitespace",
			in:   "  answer  \n",
			want: "answer",
		},
		{
			name: "citation markers are untouched",
			in:   "Bone loss [1] and atrophy [2].",
			want: "Bone loss [1] and atrophy [2].",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := cleanResponse(tt.in); got != tt.want {
				t.Errorf("cleanResponse(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTruncateHistory(t *testing.T) {
	t.Parallel()

	history := []rag.Message{
		{Role: "user", Content: strings.Repeat("a", 200)},      // 100 tokens
		{Role: "assistant", Content: strings.Repeat("b", 200)}, // 100 tokens
		{Role: "user", Content: strings.Repeat("c", 200)},      // 100 tokens
	}

	t.Run("keeps newest under budget", func(t *testing.T) {
		t.Parallel()

		kept := truncateHistory(history, 210)
		if len(kept) != 2 {
			t.Fatalf("kept %d messages, want 2", len(kept))
		}
		if kept[0].Role != "assistant" || kept[1].Role != "user" {
			t.Errorf("chronological order lost: %v, %v", kept[0].Role, kept[1].Role)
		}
		if !strings.HasPrefix(kept[1].Content, "c") {
			t.Error("newest message missing")
		}
	})

	t.Run("everything fits", func(t *testing.T) {
		t.Parallel()

		if kept := truncateHistory(history, 10_000); len(kept) != 3 {
			t.Fatalf("kept %d messages, want 3", len(kept))
		}
	})

	t.Run("zero budget drops all", func(t *testing.T) {
		t.Parallel()

		if kept := truncateHistory(history, 0); kept != nil {
			t.Fatalf("kept %v, want nil", kept)
		}
	})
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	history := []rag.Message{
		{Role: "user", Content: "what is microgravity"},
		{Role: "assistant", Content: "near-weightlessness in orbit"},
	}

	t.Run("with context", func(t *testing.T) {
		t.Parallel()

		got := buildPrompt("bone loss?", "[1] Study\nexcerpt", history, 2000)
		for _, want := range []string{"K-OSMOS", "[1] Study", "user: what is microgravity", "Question: bone loss?", "Cite every claim"} {
			if !strings.Contains(got, want) {
				t.Errorf("prompt missing %q", want)
			}
		}
	})

	t.Run("without context", func(t *testing.T) {
		t.Parallel()

		got := buildPrompt("bone loss?", "", nil, 2000)
		if !strings.Contains(got, "No documents in the research database matched") {
			t.Error("prompt missing empty-context notice")
		}
		if strings.Contains(got, "Cite every claim") {
			t.Error("citation instructions present without context")
		}
	})
}
