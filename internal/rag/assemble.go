package rag

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kosmos-bio/kosmos/internal/document"
)

const (
	// excerptRunes bounds each source excerpt shown to the model and
	// returned to the client.
	excerptRunes = 1000

	// maxSources caps the distinct sources in one answer.
	maxSources = 10
)

// Source is one cited document in an answer. Index matches the [n]
// citation markers in the answer text, 1-based.
type Source struct {
	Index      int     `json:"index"`
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	SourceType string  `json:"type"`
	URL        string  `json:"url,omitempty"`
	Score      float32 `json:"score"`
	Excerpt    string  `json:"excerpt"`
}

// Assembler turns ranked candidates into the numbered context block fed
// to the model, under a token budget.
type Assembler struct {
	budgetTokens int
}

// NewAssembler creates an assembler with the given token budget.
func NewAssembler(budgetTokens int) *Assembler {
	return &Assembler{budgetTokens: budgetTokens}
}

// Assemble deduplicates candidates by title, numbers them, and renders
// the context block. Candidates arrive best-first; when the budget is
// exceeded the worst-scored entries are dropped first. With at least one
// candidate the context is never empty: a single oversized block is cut
// to fit rather than dropped.
func (a *Assembler) Assemble(candidates []document.Candidate) (string, []Source) {
	if len(candidates) == 0 {
		return "", nil
	}

	sources := dedupeByTitle(candidates)

	// Drop from the tail until the rendered block fits the budget.
	for len(sources) > 1 && estimateTokens(render(sources)) > a.budgetTokens {
		sources = sources[:len(sources)-1]
	}

	text := render(sources)
	if estimateTokens(text) > a.budgetTokens {
		// One source alone busts the budget; keep a cut-down excerpt.
		header := fmt.Sprintf("[%d] %s (%s)\n", sources[0].Index, sources[0].Title, sources[0].SourceType)
		allowed := a.budgetTokens*2 - utf8.RuneCountInString(header)
		if allowed < 1 {
			allowed = 1
		}
		sources[0].Excerpt = truncateRunes(sources[0].Excerpt, allowed)
		text = render(sources)
	}
	return text, sources
}

// dedupeByTitle keeps the best-scored candidate per document id and per
// lowercased title, capped at maxSources, preserving rank order. The id
// check covers re-queries returning the same document; the title check
// collapses mirrored copies ingested under different ids.
func dedupeByTitle(candidates []document.Candidate) []Source {
	seenID := make(map[string]struct{}, len(candidates))
	seenTitle := make(map[string]struct{}, len(candidates))
	out := make([]Source, 0, maxSources)
	for _, c := range candidates {
		if _, dup := seenID[c.Document.ID]; dup {
			continue
		}
		title := strings.ToLower(strings.TrimSpace(c.Document.Metadata.Title))
		if _, dup := seenTitle[title]; dup {
			continue
		}
		seenID[c.Document.ID] = struct{}{}
		seenTitle[title] = struct{}{}
		out = append(out, Source{
			Index:      len(out) + 1,
			ID:         c.Document.ID,
			Title:      c.Document.Metadata.Title,
			SourceType: string(c.Document.Metadata.SourceType),
			URL:        c.Document.Metadata.URL,
			Score:      c.Score,
			Excerpt:    truncateRunes(c.Document.Content, excerptRunes),
		})
		if len(out) == maxSources {
			break
		}
	}
	return out
}

// render produces the numbered context block.
func render(sources []Source) string {
	var b strings.Builder
	for i, s := range sources {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s", s.Index, s.Title, s.SourceType, s.Excerpt)
	}
	return b.String()
}

// estimateTokens approximates the token count of text. Two runes per
// token is a deliberate overestimate for English so budgets hold for CJK
// input too.
func estimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 2
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
