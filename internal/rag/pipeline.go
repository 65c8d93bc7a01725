package rag

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/kosmos-bio/kosmos/internal/document"
	"github.com/kosmos-bio/kosmos/internal/entity"
)

// Message is one prior conversation turn handed to the pipeline.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Reply is the generation result. Rejected marks a model refusal that was
// already converted into an apology text.
type Reply struct {
	Text     string
	Rejected bool
}

// Responder produces the answer text from the assembled context.
// *chat.Orchestrator satisfies it.
type Responder interface {
	Respond(ctx context.Context, query, contextText string, history []Message) (Reply, error)
}

// Answer is the pipeline output for one question.
type Answer struct {
	Text     string
	Sources  []Source
	Entities []entity.Entity
}

// Pipeline coordinates one question through retrieval, assembly,
// generation and entity extraction.
type Pipeline struct {
	retriever *Retriever
	assembler *Assembler
	responder Responder
	extractor entity.Extractor
	logger    *slog.Logger
}

// NewPipeline wires the pipeline stages together. A nil logger falls back
// to slog.Default.
func NewPipeline(retriever *Retriever, assembler *Assembler, responder Responder, extractor entity.Extractor, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		retriever: retriever,
		assembler: assembler,
		responder: responder,
		extractor: extractor,
		logger:    logger,
	}
}

// Answer runs the full pipeline. Retrieval and generation failures abort
// with a taxonomy error; a model refusal returns the apology with no
// sources and no error; entity extraction can only degrade, never fail.
func (p *Pipeline) Answer(ctx context.Context, q document.Query, history []Message) (Answer, error) {
	search := q
	search.Text = enhanceQuery(q.Text, history)

	candidates, err := p.retriever.Retrieve(ctx, search)
	if err != nil {
		return Answer{}, err
	}

	contextText, sources := p.assembler.Assemble(candidates)

	reply, err := p.responder.Respond(ctx, q.Text, contextText, history)
	if err != nil {
		return Answer{}, err
	}
	if reply.Rejected {
		// The refusal applies to this prompt; sources would imply the
		// corpus backed an answer that was never given.
		return Answer{Text: reply.Text}, nil
	}

	text := sanitizeCitations(reply.Text, len(sources))
	entities := p.extractor.Extract(ctx, q.Text+" "+text)

	p.logger.Debug("answered query",
		"sources", len(sources),
		"entities", len(entities),
		"response_length", len(text))

	return Answer{Text: text, Sources: sources, Entities: entities}, nil
}

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// sanitizeCitations removes citation markers that point past the source
// list. The model sometimes invents [7] with three documents in context;
// a dangling marker is worse than none.
func sanitizeCitations(text string, sourceCount int) string {
	return citationPattern.ReplaceAllStringFunc(text, func(marker string) string {
		n, err := strconv.Atoi(marker[1 : len(marker)-1])
		if err != nil || n < 1 || n > sourceCount {
			return ""
		}
		return marker
	})
}

// domainKeywords seed follow-up query enhancement. A terse follow-up like
// "what about plants" retrieves poorly on its own, so topical words from
// recent turns are appended before embedding.
var domainKeywords = []string{
	"microgravity", "space", "bone", "muscle", "plant", "cell", "radiation",
	"astronaut", "iss", "mission", "experiment", "tissue", "growth", "protein",
}

const (
	shortQueryWords = 5
	maxExtraTerms   = 3
	historyLookback = 4
)

// enhanceQuery appends domain keywords found in recent history to short
// queries. Longer queries carry enough signal and pass through untouched.
// Matching is per word, "iss" must not fire inside "missions".
func enhanceQuery(query string, history []Message) string {
	if len(strings.Fields(query)) >= shortQueryWords || len(history) == 0 {
		return query
	}

	recent := history
	if len(recent) > historyLookback {
		recent = recent[len(recent)-historyLookback:]
	}
	var historyText strings.Builder
	for _, m := range recent {
		historyText.WriteString(m.Content)
		historyText.WriteByte(' ')
	}

	queryWords := wordSet(query)
	historyWords := wordSet(historyText.String())

	var extra []string
	for _, kw := range domainKeywords {
		if len(extra) == maxExtraTerms {
			break
		}
		if _, inQuery := queryWords[kw]; inQuery {
			continue
		}
		if _, inHistory := historyWords[kw]; inHistory {
			extra = append(extra, kw)
		}
	}
	if len(extra) == 0 {
		return query
	}
	return query + " " + strings.Join(extra, " ")
}

// wordSet lowercases text and splits it on non-alphanumeric runes.
func wordSet(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}
