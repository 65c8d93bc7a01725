package chat

import (
	"fmt"
	"strings"

	"github.com/kosmos-bio/kosmos/internal/rag"
)

// persona fixes the assistant identity across every prompt.
const persona = `You are K-OSMOS, a space biology research assistant. You specialize in providing detailed, comprehensive information about space biology research, experiments, missions, and scientific discoveries, grounded in a database of scientific publications and research documents.

You know about:
- Effects of microgravity on living systems
- NASA space research missions and experiments
- Space medicine and astronaut health
- Plant and animal biology in spaceflight`

// answerInstructions constrain the response to the retrieved context.
const answerInstructions = `Answer the question using the context documents above. Cite every claim with the bracketed number of its document, for example [1] or [2]. Do not cite documents that are not listed. If the context does not contain the answer, say so plainly instead of inventing one.`

// noContextNotice replaces the document block when retrieval found
// nothing; the model must admit the gap rather than improvise.
const noContextNotice = `No documents in the research database matched this question. Say that the database has no relevant material and suggest a more specific space biology question. Do not cite any sources.`

// buildPrompt assembles persona, context documents, bounded history and
// the question into one generation prompt.
func buildPrompt(query, contextText string, history []rag.Message, historyBudget int) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\n")

	if contextText != "" {
		b.WriteString("Context documents:\n\n")
		b.WriteString(contextText)
		b.WriteString("\n\n")
	} else {
		b.WriteString(noContextNotice)
		b.WriteString("\n\n")
	}

	if kept := truncateHistory(history, historyBudget); len(kept) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range kept {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Question: %s\n\n", query)
	if contextText != "" {
		b.WriteString(answerInstructions)
	}
	return b.String()
}
