package chat

import (
	"slices"
	"unicode/utf8"

	"github.com/kosmos-bio/kosmos/internal/rag"
)

// estimateTokens approximates the token count of text at two runes per
// token, an overestimate for English that keeps budgets safe for CJK.
func estimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 2
}

// truncateHistory keeps the newest messages that fit the token budget.
// Walking backwards means a long conversation loses its oldest turns
// first; the reversal restores chronological order for the prompt.
func truncateHistory(history []rag.Message, budgetTokens int) []rag.Message {
	if len(history) == 0 || budgetTokens <= 0 {
		return nil
	}

	var kept []rag.Message
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		cost := estimateTokens(history[i].Content)
		if used+cost > budgetTokens {
			break
		}
		used += cost
		kept = append(kept, history[i])
	}
	slices.Reverse(kept)
	return kept
}
