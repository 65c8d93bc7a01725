// Package session persists conversations. A session is a titled sequence
// of turns; every answered question appends a user and an assistant
// message atomically, so history never shows half a turn.
package session

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kosmos-bio/kosmos/internal/entity"
	"github.com/kosmos-bio/kosmos/internal/rag"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// History limits, clamped in History.
const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// maxTitleRunes bounds the derived session title.
const maxTitleRunes = 50

// Sentinel errors, checked with errors.Is.
var (
	// ErrSessionNotFound indicates the session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUnavailable indicates the session database could not be reached.
	ErrUnavailable = errors.New("session store unavailable")

	// ErrEmptyTurn indicates a turn without question or answer text.
	ErrEmptyTurn = errors.New("turn requires question and answer")
)

// Session is one conversation.
type Session struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one stored message. Sources and Entities are set on
// assistant messages only.
type Message struct {
	ID        int64           `json:"id"`
	SessionID uuid.UUID       `json:"session_id"`
	Sequence  int             `json:"sequence"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Sources   []rag.Source    `json:"sources,omitempty"`
	Entities  []entity.Entity `json:"entities,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Turn is one answered question, appended as two messages.
type Turn struct {
	Question string
	Answer   string
	Sources  []rag.Source
	Entities []entity.Entity
}

// Validate checks the turn carries both sides.
func (t Turn) Validate() error {
	if strings.TrimSpace(t.Question) == "" || strings.TrimSpace(t.Answer) == "" {
		return ErrEmptyTurn
	}
	return nil
}

// deriveTitle produces the session title from the first question:
// whitespace collapsed, cut at maxTitleRunes.
func deriveTitle(question string) string {
	title := strings.Join(strings.Fields(question), " ")
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:maxTitleRunes-3])) + "..."
}

// clampHistoryLimit normalizes a requested history size.
func clampHistoryLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return limit
}

// AsPipelineHistory converts stored messages to the pipeline's shape.
func AsPipelineHistory(messages []Message) []rag.Message {
	out := make([]rag.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, rag.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
