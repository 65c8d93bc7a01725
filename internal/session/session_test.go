package session

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kosmos-bio/kosmos/internal/rag"
)

func TestDeriveTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "short question verbatim",
			in:   "How does microgravity affect bone?",
			want: "How does microgravity affect bone?",
		},
		{
			name: "whitespace collapsed",
			in:   "  How   does\nmicrogravity\taffect bone?  ",
			want: "How does microgravity affect bone?",
		},
		{
			name: "long question truncated with ellipsis",
			in:   strings.Repeat("bone density ", 20),
			want: strings.TrimSpace(string([]rune(strings.Join(strings.Fields(strings.Repeat("bone density ", 20)), " "))[:maxTitleRunes-3])) + "...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := deriveTitle(tt.in)
			if got != tt.want {
				t.Errorf("deriveTitle() = %q, want %q", got, tt.want)
			}
			if utf8.RuneCountInString(got) > maxTitleRunes {
				t.Errorf("title has %d runes, cap %d", utf8.RuneCountInString(got), maxTitleRunes)
			}
		})
	}
}

func TestTurnValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		turn    Turn
		wantErr bool
	}{
		{name: "complete turn", turn: Turn{Question: "q", Answer: "a"}},
		{name: "missing answer", turn: Turn{Question: "q"}, wantErr: true},
		{name: "missing question", turn: Turn{Answer: "a"}, wantErr: true},
		{name: "whitespace only", turn: Turn{Question: "  ", Answer: "\n"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.turn.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClampHistoryLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   int
		want int
	}{
		{in: 0, want: DefaultHistoryLimit},
		{in: -5, want: DefaultHistoryLimit},
		{in: 20, want: 20},
		{in: MaxHistoryLimit + 1, want: MaxHistoryLimit},
	}
	for _, tt := range tests {
		if got := clampHistoryLimit(tt.in); got != tt.want {
			t.Errorf("clampHistoryLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestAsPipelineHistory(t *testing.T) {
	t.Parallel()

	messages := []Message{
		{Role: RoleUser, Content: "question"},
		{Role: RoleAssistant, Content: "answer", Sources: []rag.Source{{Index: 1, Title: "Study"}}},
	}

	got := AsPipelineHistory(messages)
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0] != (rag.Message{Role: RoleUser, Content: "question"}) {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1] != (rag.Message{Role: RoleAssistant, Content: "answer"}) {
		t.Errorf("got[1] = %+v", got[1])
	}
}
