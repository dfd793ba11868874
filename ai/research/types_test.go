package research

import (
	"strings"
	"testing"
)

func TestGenerateTraceID(t *testing.T) {
	id := GenerateTraceID()
	if !strings.HasPrefix(id, "trace_") {
		t.Errorf("GenerateTraceID() = %q, want trace_ prefix", id)
	}
	if len(id) != len("trace_")+32 {
		t.Errorf("GenerateTraceID() length = %d, want %d", len(id), len("trace_")+32)
	}
	if id == GenerateTraceID() {
		t.Error("GenerateTraceID() returned the same value twice")
	}
}

func TestAnswersPresent(t *testing.T) {
	tests := []struct {
		name    string
		history []ConversationTurn
		want    bool
	}{
		{
			name:    "empty history",
			history: nil,
			want:    false,
		},
		{
			name: "last turn is clarification",
			history: []ConversationTurn{
				{User: "research X", Assistant: "What scope?\nWhat timeframe?", Clarification: true},
			},
			want: true,
		},
		{
			name: "last turn is a finished report",
			history: []ConversationTurn{
				{User: "research X", Assistant: "Questions?", Clarification: true},
				{User: "answers", Assistant: "# Report"},
			},
			want: false,
		},
		{
			name: "imported history without flag falls back to trailing question",
			history: []ConversationTurn{
				{User: "research X", Assistant: "What scope should I focus on?"},
			},
			want: true,
		},
		{
			name: "clarification earlier but not last",
			history: []ConversationTurn{
				{User: "a", Assistant: "b?", Clarification: true},
				{User: "c", Assistant: "d"},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := answersPresent(tt.history); got != tt.want {
				t.Errorf("answersPresent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLastClarification(t *testing.T) {
	history := []ConversationTurn{
		{
			User:          "research X",
			Assistant:     "A couple of things first: what region matters most? And what timeframe should I focus on?",
			Clarification: true,
		},
	}

	questions := lastClarification(history)
	if len(questions) != 2 {
		t.Fatalf("lastClarification() returned %d questions, want 2: %v", len(questions), questions)
	}
	if !strings.HasSuffix(questions[0], "?") || !strings.HasSuffix(questions[1], "?") {
		t.Errorf("questions should end with ?: %v", questions)
	}
}

func TestLastClarification_NoQuestionMarks(t *testing.T) {
	history := []ConversationTurn{
		{User: "x", Assistant: "Tell me more about the scope.", Clarification: true},
	}
	questions := lastClarification(history)
	if len(questions) != 1 {
		t.Fatalf("lastClarification() returned %d questions, want 1 fallback", len(questions))
	}
}

func TestLastClarification_NotClarified(t *testing.T) {
	history := []ConversationTurn{
		{User: "x", Assistant: "here is your report"},
	}
	if questions := lastClarification(history); questions != nil {
		t.Errorf("lastClarification() = %v, want nil", questions)
	}
}

func TestBuildRunInput(t *testing.T) {
	if got := buildRunInput("hello", nil); got != "hello" {
		t.Errorf("buildRunInput with no history = %q, want the raw query", got)
	}

	history := []ConversationTurn{
		{User: "first", Assistant: "reply one"},
	}
	got := buildRunInput("second", history)
	for _, want := range []string{"[Previous context]", "User: first", "Assistant: reply one", "[Current message]", "second"} {
		if !strings.Contains(got, want) {
			t.Errorf("buildRunInput missing %q in:\n%s", want, got)
		}
	}
}

func TestBuildRunInput_WindowsHistory(t *testing.T) {
	var history []ConversationTurn
	for i := 0; i < 10; i++ {
		history = append(history, ConversationTurn{User: "msg" + string(rune('0'+i)), Assistant: "ok"})
	}

	got := buildRunInput("now", history)
	if strings.Contains(got, "msg0") {
		t.Error("buildRunInput should drop turns outside the history window")
	}
	if !strings.Contains(got, "msg9") {
		t.Error("buildRunInput should keep the most recent turns")
	}
}
