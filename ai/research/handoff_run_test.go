package research

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/wamiqreh/ai-research-assistant/ai/core/llm"
)

func handoffLLM() *scriptedLLM {
	return &scriptedLLM{
		structuredFn: func(messages []llm.Message, out any) error {
			fillStructured(out, nil, testPlan3, testReport, "Subject")
			return nil
		},
		chatFn: func(call int, messages []llm.Message) (string, error) {
			last := messages[len(messages)-1].Content
			if strings.Contains(messages[0].Content, "clarifying questions") {
				return "What scope matters most? And how current should sources be?", nil
			}
			return "summary of " + last[:min(20, len(last))], nil
		},
	}
}

func TestHandoff_FreshQueryTransfersToClarifier(t *testing.T) {
	mgr := NewManager(handoffLLM(), Config{SearchCount: 3, CoordinationMode: ModeHandoff})
	sink := NewProgressSink(32)

	result, err := mgr.Run(context.Background(), "research X", nil, sink)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !result.AwaitingAnswers {
		t.Error("handoff clarification should await answers")
	}
	if !strings.Contains(result.Reply, "?") {
		t.Errorf("reply should ask questions, got %q", result.Reply)
	}

	var sawTransfer bool
	for _, e := range sink.Drain() {
		if strings.Contains(e.Message, "focus the research") {
			sawTransfer = true
		}
	}
	if !sawTransfer {
		t.Error("clarifier transfer should announce itself in progress")
	}
}

func TestHandoff_AnsweredRunsFullPipeline(t *testing.T) {
	transport := &stubTransport{}
	stub := handoffLLM()
	mgr := NewManager(stub, Config{SearchCount: 3, CoordinationMode: ModeHandoff},
		WithMailer(NewMailer(stub, transport)))
	sink := NewProgressSink(32)

	history := []ConversationTurn{
		{User: "research X", Assistant: "Scope? Recency?", Clarification: true},
	}
	result, err := mgr.Run(context.Background(), "global scope\nlast two years", history, sink)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("Status = %q, want %q", result.Status, StatusCompleted)
	}
	if result.ReportMarkdown != testReport.MarkdownReport {
		t.Error("report should be returned")
	}
	if len(transport.bodies) != 1 {
		t.Fatalf("mailer should deliver exactly once, delivered %d", len(transport.bodies))
	}
	if transport.bodies[0] != testReport.MarkdownReport {
		t.Error("mailer should deliver the report body")
	}

	assertProgressSequence(t, sink.Drain(), 3)
}

func TestHandoff_TinyBudgetTerminates(t *testing.T) {
	mgr := NewManager(handoffLLM(), Config{SearchCount: 3, CoordinationMode: ModeHandoff, TurnBudget: 1})

	history := []ConversationTurn{
		{User: "research X", Assistant: "Scope?", Clarification: true},
	}
	result, err := mgr.Run(context.Background(), "everything", history, NewProgressSink(16))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Status != StatusBudgetExhausted {
		t.Errorf("Status = %q, want %q", result.Status, StatusBudgetExhausted)
	}
	if strings.TrimSpace(result.Reply) == "" {
		t.Error("budget exhaustion must produce a non-empty reply")
	}
}

func TestSplitAnswers(t *testing.T) {
	tests := []struct {
		name          string
		message       string
		questionCount int
		want          []string
	}{
		{
			name:          "one answer per line",
			message:       "global\nrecent",
			questionCount: 2,
			want:          []string{"global", "recent"},
		},
		{
			name:          "free-form message shared across questions",
			message:       "just focus on Europe please",
			questionCount: 2,
			want:          []string{"just focus on Europe please", "just focus on Europe please"},
		},
		{
			name:          "no questions",
			message:       "anything",
			questionCount: 0,
			want:          nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitAnswers(tt.message, tt.questionCount)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("splitAnswers() = %v, want %v", got, tt.want)
			}
		})
	}
}
