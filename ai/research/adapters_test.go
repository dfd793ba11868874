package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/wamiqreh/ai-research-assistant/ai/core/llm"
)

func testRunContext() *RunContext {
	return newRunContext(GenerateTraceID(), NewProgressSink(32), 30)
}

func TestClarifier_Questions(t *testing.T) {
	stub := &scriptedLLM{
		structuredFn: func(messages []llm.Message, out any) error {
			fillStructured(out, &Clarifications{Questions: []string{"Scope?", "Timeframe?"}}, nil, nil, "")
			return nil
		},
	}

	rc := testRunContext()
	clar, err := NewClarifier(stub).Questions(context.Background(), rc, "research X")
	if err != nil {
		t.Fatalf("Questions() error: %v", err)
	}
	if len(clar.Questions) != 2 {
		t.Errorf("got %d questions, want 2", len(clar.Questions))
	}

	events := rc.sink.Drain()
	if len(events) != 1 || !strings.Contains(events[0].Message, "focus the research") {
		t.Errorf("expected clarifying progress event, got %v", events)
	}
	if rc.usageSnapshot().TotalTokens != testStats.TotalTokens {
		t.Error("clarifier should track LLM usage")
	}
}

func TestClarifier_TruncatesSurplusQuestions(t *testing.T) {
	stub := &scriptedLLM{
		structuredFn: func(messages []llm.Message, out any) error {
			fillStructured(out, &Clarifications{Questions: []string{"a?", "b?", "c?", "d?", "e?"}}, nil, nil, "")
			return nil
		},
	}

	clar, err := NewClarifier(stub).Questions(context.Background(), testRunContext(), "x")
	if err != nil {
		t.Fatalf("Questions() error: %v", err)
	}
	if len(clar.Questions) != maxClarifyingQuestions {
		t.Errorf("got %d questions, want %d", len(clar.Questions), maxClarifyingQuestions)
	}
}

func TestClarifier_EmptyQuestionsIsStructural(t *testing.T) {
	stub := &scriptedLLM{
		structuredFn: func(messages []llm.Message, out any) error {
			fillStructured(out, &Clarifications{}, nil, nil, "")
			return nil
		},
	}

	_, err := NewClarifier(stub).Questions(context.Background(), testRunContext(), "x")
	var structural *StructuralError
	if !errors.As(err, &structural) {
		t.Fatalf("want StructuralError, got %v", err)
	}
	if structural.Adapter != "clarifier" {
		t.Errorf("Adapter = %q, want clarifier", structural.Adapter)
	}
}

func TestPlanner_PairingMismatch(t *testing.T) {
	planner := NewPlanner(&scriptedLLM{}, 2)
	_, err := planner.Plan(context.Background(), testRunContext(), "q", []string{"a?", "b?"}, []string{"only one"})
	if err == nil || !strings.Contains(err.Error(), "pairing mismatch") {
		t.Fatalf("want pairing mismatch error, got %v", err)
	}
}

func TestPlanner_ExactCount(t *testing.T) {
	plan := &SearchPlan{Searches: []SearchItem{
		{Query: "s1", Reason: "r1"},
		{Query: "s2", Reason: "r2"},
		{Query: "s3", Reason: "r3"},
		{Query: "s4", Reason: "r4"},
	}}
	stub := &scriptedLLM{
		structuredFn: func(messages []llm.Message, out any) error {
			fillStructured(out, nil, plan, nil, "")
			return nil
		},
	}

	got, err := NewPlanner(stub, 2).Plan(context.Background(), testRunContext(), "q", nil, nil)
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	// Surplus items are truncated to the configured count.
	if len(got.Searches) != 2 {
		t.Errorf("got %d searches, want 2", len(got.Searches))
	}
	if got.Searches[0].Query != "s1" || got.Searches[1].Query != "s2" {
		t.Errorf("truncation should keep the first items: %v", got.Searches)
	}
}

func TestPlanner_ShortfallIsStructural(t *testing.T) {
	stub := &scriptedLLM{
		structuredFn: func(messages []llm.Message, out any) error {
			fillStructured(out, nil, &SearchPlan{Searches: []SearchItem{{Query: "only"}}}, nil, "")
			return nil
		},
	}

	_, err := NewPlanner(stub, 3).Plan(context.Background(), testRunContext(), "q", nil, nil)
	var structural *StructuralError
	if !errors.As(err, &structural) {
		t.Fatalf("want StructuralError for shortfall, got %v", err)
	}
}

func TestPlanner_PromptPairsInOrder(t *testing.T) {
	var captured string
	stub := &scriptedLLM{
		structuredFn: func(messages []llm.Message, out any) error {
			captured = messages[len(messages)-1].Content
			fillStructured(out, nil, &SearchPlan{Searches: []SearchItem{{Query: "s"}}}, nil, "")
			return nil
		},
	}

	_, err := NewPlanner(stub, 1).Plan(context.Background(), testRunContext(), "q",
		[]string{"first?", "second?"}, []string{"A1", "A2"})
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	q1 := strings.Index(captured, "Question 1: first?")
	a1 := strings.Index(captured, "Answer 1: A1")
	q2 := strings.Index(captured, "Question 2: second?")
	if q1 < 0 || a1 < 0 || q2 < 0 || !(q1 < a1 && a1 < q2) {
		t.Errorf("prompt should pair questions and answers in order:\n%s", captured)
	}
}

func TestSearcher_FailureDegradesToEmpty(t *testing.T) {
	stub := &scriptedLLM{
		chatFn: func(call int, messages []llm.Message) (string, error) {
			return "", errors.New("provider down")
		},
	}

	summary := NewSearcher(stub).Search(context.Background(), testRunContext(), SearchItem{Query: "x"})
	if summary != "" {
		t.Errorf("failed search should return empty summary, got %q", summary)
	}
}

func TestSearcher_Idempotent(t *testing.T) {
	stub := &scriptedLLM{
		chatFn: func(call int, messages []llm.Message) (string, error) {
			return "the summary", nil
		},
	}

	searcher := NewSearcher(stub)
	rc := testRunContext()
	item := SearchItem{Query: "term", Reason: "because"}
	first := searcher.Search(context.Background(), rc, item)
	second := searcher.Search(context.Background(), rc, item)
	if first != second {
		t.Errorf("repeated search of the same item diverged: %q vs %q", first, second)
	}
}

func TestWriter_EmptyReportIsStructural(t *testing.T) {
	stub := &scriptedLLM{
		structuredFn: func(messages []llm.Message, out any) error {
			fillStructured(out, nil, nil, &ReportData{MarkdownReport: "   "}, "")
			return nil
		},
	}

	_, err := NewWriter(stub).Write(context.Background(), testRunContext(), "q", []string{"s"})
	var structural *StructuralError
	if !errors.As(err, &structural) {
		t.Fatalf("want StructuralError, got %v", err)
	}
	if structural.Adapter != "writer" {
		t.Errorf("Adapter = %q, want writer", structural.Adapter)
	}
}

func TestWriter_SummariesInOrder(t *testing.T) {
	var captured string
	stub := &scriptedLLM{
		structuredFn: func(messages []llm.Message, out any) error {
			captured = messages[len(messages)-1].Content
			fillStructured(out, nil, nil, &ReportData{MarkdownReport: "# R"}, "")
			return nil
		},
	}

	summaries := []string{"alpha findings", "beta findings", "gamma findings"}
	if _, err := NewWriter(stub).Write(context.Background(), testRunContext(), "q", summaries); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	positions := make([]int, len(summaries))
	for i, s := range summaries {
		positions[i] = strings.Index(captured, s)
		if positions[i] < 0 {
			t.Fatalf("summary %q missing from writer prompt", s)
		}
	}
	if !(positions[0] < positions[1] && positions[1] < positions[2]) {
		t.Errorf("summaries out of plan order in writer prompt: %v", positions)
	}
}

type stubTransport struct {
	err      error
	subjects []string
	bodies   []string
}

func (s *stubTransport) Send(ctx context.Context, subject, markdown string) error {
	if s.err != nil {
		return s.err
	}
	s.subjects = append(s.subjects, subject)
	s.bodies = append(s.bodies, markdown)
	return nil
}

func TestMailer_DeliveryFailureIsDeliveryError(t *testing.T) {
	stub := &scriptedLLM{
		structuredFn: func(messages []llm.Message, out any) error {
			fillStructured(out, nil, nil, nil, "Findings on X")
			return nil
		},
	}
	transport := &stubTransport{err: fmt.Errorf("smtp 554")}

	err := NewMailer(stub, transport).Deliver(context.Background(), testRunContext(),
		&ReportData{MarkdownReport: "# R", ShortSummary: "short"})
	var delivery *DeliveryError
	if !errors.As(err, &delivery) {
		t.Fatalf("want DeliveryError, got %v", err)
	}
}

func TestMailer_SubjectFallback(t *testing.T) {
	stub := &scriptedLLM{
		structuredFn: func(messages []llm.Message, out any) error {
			return errors.New("provider down")
		},
	}
	transport := &stubTransport{}

	err := NewMailer(stub, transport).Deliver(context.Background(), testRunContext(),
		&ReportData{MarkdownReport: "# Research Report\nbody", ShortSummary: ""})
	if err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}
	if len(transport.subjects) != 1 || transport.subjects[0] == "" {
		t.Errorf("delivery should use a fallback subject, got %v", transport.subjects)
	}
}
