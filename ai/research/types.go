// Package research implements the deep-research workflow: a coordinating
// reasoning unit drives Clarify → Plan → Search(×N) → Write → (Email) → Done,
// streaming human-readable progress to the caller while the run is in flight.
//
// Two coordination strategies are supported:
//
//   - tool delegation: a single top-level reasoning unit holds the full flow
//     and invokes the sub-tasks as callable capabilities; the orchestrator
//     executes requested capabilities while enforcing the phase machine.
//   - handoff: control is transferred to independent reasoning units
//     (Clarifier, Mailer) which are expected to hand control back; a turn
//     budget guarantees the run terminates even when a unit never returns.
//
// Either way, the explicit phase machine is the source of truth for ordering
// guarantees; invariants ("plan before search", "write before email") are
// enforced defensively regardless of what a reasoning unit requests.
package research

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/wamiqreh/ai-research-assistant/ai/core/llm"
)

// SearchItem is one planned web search with its justification.
type SearchItem struct {
	// Reason explains why this search matters to the query.
	Reason string `json:"reason"`

	// Query is the search term to use.
	Query string `json:"query"`
}

// SearchPlan is an ordered set of searches to perform. Order is used for
// progress labeling ("Search i/N") and for presenting results to the writer.
type SearchPlan struct {
	Searches []SearchItem `json:"searches"`
}

// Clarifications is the ordered list of questions the clarifier wants
// answered before planning. Answers are paired positionally.
type Clarifications struct {
	Questions []string `json:"questions"`
}

// ReportData is the writer's structured output. The orchestrator treats
// everything except the markdown body as opaque.
type ReportData struct {
	// MarkdownReport is the full report body. Required.
	MarkdownReport string `json:"markdown_report"`

	// ShortSummary is a 2-3 sentence summary of findings.
	ShortSummary string `json:"short_summary"`

	// FollowUpQuestions suggests topics to research further.
	FollowUpQuestions []string `json:"follow_up_questions"`
}

// ConversationTurn is one (user, assistant) exchange. Clarification marks the
// assistant text as clarifying questions, so a later run can detect answered
// clarifications from explicit state instead of inspecting conversation text.
type ConversationTurn struct {
	User          string `json:"user"`
	Assistant     string `json:"assistant"`
	Clarification bool   `json:"clarification,omitempty"`
}

// historyWindow bounds how many prior turns are forwarded into sub-task
// prompts. Older turns are kept in the caller's transcript, just not
// forwarded.
const historyWindow = 5

// Phase is a named stage of the workflow.
type Phase string

const (
	PhaseClarifying Phase = "clarifying"
	PhasePlanning   Phase = "planning"
	PhaseSearching  Phase = "searching"
	PhaseWriting    Phase = "writing"
	PhaseEmailing   Phase = "emailing"
	PhaseDone       Phase = "done"
)

// RunStatus distinguishes how a run terminated.
type RunStatus string

const (
	// StatusCompleted means the run produced its reply normally.
	StatusCompleted RunStatus = "completed"
	// StatusBudgetExhausted means the turn budget cut the run off; the reply
	// is best-effort text, never empty.
	StatusBudgetExhausted RunStatus = "budget_exhausted"
	// StatusFailed means a non-recoverable failure ended the run; the reply
	// is an explanatory message.
	StatusFailed RunStatus = "failed"
)

// RunResult is the outcome of one workflow run.
type RunResult struct {
	// Reply is the final assistant text. Always non-empty.
	Reply string

	// ReportMarkdown is the report body, or "" when no report was produced
	// (for example a run that ended in pure clarification).
	ReportMarkdown string

	// Status reports how the run terminated.
	Status RunStatus

	// AwaitingAnswers is true when the reply contains clarifying questions
	// and the next user message is expected to answer them.
	AwaitingAnswers bool

	// DeliveryError records an email delivery failure. The report is still
	// returned; delivery and generation are independent concerns.
	DeliveryError error

	// TraceID correlates all sub-task invocations of this run.
	TraceID string

	// Usage is the accumulated LLM token/timing usage across the run.
	Usage llm.CallStats
}

// StructuralError reports a sub-task whose output did not conform to its
// declared shape. The current phase cannot complete; the run terminates with
// an explanatory reply rather than a crash.
type StructuralError struct {
	Adapter string
	Err     error
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("%s returned non-conforming output: %v", e.Adapter, e.Err)
}

func (e *StructuralError) Unwrap() error {
	return e.Err
}

// DeliveryError reports a failed email delivery.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("report delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// RunContext is the per-run state bundle: progress sink, trace id, step
// accounting against the turn budget, and usage totals. It is owned by
// exactly one run and never shared across concurrent runs.
type RunContext struct {
	TraceID string

	sink   *ProgressSink
	budget int

	mu    sync.Mutex
	steps int
	usage llm.CallStats
}

func newRunContext(traceID string, sink *ProgressSink, budget int) *RunContext {
	return &RunContext{
		TraceID: traceID,
		sink:    sink,
		budget:  budget,
	}
}

// Progress publishes a human-readable progress event. Best-effort: it never
// blocks and never fails the run.
func (rc *RunContext) Progress(message string) {
	if rc.sink != nil {
		rc.sink.Publish(message)
	}
}

// BeginStep consumes one unit of the turn budget. It returns an error once
// the budget is exhausted; callers must stop and return best-effort text.
func (rc *RunContext) BeginStep() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.steps >= rc.budget {
		return fmt.Errorf("turn budget (%d) exhausted", rc.budget)
	}
	rc.steps++
	return nil
}

// Steps returns the number of budget units consumed so far.
func (rc *RunContext) Steps() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.steps
}

// Track accumulates LLM usage from one sub-task invocation.
func (rc *RunContext) Track(stats *llm.CallStats) {
	if stats == nil {
		return
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.usage.Accumulate(stats)
}

func (rc *RunContext) usageSnapshot() llm.CallStats {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.usage
}

// GenerateTraceID generates a new trace ID from crypto-grade random bytes.
func GenerateTraceID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback if crypto/rand fails (should never happen)
		slog.Warn("GenerateTraceID: crypto rand failed, using fallback", "error", err)
		return fmt.Sprintf("trace_%d", time.Now().UnixNano())
	}
	return "trace_" + hex.EncodeToString(bytes)
}

// answersPresent reports whether the incoming message answers clarifying
// questions: true when the most recent turn is flagged as a clarification.
// Histories imported from outside a run carry no flag, so a turn whose
// assistant text ends in a question is accepted as a fallback.
func answersPresent(history []ConversationTurn) bool {
	if len(history) == 0 {
		return false
	}
	last := history[len(history)-1]
	if last.Clarification {
		return true
	}
	return strings.HasSuffix(strings.TrimSpace(last.Assistant), "?")
}

// lastClarification returns the question lines of the most recent
// clarification turn, or nil when there is none. Splitting on line breaks and
// question marks recovers individual questions from a conversational message;
// the positional pairing with answers is validated by the planner.
func lastClarification(history []ConversationTurn) []string {
	if !answersPresent(history) {
		return nil
	}
	text := history[len(history)-1].Assistant
	var questions []string
	for _, line := range strings.Split(text, "\n") {
		for _, part := range strings.SplitAfter(line, "?") {
			part = strings.TrimSpace(part)
			if strings.HasSuffix(part, "?") {
				questions = append(questions, part)
			}
		}
	}
	if len(questions) == 0 && strings.TrimSpace(text) != "" {
		questions = []string{strings.TrimSpace(text)}
	}
	return questions
}

// buildRunInput renders the query plus a bounded window of recent history
// into a single prompt input, mirroring the transcript the caller sees.
func buildRunInput(query string, history []ConversationTurn) string {
	if len(history) == 0 {
		return query
	}
	recent := history
	if len(recent) > historyWindow {
		recent = recent[len(recent)-historyWindow:]
	}
	var b strings.Builder
	b.WriteString("[Previous context]\n")
	for _, turn := range recent {
		if turn.User == "" && turn.Assistant == "" {
			continue
		}
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n\n", turn.User, turn.Assistant)
	}
	b.WriteString("[Current message]\n")
	b.WriteString(query)
	return b.String()
}
