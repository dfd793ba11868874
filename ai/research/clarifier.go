package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wamiqreh/ai-research-assistant/ai/core/llm"
)

// maxClarifyingQuestions caps how many questions reach the user; a surplus
// from the model is truncated rather than rejected.
const maxClarifyingQuestions = 3

// Clarifier turns a raw research query into a short list of focusing
// questions. It is stateless: every call carries the full input it needs.
type Clarifier struct {
	llm llm.Service
}

func NewClarifier(llmService llm.Service) *Clarifier {
	return &Clarifier{llm: llmService}
}

// Questions produces 2-3 structured clarifying questions for the query.
// Used in tool-delegation mode where the coordinator relays them verbatim.
func (c *Clarifier) Questions(ctx context.Context, rc *RunContext, query string) (*Clarifications, error) {
	rc.Progress("Asking a few questions to focus the research…")
	startTime := time.Now()

	messages := []llm.Message{
		llm.SystemPrompt(clarifierStructuredInstructions),
		llm.UserMessage(fmt.Sprintf("Research query: %s", query)),
	}

	var out Clarifications
	stats, err := c.llm.ChatStructured(ctx, messages, &out)
	rc.Track(stats)
	if err != nil {
		return nil, &StructuralError{Adapter: "clarifier", Err: err}
	}
	if len(out.Questions) == 0 {
		return nil, &StructuralError{Adapter: "clarifier", Err: fmt.Errorf("no questions produced")}
	}
	if len(out.Questions) > maxClarifyingQuestions {
		out.Questions = out.Questions[:maxClarifyingQuestions]
	}

	slog.Info("clarifier: questions produced",
		"trace_id", rc.TraceID,
		"count", len(out.Questions),
		"duration_ms", time.Since(startTime).Milliseconds())

	return &out, nil
}

// Converse asks the clarifying questions in natural conversational prose.
// Used in handoff mode where the clarifier addresses the user directly.
func (c *Clarifier) Converse(ctx context.Context, rc *RunContext, query string) (string, error) {
	startTime := time.Now()

	messages := []llm.Message{
		llm.SystemPrompt(clarifierConverseInstructions),
		llm.UserMessage(query),
	}

	reply, stats, err := c.llm.Chat(ctx, messages)
	rc.Track(stats)
	if err != nil {
		return "", fmt.Errorf("clarifier conversation failed: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", &StructuralError{Adapter: "clarifier", Err: fmt.Errorf("empty reply")}
	}

	slog.Info("clarifier: conversational questions produced",
		"trace_id", rc.TraceID,
		"duration_ms", time.Since(startTime).Milliseconds())

	return reply, nil
}
