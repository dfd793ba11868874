package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wamiqreh/ai-research-assistant/ai/core/llm"
)

// Planner converts a query plus the clarifying Q&A exchange into a fixed-size
// search plan. Questions and answers pair positionally.
type Planner struct {
	llm         llm.Service
	searchCount int
}

func NewPlanner(llmService llm.Service, searchCount int) *Planner {
	if searchCount <= 0 {
		searchCount = 1
	}
	return &Planner{llm: llmService, searchCount: searchCount}
}

// Plan produces exactly the configured number of searches. Questions without
// a matching answer (or vice versa) are a caller error, not something to
// paper over with guesses.
func (p *Planner) Plan(ctx context.Context, rc *RunContext, query string, questions, answers []string) (*SearchPlan, error) {
	rc.Progress("Planning web searches...")
	startTime := time.Now()

	if len(questions) != len(answers) {
		return nil, fmt.Errorf("clarification pairing mismatch: %d questions, %d answers", len(questions), len(answers))
	}

	messages := []llm.Message{
		llm.SystemPrompt(plannerInstructions(p.searchCount)),
		llm.UserMessage(p.buildPrompt(query, questions, answers)),
	}

	var plan SearchPlan
	stats, err := p.llm.ChatStructured(ctx, messages, &plan)
	rc.Track(stats)
	if err != nil {
		return nil, &StructuralError{Adapter: "planner", Err: err}
	}
	if len(plan.Searches) < p.searchCount {
		return nil, &StructuralError{Adapter: "planner",
			Err: fmt.Errorf("plan has %d searches, need %d", len(plan.Searches), p.searchCount)}
	}
	// A surplus is harmless; keep the first N.
	plan.Searches = plan.Searches[:p.searchCount]

	for _, item := range plan.Searches {
		if strings.TrimSpace(item.Query) == "" {
			return nil, &StructuralError{Adapter: "planner", Err: fmt.Errorf("plan contains empty search term")}
		}
	}

	slog.Info("planner: plan ready",
		"trace_id", rc.TraceID,
		"search_count", len(plan.Searches),
		"duration_ms", time.Since(startTime).Milliseconds())

	return &plan, nil
}

func (p *Planner) buildPrompt(query string, questions, answers []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Main query: %s\n\n", query)
	for i := range questions {
		fmt.Fprintf(&sb, "Question %d: %s\nAnswer %d: %s\n", i+1, questions[i], i+1, answers[i])
	}
	sb.WriteString("\nBased on the above, create a search plan in the required format.")
	return sb.String()
}
