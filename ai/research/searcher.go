package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wamiqreh/ai-research-assistant/ai/core/llm"
)

// Searcher executes one planned search and condenses the findings into a
// short summary for the report writer. A failed search degrades to an empty
// summary so one bad search cannot sink the whole run.
type Searcher struct {
	llm llm.Service
}

func NewSearcher(llmService llm.Service) *Searcher {
	return &Searcher{llm: llmService}
}

// Search returns a 2-3 paragraph summary for the given plan item, or "" when
// the search fails.
func (s *Searcher) Search(ctx context.Context, rc *RunContext, item SearchItem) string {
	startTime := time.Now()

	messages := []llm.Message{
		llm.SystemPrompt(searcherInstructions),
		llm.UserMessage(fmt.Sprintf("Search term: %s\nReason for searching: %s", item.Query, item.Reason)),
	}

	summary, stats, err := s.llm.Chat(ctx, messages)
	rc.Track(stats)
	if err != nil {
		slog.Warn("searcher: search failed",
			"trace_id", rc.TraceID,
			"query", item.Query,
			"error", err)
		return ""
	}

	slog.Info("searcher: search complete",
		"trace_id", rc.TraceID,
		"query", item.Query,
		"summary_length", len(summary),
		"duration_ms", time.Since(startTime).Milliseconds())

	return strings.TrimSpace(summary)
}
