package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wamiqreh/ai-research-assistant/ai/core/llm"
)

// Writer synthesizes the search summaries into the final markdown report.
type Writer struct {
	llm llm.Service
}

func NewWriter(llmService llm.Service) *Writer {
	return &Writer{llm: llmService}
}

// Write produces the report from the original query and the search summaries
// in plan order. An empty markdown body is a structural failure: a report
// with nothing in it is worse than an error the caller can act on.
func (w *Writer) Write(ctx context.Context, rc *RunContext, query string, summaries []string) (*ReportData, error) {
	rc.Progress("Writing report...")
	startTime := time.Now()

	messages := []llm.Message{
		llm.SystemPrompt(writerInstructions),
		llm.UserMessage(w.buildPrompt(query, summaries)),
	}

	var report ReportData
	stats, err := w.llm.ChatStructured(ctx, messages, &report)
	rc.Track(stats)
	if err != nil {
		return nil, &StructuralError{Adapter: "writer", Err: err}
	}
	if strings.TrimSpace(report.MarkdownReport) == "" {
		return nil, &StructuralError{Adapter: "writer", Err: fmt.Errorf("empty markdown report")}
	}

	slog.Info("writer: report complete",
		"trace_id", rc.TraceID,
		"report_length", len(report.MarkdownReport),
		"follow_up_count", len(report.FollowUpQuestions),
		"duration_ms", time.Since(startTime).Milliseconds())

	return &report, nil
}

func (w *Writer) buildPrompt(query string, summaries []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Original query: %s\n\nSummarized search results:\n", query)
	for i, summary := range summaries {
		fmt.Fprintf(&sb, "\n[%d] %s\n", i+1, summary)
	}
	return sb.String()
}
