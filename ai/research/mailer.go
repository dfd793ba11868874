package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wamiqreh/ai-research-assistant/ai/core/llm"
)

// MailTransport delivers a finished report. Implementations render the
// markdown and talk to the mail provider; the Mailer only picks the subject.
type MailTransport interface {
	Send(ctx context.Context, subject, markdown string) error
}

// Mailer emails the finished report. Delivery failure never fails the run:
// the report already exists and the caller still gets it.
type Mailer struct {
	llm       llm.Service
	transport MailTransport
}

func NewMailer(llmService llm.Service, transport MailTransport) *Mailer {
	return &Mailer{llm: llmService, transport: transport}
}

type mailSubject struct {
	Subject string `json:"subject"`
}

// Deliver sends the report and returns a DeliveryError on failure so the
// caller can surface it without discarding the report.
func (m *Mailer) Deliver(ctx context.Context, rc *RunContext, report *ReportData) error {
	rc.Progress("Sending email…")
	startTime := time.Now()

	subject := m.pickSubject(ctx, rc, report)

	if err := m.transport.Send(ctx, subject, report.MarkdownReport); err != nil {
		slog.Error("mailer: delivery failed",
			"trace_id", rc.TraceID,
			"error", err)
		return &DeliveryError{Err: err}
	}

	slog.Info("mailer: report sent",
		"trace_id", rc.TraceID,
		"subject", subject,
		"duration_ms", time.Since(startTime).Milliseconds())

	return nil
}

// pickSubject asks the model for a subject line and falls back to a generic
// one when that fails; a bland subject beats a lost email.
func (m *Mailer) pickSubject(ctx context.Context, rc *RunContext, report *ReportData) string {
	summary := report.ShortSummary
	if strings.TrimSpace(summary) == "" {
		summary = firstLine(report.MarkdownReport)
	}

	messages := []llm.Message{
		llm.SystemPrompt(mailerSubjectInstructions),
		llm.UserMessage(fmt.Sprintf("Report summary: %s", summary)),
	}

	var out mailSubject
	stats, err := m.llm.ChatStructured(ctx, messages, &out)
	rc.Track(stats)
	if err != nil || strings.TrimSpace(out.Subject) == "" {
		slog.Warn("mailer: subject generation failed, using fallback",
			"trace_id", rc.TraceID,
			"error", err)
		return "Your research report"
	}
	return strings.TrimSpace(out.Subject)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimLeft(s, "# ")
}
