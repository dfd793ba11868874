package research

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Handoff transfer targets. In handoff mode the clarifier and the mailer run
// as independent units that receive control and hand it back; planner,
// searcher, and writer stay under direct coordinator control.
const (
	transferClarifier = "clarifier"
	transferMailer    = "mailer"
)

// transfer marks a control handoff to a named unit, runs it, and logs the
// hand-back. Every transfer consumes budget, so a unit that keeps bouncing
// control around cannot run forever.
func (m *Manager) transfer(rc *RunContext, target string, fn func() error) error {
	if err := rc.BeginStep(); err != nil {
		return err
	}
	startTime := time.Now()
	slog.Info("manager: handoff start",
		"trace_id", rc.TraceID,
		"target", target)

	err := fn()

	slog.Info("manager: handoff end",
		"trace_id", rc.TraceID,
		"target", target,
		"success", err == nil,
		"duration_ms", time.Since(startTime).Milliseconds())
	return err
}

// runHandoff drives the workflow in handoff mode. The flow is fixed: the
// coordinator decides only whether clarification is needed, then walks
// plan, search, write, and email in order, transferring control for the
// conversational steps.
func (m *Manager) runHandoff(ctx context.Context, rc *RunContext, query string, history []ConversationTurn) (*RunResult, error) {
	// First contact: hand off to the clarifier and end the run awaiting
	// the user's answers.
	if !answersPresent(history) {
		var reply string
		err := m.transfer(rc, transferClarifier, func() error {
			rc.Progress("Asking a few questions to focus the research…")
			phaseStart := time.Now()
			var convErr error
			reply, convErr = m.clarifier.Converse(ctx, rc, buildRunInput(query, history))
			if convErr == nil {
				m.recordPhase(PhaseClarifying, phaseStart)
			}
			return convErr
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return m.failedResult(rc, err, &toolRunState{}), nil
		}
		return &RunResult{
			Reply:           reply,
			Status:          StatusCompleted,
			AwaitingAnswers: true,
		}, nil
	}

	// Answers are in hand: plan, search, write.
	state := &toolRunState{query: query, questions: lastClarification(history)}

	if err := rc.BeginStep(); err != nil {
		return m.budgetExhaustedResult(state), nil
	}
	answers := splitAnswers(query, len(state.questions))
	phaseStart := time.Now()
	plan, err := m.planner.Plan(ctx, rc, query, state.questions, answers)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return m.failedResult(rc, err, state), nil
	}
	m.recordPhase(PhasePlanning, phaseStart)
	state.plan = plan
	state.summaries = make([]string, len(plan.Searches))
	state.completed = make([]bool, len(plan.Searches))

	if err := rc.BeginStep(); err != nil {
		return m.budgetExhaustedResult(state), nil
	}
	if err := m.completeSearches(ctx, rc, state); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return m.failedResult(rc, err, state), nil
	}

	if err := rc.BeginStep(); err != nil {
		return m.budgetExhaustedResult(state), nil
	}
	phaseStart = time.Now()
	report, err := m.writer.Write(ctx, rc, query, state.summaries)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return m.failedResult(rc, err, state), nil
	}
	m.recordPhase(PhaseWriting, phaseStart)
	state.report = report

	// Hand off to the mailer when delivery is configured. Delivery failure
	// is recorded, not fatal.
	if m.mailer != nil {
		err := m.transfer(rc, transferMailer, func() error {
			phaseStart := time.Now()
			if deliverErr := m.mailer.Deliver(ctx, rc, report); deliverErr != nil {
				return deliverErr
			}
			m.recordPhase(PhaseEmailing, phaseStart)
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			state.deliveryError = err
		}
	}

	return &RunResult{
		Reply:          report.MarkdownReport,
		ReportMarkdown: report.MarkdownReport,
		Status:         StatusCompleted,
		DeliveryError:  state.deliveryError,
	}, nil
}

// splitAnswers maps the user's answering message onto the question count.
// One answer per line when the counts line up; otherwise the whole message
// answers every question, which the planner forwards as shared context.
func splitAnswers(message string, questionCount int) []string {
	if questionCount <= 0 {
		return nil
	}
	lines := nonEmptyLines(message)
	if len(lines) == questionCount {
		return lines
	}
	answers := make([]string, questionCount)
	for i := range answers {
		answers[i] = message
	}
	return answers
}

func nonEmptyLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
