package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wamiqreh/ai-research-assistant/ai/core/llm"
)

// Coordination modes. Tools is the default: the coordinator model drives the
// workflow by calling sub-tasks as capabilities. Handoff transfers control
// between units instead, with the coordinator resuming after each transfer.
const (
	ModeTools   = "tools"
	ModeHandoff = "handoff"
)

// defaultTraceViewerURL is where a run's trace can be inspected.
const defaultTraceViewerURL = "https://platform.openai.com/traces/trace?trace_id="

// Config controls one Manager instance. Zero values are replaced with
// defaults in NewManager.
type Config struct {
	// SearchCount is the exact number of searches every plan must contain.
	SearchCount int

	// TurnBudget bounds the number of coordinator steps per run.
	TurnBudget int

	// MaxConcurrentSearch bounds the search fan-out.
	MaxConcurrentSearch int

	// CoordinationMode selects ModeTools or ModeHandoff.
	CoordinationMode string

	// TraceViewerURL prefixes the trace id in the first progress line.
	TraceViewerURL string
}

func (c *Config) applyDefaults() {
	if c.SearchCount <= 0 {
		c.SearchCount = 1
	}
	if c.TurnBudget <= 0 {
		c.TurnBudget = 30
	}
	if c.MaxConcurrentSearch <= 0 {
		c.MaxConcurrentSearch = 2
	}
	if c.CoordinationMode == "" {
		c.CoordinationMode = ModeTools
	}
	if c.TraceViewerURL == "" {
		c.TraceViewerURL = defaultTraceViewerURL
	}
}

// MetricsRecorder receives workflow observations. Implementations must be
// safe for concurrent use. A nil recorder disables metrics.
type MetricsRecorder interface {
	RecordRun(mode string, status RunStatus, duration time.Duration)
	RecordPhase(phase Phase, duration time.Duration)
	RecordSearch(ok bool)
	RecordUsage(stats llm.CallStats)
	RecordProgressDropped(count int64)
}

// Manager coordinates one research workflow per Run call. It owns no
// per-run state; concurrent runs are independent.
type Manager struct {
	llm       llm.Service
	clarifier *Clarifier
	planner   *Planner
	searcher  *Searcher
	writer    *Writer
	mailer    *Mailer
	metrics   MetricsRecorder
	config    Config
}

// Option configures a Manager.
type Option func(*Manager)

// WithMailer enables email delivery of finished reports.
func WithMailer(mailer *Mailer) Option {
	return func(m *Manager) { m.mailer = mailer }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(recorder MetricsRecorder) Option {
	return func(m *Manager) { m.metrics = recorder }
}

// NewManager creates a Manager with the standard sub-task units.
func NewManager(llmService llm.Service, config Config, opts ...Option) *Manager {
	config.applyDefaults()
	m := &Manager{
		llm:       llmService,
		clarifier: NewClarifier(llmService),
		planner:   NewPlanner(llmService, config.SearchCount),
		searcher:  NewSearcher(llmService),
		writer:    NewWriter(llmService),
		config:    config,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run executes one workflow turn: the user's message plus prior conversation
// in, a final reply (and possibly a report) out. Progress events stream
// through sink while the run is in flight.
//
// Run returns an error only for caller mistakes (empty query) and context
// cancellation; workflow-level failures are reported through RunResult.Status
// with an explanatory reply.
func (m *Manager) Run(ctx context.Context, query string, history []ConversationTurn, sink *ProgressSink) (*RunResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}

	rc := newRunContext(GenerateTraceID(), sink, m.config.TurnBudget)
	startTime := time.Now()

	slog.Info("manager: run start",
		"trace_id", rc.TraceID,
		"mode", m.config.CoordinationMode,
		"history_turns", len(history))

	rc.Progress("View trace: " + m.config.TraceViewerURL + rc.TraceID)

	var result *RunResult
	var err error
	if m.config.CoordinationMode == ModeHandoff {
		result, err = m.runHandoff(ctx, rc, query, history)
	} else {
		result, err = m.runToolDelegation(ctx, rc, query, history)
	}
	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordRun(m.config.CoordinationMode, StatusFailed, time.Since(startTime))
		}
		return nil, err
	}

	result.TraceID = rc.TraceID
	result.Usage = rc.usageSnapshot()

	if m.metrics != nil {
		m.metrics.RecordRun(m.config.CoordinationMode, result.Status, time.Since(startTime))
		m.metrics.RecordUsage(result.Usage)
		if sink != nil {
			m.metrics.RecordProgressDropped(sink.Dropped())
		}
	}

	slog.Info("manager: run complete",
		"trace_id", rc.TraceID,
		"status", result.Status,
		"awaiting_answers", result.AwaitingAnswers,
		"report_length", len(result.ReportMarkdown),
		"steps", rc.Steps(),
		"total_tokens", result.Usage.TotalTokens,
		"duration_ms", time.Since(startTime).Milliseconds())

	return result, nil
}

// toolRunState accumulates the workflow state across coordinator steps in
// tool-delegation mode. The phase machine lives here: each capability checks
// the state it requires and refuses out-of-order calls.
type toolRunState struct {
	query     string
	questions []string
	plan      *SearchPlan
	summaries []string
	completed []bool
	labeled   int
	report    *ReportData

	asked         bool
	emailed       bool
	awaiting      bool
	clarReply     string
	deliveryError error
}

func (s *toolRunState) pendingSearches() int {
	n := 0
	for _, done := range s.completed {
		if !done {
			n++
		}
	}
	return n
}

func (m *Manager) runToolDelegation(ctx context.Context, rc *RunContext, query string, history []ConversationTurn) (*RunResult, error) {
	state := &toolRunState{query: query, questions: lastClarification(history)}

	messages := []llm.Message{
		llm.SystemPrompt(m.toolSystemPrompt(history)),
		llm.UserMessage(buildRunInput(query, history)),
	}

	for {
		if err := rc.BeginStep(); err != nil {
			slog.Warn("manager: budget exhausted",
				"trace_id", rc.TraceID,
				"steps", rc.Steps())
			return m.budgetExhaustedResult(state), nil
		}

		resp, stats, err := m.llm.ChatWithTools(ctx, messages, m.capabilities())
		rc.Track(stats)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return m.failedResult(rc, fmt.Errorf("coordinator step failed: %w", err), state), nil
		}

		if len(resp.ToolCalls) == 0 {
			return m.finalResult(resp.Content, state), nil
		}

		if resp.Content != "" {
			messages = append(messages, llm.AssistantMessage(resp.Content))
		}
		for _, call := range resp.ToolCalls {
			output, execErr := m.executeCapability(ctx, rc, state, call)
			if execErr != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				var structural *StructuralError
				if errors.As(execErr, &structural) {
					return m.failedResult(rc, execErr, state), nil
				}
				// Protocol violations go back to the model as text so it
				// can correct course on the next step.
				output = "Error: " + execErr.Error()
			}
			messages = append(messages, llm.UserMessage(
				fmt.Sprintf("[Result from %s]: %s", call.Function.Name, output)))

			if state.awaiting {
				return &RunResult{
					Reply:           state.clarReply,
					Status:          StatusCompleted,
					AwaitingAnswers: true,
				}, nil
			}
		}
	}
}

// Capability names exposed to the coordinator model.
const (
	capClarify = "ask_clarifying_questions"
	capPlan    = "plan_searches"
	capSearch  = "run_search"
	capWrite   = "write_report"
	capEmail   = "send_email"
)

func (m *Manager) capabilities() []llm.ToolDescriptor {
	caps := []llm.ToolDescriptor{
		{
			Name:        capClarify,
			Description: "Ask the user 2-3 clarifying questions before planning the research. Call at most once, and only when the user has not yet answered clarifying questions.",
			Parameters: schemaJSON(&llm.JSONSchema{
				Type: "object",
				Properties: map[string]*llm.JSONSchema{
					"query": {Type: "string", Description: "The research query to clarify."},
				},
				Required: []string{"query"},
			}),
		},
		{
			Name:        capPlan,
			Description: "Create the search plan from the query and the user's answers to the clarifying questions. Questions and answers pair up in order.",
			Parameters: schemaJSON(&llm.JSONSchema{
				Type: "object",
				Properties: map[string]*llm.JSONSchema{
					"query":     {Type: "string", Description: "The original research query."},
					"questions": {Type: "array", Items: &llm.JSONSchema{Type: "string"}, Description: "The clarifying questions that were asked."},
					"answers":   {Type: "array", Items: &llm.JSONSchema{Type: "string"}, Description: "The user's answers, in the same order as the questions."},
				},
				Required: []string{"query", "answers"},
			}),
		},
		{
			Name:        capSearch,
			Description: "Run one web search from the plan and return a short summary.",
			Parameters: schemaJSON(&llm.JSONSchema{
				Type: "object",
				Properties: map[string]*llm.JSONSchema{
					"search_term": {Type: "string", Description: "The search term, exactly as planned."},
					"reason":      {Type: "string", Description: "Why this search matters to the query."},
				},
				Required: []string{"search_term"},
			}),
		},
		{
			Name:        capWrite,
			Description: "Write the full research report from the original query and the collected search summaries. Requires a plan; completes any searches still pending.",
			Parameters: schemaJSON(&llm.JSONSchema{
				Type: "object",
				Properties: map[string]*llm.JSONSchema{
					"query": {Type: "string", Description: "The original research query."},
				},
				Required: []string{"query"},
			}),
		},
	}
	if m.mailer != nil {
		caps = append(caps, llm.ToolDescriptor{
			Name:        capEmail,
			Description: "Email the finished report to the configured recipient. Only valid after write_report.",
			Parameters: schemaJSON(&llm.JSONSchema{
				Type:       "object",
				Properties: map[string]*llm.JSONSchema{},
			}),
		})
	}
	return caps
}

// executeCapability dispatches one coordinator tool call, enforcing phase
// order. It returns the tool result text, or an error: StructuralError ends
// the run, anything else is relayed to the model as a correctable mistake.
func (m *Manager) executeCapability(ctx context.Context, rc *RunContext, state *toolRunState, call llm.ToolCall) (string, error) {
	name := call.Function.Name
	slog.Debug("manager: capability call",
		"trace_id", rc.TraceID,
		"capability", name)

	switch name {
	case capClarify:
		return m.execClarify(ctx, rc, state)
	case capPlan:
		return m.execPlan(ctx, rc, state, call.Function.Arguments)
	case capSearch:
		return m.execSearch(ctx, rc, state, call.Function.Arguments)
	case capWrite:
		return m.execWrite(ctx, rc, state)
	case capEmail:
		return m.execEmail(ctx, rc, state)
	default:
		return "", fmt.Errorf("unknown capability %q", name)
	}
}

func (m *Manager) execClarify(ctx context.Context, rc *RunContext, state *toolRunState) (string, error) {
	if state.asked {
		return "", fmt.Errorf("clarifying questions were already asked this run")
	}
	if len(state.questions) > 0 {
		return "", fmt.Errorf("the user already answered clarifying questions; call %s instead", capPlan)
	}

	phaseStart := time.Now()
	clar, err := m.clarifier.Questions(ctx, rc, state.query)
	if err != nil {
		return "", err
	}
	m.recordPhase(PhaseClarifying, phaseStart)

	state.asked = true
	state.awaiting = true
	state.questions = clar.Questions
	state.clarReply = "Before I start, a few quick questions:\n\n" + strings.Join(clar.Questions, "\n")
	return "questions sent to user", nil
}

type planArgs struct {
	Query     string   `json:"query"`
	Questions []string `json:"questions"`
	Answers   []string `json:"answers"`
}

func (m *Manager) execPlan(ctx context.Context, rc *RunContext, state *toolRunState, rawArgs string) (string, error) {
	if state.plan != nil {
		return "", fmt.Errorf("a search plan already exists")
	}

	var args planArgs
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return "", fmt.Errorf("malformed %s arguments: %v", capPlan, err)
	}
	if args.Query == "" {
		args.Query = state.query
	}
	questions := args.Questions
	if len(questions) == 0 {
		questions = state.questions
	}
	if len(questions) != len(args.Answers) {
		return "", fmt.Errorf("questions and answers must pair up: %d questions, %d answers", len(questions), len(args.Answers))
	}

	phaseStart := time.Now()
	plan, err := m.planner.Plan(ctx, rc, args.Query, questions, args.Answers)
	if err != nil {
		return "", err
	}
	m.recordPhase(PhasePlanning, phaseStart)

	state.plan = plan
	state.summaries = make([]string, len(plan.Searches))
	state.completed = make([]bool, len(plan.Searches))

	encoded, err := json.Marshal(plan)
	if err != nil {
		return "", fmt.Errorf("encode plan: %w", err)
	}
	return string(encoded), nil
}

type searchArgs struct {
	SearchTerm string `json:"search_term"`
	Reason     string `json:"reason"`
}

func (m *Manager) execSearch(ctx context.Context, rc *RunContext, state *toolRunState, rawArgs string) (string, error) {
	if state.plan == nil {
		return "", fmt.Errorf("no search plan yet; call %s first", capPlan)
	}

	var args searchArgs
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return "", fmt.Errorf("malformed %s arguments: %v", capSearch, err)
	}

	idx := m.matchPlanItem(state, args.SearchTerm)
	if idx < 0 {
		return "", fmt.Errorf("all planned searches have already run")
	}

	// Labels count issued searches, not plan positions, so they are
	// strictly increasing no matter what order the model picks.
	state.labeled++
	rc.Progress(fmt.Sprintf("Search %d/%d", state.labeled, len(state.plan.Searches)))

	summary := m.searcher.Search(ctx, rc, state.plan.Searches[idx])
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	state.summaries[idx] = summary
	state.completed[idx] = true
	if m.metrics != nil {
		m.metrics.RecordSearch(summary != "")
	}
	if summary == "" {
		return "search failed, no summary available", nil
	}
	return summary, nil
}

// matchPlanItem finds the pending plan item for a requested term: an exact
// query match wins, otherwise the first pending item. Duplicate calls for an
// already-completed term fall through to the next pending item, which keeps
// the capability idempotent in effect.
func (m *Manager) matchPlanItem(state *toolRunState, term string) int {
	firstPending := -1
	for i, item := range state.plan.Searches {
		if state.completed[i] {
			continue
		}
		if item.Query == term {
			return i
		}
		if firstPending < 0 {
			firstPending = i
		}
	}
	return firstPending
}

func (m *Manager) execWrite(ctx context.Context, rc *RunContext, state *toolRunState) (string, error) {
	if state.plan == nil {
		return "", fmt.Errorf("no search plan yet; call %s first", capPlan)
	}
	if state.report != nil {
		return "", fmt.Errorf("the report was already written")
	}

	// The writer needs every summary, so finish whatever the coordinator
	// left pending instead of bouncing the call back.
	if state.pendingSearches() > 0 {
		if err := m.completeSearches(ctx, rc, state); err != nil {
			return "", err
		}
	}

	phaseStart := time.Now()
	report, err := m.writer.Write(ctx, rc, state.query, state.summaries)
	if err != nil {
		return "", err
	}
	m.recordPhase(PhaseWriting, phaseStart)

	state.report = report
	return fmt.Sprintf("report written (%d chars). Summary: %s", len(report.MarkdownReport), report.ShortSummary), nil
}

// completeSearches runs the remaining plan items with a bounded fan-out.
// Summaries land at their plan index, preserving plan order for the writer.
func (m *Manager) completeSearches(ctx context.Context, rc *RunContext, state *toolRunState) error {
	phaseStart := time.Now()
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(m.config.MaxConcurrentSearch)

	for i := range state.plan.Searches {
		if state.completed[i] {
			continue
		}
		state.labeled++
		rc.Progress(fmt.Sprintf("Search %d/%d", state.labeled, len(state.plan.Searches)))

		idx := i
		group.Go(func() error {
			if groupCtx.Err() != nil {
				return groupCtx.Err()
			}
			summary := m.searcher.Search(groupCtx, rc, state.plan.Searches[idx])
			state.summaries[idx] = summary
			state.completed[idx] = true
			if m.metrics != nil {
				m.metrics.RecordSearch(summary != "")
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	m.recordPhase(PhaseSearching, phaseStart)
	return nil
}

func (m *Manager) execEmail(ctx context.Context, rc *RunContext, state *toolRunState) (string, error) {
	if m.mailer == nil {
		return "", fmt.Errorf("email delivery is not configured")
	}
	if state.report == nil {
		return "", fmt.Errorf("no report yet; call %s first", capWrite)
	}
	if state.emailed {
		return "", fmt.Errorf("the report was already emailed")
	}

	phaseStart := time.Now()
	if err := m.mailer.Deliver(ctx, rc, state.report); err != nil {
		// Delivery failure is terminal for the email, not for the run.
		state.deliveryError = err
		return "email delivery failed; still show the report to the user", nil
	}
	state.emailed = true
	m.recordPhase(PhaseEmailing, phaseStart)
	return "success", nil
}

// toolSystemPrompt appends run-specific hints to the coordinator
// instructions, such as whether clarifying answers are already in hand.
func (m *Manager) toolSystemPrompt(history []ConversationTurn) string {
	prompt := managerToolInstructions
	if answersPresent(history) {
		prompt += "\n\nThe user's latest message answers the clarifying questions from the previous turn. Do not ask again; proceed to planning."
	}
	if m.mailer == nil {
		prompt += "\n\nEmail delivery is not available in this deployment; skip the email step."
	}
	return prompt
}

// finalResult assembles the outcome of a run that the coordinator ended
// voluntarily. The report wins over whatever prose the model produced last.
func (m *Manager) finalResult(content string, state *toolRunState) *RunResult {
	reply := strings.TrimSpace(content)
	result := &RunResult{Status: StatusCompleted, DeliveryError: state.deliveryError}
	if state.report != nil {
		result.ReportMarkdown = state.report.MarkdownReport
		reply = state.report.MarkdownReport
	}
	if reply == "" {
		reply = "The research run ended without producing a report. Please try rephrasing your request."
		result.Status = StatusFailed
	}
	result.Reply = reply
	return result
}

func (m *Manager) budgetExhaustedResult(state *toolRunState) *RunResult {
	result := &RunResult{Status: StatusBudgetExhausted, DeliveryError: state.deliveryError}
	if state.report != nil {
		result.ReportMarkdown = state.report.MarkdownReport
		result.Reply = state.report.MarkdownReport
		return result
	}
	result.Reply = "The research run hit its step budget before a report could be finished. Partial progress was made; try narrowing the request."
	return result
}

func (m *Manager) failedResult(rc *RunContext, err error, state *toolRunState) *RunResult {
	slog.Error("manager: run failed",
		"trace_id", rc.TraceID,
		"error", err)
	result := &RunResult{Status: StatusFailed, DeliveryError: state.deliveryError}
	if state.report != nil {
		result.ReportMarkdown = state.report.MarkdownReport
	}
	result.Reply = fmt.Sprintf("The research run could not be completed: %v", err)
	return result
}

func (m *Manager) recordPhase(phase Phase, start time.Time) {
	if m.metrics != nil {
		m.metrics.RecordPhase(phase, time.Since(start))
	}
}

func schemaJSON(s *llm.JSONSchema) string {
	encoded, err := json.Marshal(s)
	if err != nil {
		// Schemas are compile-time constants; a marshal failure is a bug.
		panic(fmt.Sprintf("marshal capability schema: %v", err))
	}
	return string(encoded)
}
