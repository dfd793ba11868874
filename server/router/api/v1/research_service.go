// Package v1 exposes the research workflow over HTTP.
package v1

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/wamiqreh/ai-research-assistant/ai/research"
)

// ResearchService handles conversational research requests.
type ResearchService struct {
	driver *research.TurnDriver
}

func NewResearchService(driver *research.TurnDriver) *ResearchService {
	return &ResearchService{driver: driver}
}

// RegisterRoutes mounts the service under /api/v1.
func (s *ResearchService) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.POST("/research", s.Research)
}

// ResearchRequest is one user message plus the conversation so far. The
// client is the system of record for history; it echoes back what the
// previous response returned.
type ResearchRequest struct {
	Message string                      `json:"message"`
	History []research.ConversationTurn `json:"history"`
}

// researchUpdate is the wire shape of one streamed update.
type researchUpdate struct {
	ID       string                      `json:"id"`
	Progress []string                    `json:"progress,omitempty"`
	Done     bool                        `json:"done"`
	Reply    string                      `json:"reply,omitempty"`
	Report   string                      `json:"report,omitempty"`
	Status   string                      `json:"status,omitempty"`
	Awaiting bool                        `json:"awaiting_answers,omitempty"`
	Delivery string                      `json:"delivery_error,omitempty"`
	TraceID  string                      `json:"trace_id,omitempty"`
	History  []research.ConversationTurn `json:"history,omitempty"`
	Error    string                      `json:"error,omitempty"`
}

// Research runs one conversation turn and streams updates as Server-Sent
// Events until the turn completes.
func (s *ResearchService) Research(c echo.Context) error {
	var req ResearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	updates := s.driver.RunTurn(ctx, req.Message, req.History)
	for update := range updates {
		if err := writeEvent(c, toWire(update)); err != nil {
			// Client went away; the run is cancelled through ctx. Drain the
			// remaining updates so the producer goroutine can close out.
			slog.Debug("research stream closed by client", "error", err)
			for range updates {
			}
			return nil
		}
	}
	return nil
}

func toWire(update research.TurnUpdate) *researchUpdate {
	wire := &researchUpdate{
		ID:      update.ID,
		Done:    update.Done,
		History: update.History,
	}
	for _, event := range update.Progress {
		wire.Progress = append(wire.Progress, event.Message)
	}
	if update.Err != nil {
		wire.Error = update.Err.Error()
	}
	if result := update.Result; result != nil {
		wire.Reply = result.Reply
		wire.Report = result.ReportMarkdown
		wire.Status = string(result.Status)
		wire.Awaiting = result.AwaitingAnswers
		wire.TraceID = result.TraceID
		if result.DeliveryError != nil {
			wire.Delivery = result.DeliveryError.Error()
		}
	}
	return wire
}

func writeEvent(c echo.Context, update *researchUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", payload); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}
