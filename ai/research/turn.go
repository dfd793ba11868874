package research

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// defaultPollInterval is how often buffered progress is flushed to the
// caller while the run is in flight.
const defaultPollInterval = 500 * time.Millisecond

// TurnUpdate is one streamed snapshot of an in-flight conversation turn.
// Progress carries newly drained events only; the caller appends.
type TurnUpdate struct {
	// ID identifies this update within the turn.
	ID string `json:"id"`

	// Progress holds progress events drained since the previous update.
	Progress []ProgressEvent `json:"progress,omitempty"`

	// Done marks the final update of the turn. Result and History are set
	// only on the final update.
	Done bool `json:"done"`

	// Result is the run outcome, nil until Done.
	Result *RunResult `json:"result,omitempty"`

	// History is the conversation including this turn, set only on Done.
	History []ConversationTurn `json:"history,omitempty"`

	// Err reports a turn-level failure (cancellation, empty input). Set
	// only on Done, mutually exclusive with Result.
	Err error `json:"-"`
}

// TurnDriver runs one conversation turn per RunTurn call, bridging the
// Manager's synchronous Run with a streaming consumer.
type TurnDriver struct {
	manager        *Manager
	pollInterval   time.Duration
	progressBuffer int
}

// NewTurnDriver wires a driver to a manager. pollInterval and progressBuffer
// fall back to defaults when non-positive.
func NewTurnDriver(manager *Manager, pollInterval time.Duration, progressBuffer int) *TurnDriver {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if progressBuffer <= 0 {
		progressBuffer = DefaultProgressBuffer
	}
	return &TurnDriver{
		manager:        manager,
		pollInterval:   pollInterval,
		progressBuffer: progressBuffer,
	}
}

// RunTurn handles one user message against the given history. The returned
// channel yields progress updates while the run executes and closes after
// the final Done update. Cancelling ctx aborts the run; the final update
// then carries ctx's error.
func (d *TurnDriver) RunTurn(ctx context.Context, message string, history []ConversationTurn) <-chan TurnUpdate {
	updates := make(chan TurnUpdate, 8)
	turnID := shortuuid.New()

	go func() {
		defer close(updates)

		if strings.TrimSpace(message) == "" {
			updates <- TurnUpdate{ID: turnID, Done: true, History: history}
			return
		}

		sink := NewProgressSink(d.progressBuffer)

		type runOutcome struct {
			result *RunResult
			err    error
		}
		outcome := make(chan runOutcome, 1)
		go func() {
			result, err := d.manager.Run(ctx, message, history, sink)
			outcome <- runOutcome{result, err}
		}()

		ticker := time.NewTicker(d.pollInterval)
		defer ticker.Stop()

		// send never blocks forever: an abandoned consumer that cancelled
		// ctx must not strand this goroutine on a full channel.
		send := func(u TurnUpdate) bool {
			select {
			case updates <- u:
				return true
			case <-ctx.Done():
				return false
			}
		}

		flush := func() {
			if events := sink.Drain(); len(events) > 0 {
				send(TurnUpdate{ID: turnID, Progress: events})
			}
		}

		for {
			select {
			case <-ticker.C:
				flush()

			case out := <-outcome:
				// Late events published between the last tick and run
				// completion still belong to this turn.
				flush()

				final := TurnUpdate{ID: turnID, Done: true}
				if out.err != nil {
					slog.Error("turn: run failed",
						"turn_id", turnID,
						"error", out.err)
					final.Err = out.err
					final.History = history
				} else {
					final.Result = out.result
					final.History = append(append([]ConversationTurn{}, history...), ConversationTurn{
						User:          message,
						Assistant:     out.result.Reply,
						Clarification: out.result.AwaitingAnswers,
					})
				}
				if !send(final) {
					slog.Debug("turn: consumer gone, final update dropped",
						"turn_id", turnID)
				}
				return
			}
		}
	}()

	return updates
}
