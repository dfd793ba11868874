package research

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// ProgressEvent is one timestamped human-readable status line.
type ProgressEvent struct {
	Time    time.Time
	Message string
}

// ProgressSink is a bounded, append-only channel of progress events scoped to
// one workflow run. Publishing is best-effort: it never blocks the producer,
// and when the buffer is full the event is dropped rather than stalling the
// workflow. Drops are counted so overflow is observable, not silent.
//
// Single producer side (the run), any number of draining consumers.
type ProgressSink struct {
	events  chan ProgressEvent
	dropped atomic.Int64
}

// DefaultProgressBuffer is the sink capacity used when none is configured.
const DefaultProgressBuffer = 64

// NewProgressSink creates a sink holding at most capacity events.
func NewProgressSink(capacity int) *ProgressSink {
	if capacity <= 0 {
		capacity = DefaultProgressBuffer
	}
	return &ProgressSink{
		events: make(chan ProgressEvent, capacity),
	}
}

// Publish appends an event. Never blocks; on a full buffer the event is
// dropped and the drop counter incremented.
func (s *ProgressSink) Publish(message string) {
	event := ProgressEvent{Time: time.Now(), Message: message}
	select {
	case s.events <- event:
	default:
		s.dropped.Add(1)
		slog.Debug("progress sink full, event dropped", "message", message)
	}
}

// Drain removes and returns all currently buffered events in publish order.
// Non-blocking; returns nil when the sink is empty.
func (s *ProgressSink) Drain() []ProgressEvent {
	var drained []ProgressEvent
	for {
		select {
		case event := <-s.events:
			drained = append(drained, event)
		default:
			return drained
		}
	}
}

// Dropped returns how many events were discarded due to a full buffer.
func (s *ProgressSink) Dropped() int64 {
	return s.dropped.Load()
}
