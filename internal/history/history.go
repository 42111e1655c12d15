// Package history exports process lifecycle events to external systems.
package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/zapm/internal/process"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart   EventType = "start"
	EventStop    EventType = "stop"
	EventFail    EventType = "fail"
	EventRestart EventType = "restart"
	EventRemove  EventType = "remove"
)

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType      `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Record     process.Record `json:"record"`
	Reason     string         `json:"reason,omitempty"`
}

// NewEvent stamps an event for rec at the current time.
func NewEvent(t EventType, rec process.Record, reason string) Event {
	return Event{Type: t, OccurredAt: time.Now().UTC(), Record: rec.Clone(), Reason: reason}
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

const (
	queueSize   = 256
	sendTimeout = 5 * time.Second
)

// Recorder fans events out to sinks from a single background goroutine so a
// slow sink never holds up a lifecycle operation. Events are dropped when the
// queue is full.
type Recorder struct {
	sinks  []Sink
	logger *slog.Logger
	queue  chan Event

	closeOnce sync.Once
	done      chan struct{}
}

// NewRecorder returns nil when there are no sinks; a nil Recorder accepts and
// discards events.
func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if len(sinks) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		sinks:  append([]Sink(nil), sinks...),
		logger: logger.With("component", "history"),
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues e.
func (r *Recorder) Record(e Event) {
	if r == nil {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.logger.Warn("history queue full, event dropped", "type", e.Type, "name", e.Record.Name)
	}
}

// Close flushes queued events and waits for delivery to finish.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.closeOnce.Do(func() { close(r.queue) })
	<-r.done
	var firstErr error
	for _, s := range r.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		for _, s := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			if err := s.Send(ctx, e); err != nil {
				r.logger.Warn("history send failed", "type", e.Type, "name", e.Record.Name, "error", err)
			}
			cancel()
		}
	}
}
