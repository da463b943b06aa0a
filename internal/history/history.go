package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// EventType defines the kind of maintenance event.
type EventType string

const (
	EventPassStart   EventType = "pass_start"
	EventTrimSummary EventType = "trim_summary"
	EventPrivilege   EventType = "privilege"
	EventPurge       EventType = "purge"
	EventStage       EventType = "stage"
	EventPassEnd     EventType = "pass_end"
)

// Table is the relational table and default ClickHouse/OpenSearch target.
const Table = "maintenance_history"

// Event is one row of run history. RunID ties the events of a pass together.
type Event struct {
	RunID      string    `json:"run_id"`
	Type       EventType `json:"type"`
	Stage      string    `json:"stage,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Bytes      uint64    `json:"bytes,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }

// Multi sends each event to every sink and joins their errors.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that implements io.Closer.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Recorder stamps events with the run id and time and hands them to a sink.
// A sink failure is logged once per event and otherwise ignored.
type Recorder struct {
	sink  Sink
	log   *slog.Logger
	runID string
	now   func() time.Time
}

func NewRecorder(sink Sink, log *slog.Logger, runID string) *Recorder {
	if sink == nil {
		sink = Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{sink: sink, log: log, runID: runID, now: time.Now}
}

func (r *Recorder) RunID() string { return r.runID }

func (r *Recorder) Record(ctx context.Context, e Event) {
	e.RunID = r.runID
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now().UTC()
	}
	if err := r.sink.Send(ctx, e); err != nil {
		r.log.WarnContext(ctx, "history sink failed", "type", e.Type, "stage", e.Stage, "error", err)
	}
}
