package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/loykin/buildprobe/internal/session"
)

// DefaultTable is the table (or index) reports are archived to when the DSN
// does not name one.
const DefaultTable = "build_reports"

// Record is a decoded report as received by the collector.
type Record struct {
	Time   string         `json:"time"`
	Events session.Events `json:"events"`
}

// Total returns stop minus start in milliseconds. ok is false when either
// checkpoint is missing or the build never stopped after it started.
func (r Record) Total() (ms float64, ok bool) {
	start, okStart := r.Events.Get("start")
	stop, okStop := r.Events.Get("stop")
	if !okStart || !okStop || stop < start {
		return 0, false
	}
	return stop - start, true
}

// EventsJSON returns the checkpoints as ordered JSON text.
func (r Record) EventsJSON() (string, error) {
	b, err := json.Marshal(r.Events)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Event is one archived report.
type Event struct {
	ReceivedAt time.Time `json:"received_at"`
	Remote     string    `json:"remote"`
	Report     Record    `json:"report"`
}

// NewEvent decodes r into an Event received now from remote.
func NewEvent(r session.Report, remote string, now time.Time) (Event, error) {
	ev, err := r.Events()
	if err != nil {
		return Event{}, err
	}
	return Event{
		ReceivedAt: now.UTC(),
		Remote:     remote,
		Report:     Record{Time: r.Time, Events: ev},
	}, nil
}

// Sink is a destination for archived reports.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
