package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Report is the wire body posted to the collector. SessionID carries the
// JSON text of the checkpoints, not a nested object.
type Report struct {
	Time      string `json:"time"`
	SessionID string `json:"sessionId"`
}

// NewReport encodes events into a Report.
func NewReport(localTime string, events Events) (Report, error) {
	b, err := json.Marshal(events)
	if err != nil {
		return Report{}, fmt.Errorf("encode events: %w", err)
	}
	return Report{Time: localTime, SessionID: string(b)}, nil
}

// Events decodes the checkpoints carried in SessionID.
func (r Report) Events() (Events, error) {
	var ev Events
	if err := json.Unmarshal([]byte(r.SessionID), &ev); err != nil {
		return Events{}, fmt.Errorf("decode sessionId: %w", err)
	}
	return ev, nil
}

// Sender delivers one report. Implementations return nil only after the
// whole response was received.
type Sender interface {
	Send(ctx context.Context, r Report) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, r Report) error

func (f SenderFunc) Send(ctx context.Context, r Report) error { return f(ctx, r) }

// ErrNoSender is the error a session built without a Sender flushes with.
var ErrNoSender = errors.New("no sender configured")

// ErrTruncated is returned when the response ended before it was complete.
var ErrTruncated = errors.New("the connection was terminated while the benchmark data was still being sent to the server")

// TransportError wraps connection-level failures (DNS, refused, TLS).
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "there was a problem with sending benchmark data to server: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// RequestError wraps failures while building or issuing the request,
// before anything reached the network.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string { return e.Err.Error() }

func (e *RequestError) Unwrap() error { return e.Err }
