package history

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/buildprobe/internal/session"
)

func TestNewEventDecodesReport(t *testing.T) {
	var ev session.Events
	ev.Set("start", 12.5)
	ev.Set("pre-init", 13)
	ev.Set("stop", 112.5)
	r, err := session.NewReport("2024-03-01T12:30:45.123Z", ev)
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 13, 0, 0, 0, time.FixedZone("KST", 9*3600))
	e, err := NewEvent(r, "10.0.0.1", now)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, e.ReceivedAt.Location())
	assert.Equal(t, "10.0.0.1", e.Remote)
	assert.Equal(t, "2024-03-01T12:30:45.123Z", e.Report.Time)
	assert.Equal(t, []string{"start", "pre-init", "stop"}, e.Report.Events.Keys())

	total, ok := e.Report.Total()
	assert.True(t, ok)
	assert.InDelta(t, 100.0, total, 1e-9)

	js, err := e.Report.EventsJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"start":12.5,"pre-init":13,"stop":112.5}`, js)
}

func TestNewEventRejectsBadSessionID(t *testing.T) {
	_, err := NewEvent(session.Report{Time: "x", SessionID: "not json"}, "", time.Now())
	assert.Error(t, err)
}

func TestRecordTotalMissingOrInverted(t *testing.T) {
	var ev session.Events
	ev.Set("start", 10)
	_, ok := Record{Events: ev}.Total()
	assert.False(t, ok)

	ev.Set("stop", 0)
	_, ok = Record{Events: ev}.Total()
	assert.False(t, ok, "stop seeded at zero and never recorded")
}

func TestEventJSONShape(t *testing.T) {
	var ev session.Events
	ev.Set("start", 1)
	e := Event{ReceivedAt: time.Unix(0, 0).UTC(), Remote: "r", Report: Record{Time: "t", Events: ev}}
	b, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"received_at":"1970-01-01T00:00:00Z","remote":"r","report":{"time":"t","events":{"start":1}}}`, string(b))
}
