package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/buildprobe/internal/history"
	"github.com/loykin/buildprobe/internal/session"
)

func testEvent(remote string, start, stop float64) history.Event {
	var ev session.Events
	ev.Set("start", start)
	ev.Set("pre-init", start+1)
	ev.Set("stop", stop)
	return history.Event{
		ReceivedAt: time.Now().UTC(),
		Remote:     remote,
		Report:     history.Record{Time: "2024-03-01T12:30:45.123Z", Events: ev},
	}
}

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reports.db")
	sink, err := New("sqlite://" + dbPath)
	require.NoError(t, err)
	defer func() { assert.NoError(t, sink.Close()) }()

	ctx := context.Background()
	require.NoError(t, sink.Send(ctx, testEvent("10.0.0.1", 10, 110)))
	require.NoError(t, sink.Send(ctx, testEvent("10.0.0.2", 20, 0)))

	var count int
	require.NoError(t, sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM build_reports").Scan(&count))
	assert.Equal(t, 2, count)

	var (
		events string
		total  sql.NullFloat64
	)
	require.NoError(t, sink.db.QueryRowContext(ctx,
		"SELECT events, total_ms FROM build_reports WHERE remote = ?", "10.0.0.1").Scan(&events, &total))
	assert.Equal(t, `{"start":10,"pre-init":11,"stop":110}`, events)
	assert.True(t, total.Valid)
	assert.InDelta(t, 100.0, total.Float64, 1e-9)

	require.NoError(t, sink.db.QueryRowContext(ctx,
		"SELECT total_ms FROM build_reports WHERE remote = ?", "10.0.0.2").Scan(&total))
	assert.False(t, total.Valid, "unfinished build has no total")
}

func TestSQLiteSink_ReopenKeepsRows(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reports.db")
	sink, err := New(dbPath)
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), testEvent("a", 1, 2)))
	require.NoError(t, sink.Close())

	sink, err = New(dbPath)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()
	var count int
	require.NoError(t, sink.db.QueryRow("SELECT COUNT(*) FROM build_reports").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLiteSink_Memory(t *testing.T) {
	sink, err := New("sqlite://:memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()
	assert.NoError(t, sink.Send(context.Background(), testEvent("m", 0, 5)))
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}

func TestSQLiteSink_CancelledContext(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, sink.Send(ctx, testEvent("c", 0, 1)))
}
