package buildprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/buildprobe/internal/session"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

type captured struct {
	mu      sync.Mutex
	reports []Report
}

func (c *captured) Send(_ context.Context, r Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
	return nil
}

func (c *captured) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reports)
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	c, err := LoadConfig("")
	require.NoError(t, err)
	c.Probe.Server = "bench.test"
	c.Probe.Path = "/b"
	c.Probe.ExitTimeout = 2 * time.Second
	return c
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestProbeHooksFacade(t *testing.T) {
	sink := &captured{}
	p := NewWithSender(testConfig(t), sink, quiet())

	p.OnPreInit()
	p.OnPreBootstrap()
	p.MarkDataPoint("bootstrap")
	p.OnPreBuild()
	comp := p.OnPostBuild()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, comp.Wait(ctx))
	require.NoError(t, p.OnExit(context.Background()))

	assert.True(t, p.Flushed())
	assert.Equal(t, 1, sink.count(), "exit hook does not send again")
	_, crashed := p.Crashed()
	assert.False(t, crashed)
	ev := p.Events()
	assert.Equal(t, []string{
		"bootstrapTime", "instanceTime", "start", "bootstrap", "stop",
		"pre-init", "pre-bootstrap", "pre-build", "post-build",
	}, ev.Keys())
	stop, _ := p.Event("stop")
	start, _ := p.Event("start")
	assert.GreaterOrEqual(t, stop, start)
}

func TestProbeExitWithoutPostBuild(t *testing.T) {
	sink := &captured{}
	p := NewWithSender(testConfig(t), sink, quiet())
	p.OnPreInit()
	require.NoError(t, p.OnExit(context.Background()))
	assert.Equal(t, 1, sink.count())
	_, ok := p.Event("post-build")
	assert.True(t, ok)
}

func TestNewRequiresEndpoint(t *testing.T) {
	c, err := LoadConfig("")
	require.NoError(t, err)
	_, err = New(c, nil)
	assert.Error(t, err)

	c.Probe.Server = "bench.test"
	c.Probe.Path = "/b"
	p, err := New(c, quiet())
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestProbeRun(t *testing.T) {
	requireUnix(t)
	sink := &captured{}
	c := testConfig(t)
	c.Build.Command = []string{"/bin/sh", "-c", "exit 4"}
	p := NewWithSender(c, sink, quiet())

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.ExitCode)
	assert.Equal(t, 1, sink.count())
}

func TestCollectorHandlerReceivesProbeReport(t *testing.T) {
	var archived []HistoryEvent
	var mu sync.Mutex
	sink := sinkFunc(func(_ context.Context, e HistoryEvent) error {
		mu.Lock()
		defer mu.Unlock()
		archived = append(archived, e)
		return nil
	})
	h := CollectorHandler("/bench", sink, quiet())

	forward := session.SenderFunc(func(_ context.Context, r Report) error {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/bench", bytes.NewReader(b)))
		if rec.Code != http.StatusOK {
			return errors.New(rec.Body.String())
		}
		return nil
	})
	p := NewWithSender(testConfig(t), forward, quiet())
	p.OnPreInit()
	require.NoError(t, p.OnExit(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, archived, 1)
	ev := p.Events()
	assert.Equal(t, ev.Keys(), archived[0].Report.Events.Keys())
}

type sinkFunc func(context.Context, HistoryEvent) error

func (f sinkFunc) Send(ctx context.Context, e HistoryEvent) error { return f(ctx, e) }

func TestHistorySinkFacade(t *testing.T) {
	s, err := NewHistorySink("sqlite://:memory:")
	require.NoError(t, err)
	assert.NoError(t, CloseHistorySink(s))
	_, err = NewHistorySink("nope://x")
	assert.Error(t, err)
}

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterMetrics(reg))
	require.NoError(t, RegisterMetrics(reg))
}

func TestServeMetricsStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeMetrics(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ServeMetrics did not return after cancel")
	}
}

func TestProbeWithoutSenderDoesNotPanic(t *testing.T) {
	p := NewWithSender(testConfig(t), nil, quiet())
	p.OnPreInit()
	p.OnPreBuild()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.ErrorIs(t, p.OnPostBuild().Wait(ctx), session.ErrNoSender)
	assert.False(t, p.Flushed())
}
