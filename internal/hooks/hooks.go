package hooks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loykin/buildprobe/internal/session"
)

// Checkpoint names written by the lifecycle hooks.
const (
	PointPreInit      = "pre-init"
	PointPreBootstrap = "pre-bootstrap"
	PointPreBuild     = "pre-build"
	PointPostBuild    = "post-build"
)

// DefaultExitTimeout bounds how long OnExit waits for an in-flight flush.
const DefaultExitTimeout = 5 * time.Second

// ErrNoFlush is returned by OnExit when the session crashed before any
// flush was triggered, so there was nothing to wait for.
var ErrNoFlush = errors.New("no flush in flight")

// Config is injected at construction.
type Config struct {
	// Endpoint is logged by OnPreInit; the session's sender owns delivery.
	Endpoint    string
	ExitTimeout time.Duration
	Logger      *slog.Logger
}

// Adapter maps host lifecycle events onto one session.
type Adapter struct {
	s           *session.Session
	endpoint    string
	exitTimeout time.Duration
	log         *slog.Logger
}

// New returns an Adapter driving s.
func New(s *session.Session, cfg Config) *Adapter {
	if cfg.ExitTimeout <= 0 {
		cfg.ExitTimeout = DefaultExitTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{s: s, endpoint: cfg.Endpoint, exitTimeout: cfg.ExitTimeout, log: cfg.Logger}
}

// Session returns the session the adapter records into.
func (a *Adapter) Session() *session.Session { return a.s }

func (a *Adapter) OnPreInit() {
	a.log.Info("Will post benchmark data to " + a.endpoint)
	a.s.MarkStart()
	a.s.MarkDataPoint(PointPreInit)
}

func (a *Adapter) OnPreBootstrap() {
	a.s.MarkDataPoint(PointPreBootstrap)
}

func (a *Adapter) OnPreBuild() {
	a.s.MarkDataPoint(PointPreBuild)
}

// OnPostBuild records the post-build checkpoint and triggers the flush.
func (a *Adapter) OnPostBuild() *session.Completion {
	a.s.MarkDataPoint(PointPostBuild)
	return a.s.MarkStop()
}

// OnExit is the shutdown fallback. If no flush was triggered and the
// session has not crashed, it records post-build and flushes now. It then
// waits for the in-flight flush, bounded by the exit timeout and ctx.
func (a *Adapter) OnExit(ctx context.Context) error {
	_, crashed := a.s.Crashed()
	if !a.s.Flushing() && !crashed {
		a.log.Warn("Exiting before the benchmark data was flushed; flushing now")
		a.s.MarkDataPoint(PointPostBuild)
		a.s.MarkStop()
	}
	comp := a.s.Completion()
	if comp == nil {
		return ErrNoFlush
	}
	ctx, cancel := context.WithTimeout(ctx, a.exitTimeout)
	defer cancel()
	err := comp.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		a.log.Error("Benchmark data was not delivered before exit", "timeout", a.exitTimeout, "error", err)
	}
	return err
}
