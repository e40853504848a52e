package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/buildprobe/internal/metrics"
)

// Checkpoint names seeded or written by the recorder itself.
const (
	CheckpointBootstrapTime = "bootstrapTime"
	CheckpointInstanceTime  = "instanceTime"
	CheckpointStart         = "start"
	CheckpointBootstrap     = "bootstrap"
	CheckpointStop          = "stop"
)

// LocalTimeLayout matches the ISO-8601 form JavaScript's Date#toJSON emits.
const LocalTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Session records timing checkpoints for one build and flushes them at most
// once. Misuse never panics or returns an error: it is recorded as a Crash,
// logged, and recording continues.
type Session struct {
	mu     sync.Mutex
	log    *slog.Logger
	clock  Clock
	sender Sender
	now    func() time.Time

	localTime  string
	events     Events
	started    bool
	flushing   bool
	flushed    bool
	crash      *Crash
	completion *Completion
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the runtime clock.
func WithClock(c Clock) Option { return func(s *Session) { s.clock = c } }

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.log = l } }

// WithNow overrides the wall clock used for LocalTime.
func WithNow(now func() time.Time) Option { return func(s *Session) { s.now = now } }

// New creates a session that flushes through sender. A nil sender makes
// every flush fail with ErrNoSender.
func New(sender Sender, opts ...Option) *Session {
	if sender == nil {
		sender = SenderFunc(func(context.Context, Report) error {
			return &RequestError{Err: ErrNoSender}
		})
	}
	s := &Session{sender: sender, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	var bootstrap float64
	if s.clock == nil {
		rc := NewRuntimeClock()
		s.clock = rc
		bootstrap = rc.SinceLoad()
	} else {
		bootstrap = s.clock.Elapsed()
	}
	s.localTime = s.now().UTC().Format(LocalTimeLayout)
	s.events.Set(CheckpointBootstrapTime, bootstrap)
	s.events.Set(CheckpointInstanceTime, s.clock.Elapsed())
	s.events.Set(CheckpointStart, 0)
	s.events.Set(CheckpointBootstrap, 0)
	s.events.Set(CheckpointStop, 0)
	return s
}

// MarkStart records the start checkpoint.
func (s *Session) MarkStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.crashLocked(CrashDoubleStart, "Error: Should not call MarkStart() more than once")
	}
	s.setLocked(CheckpointStart)
	s.started = true
}

// MarkDataPoint records the current elapsed time under name, overwriting
// any earlier value.
func (s *Session) MarkDataPoint(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(name)
}

// MarkStop records the stop checkpoint and flushes. A missing start is
// recorded as a crash but the flush still happens.
func (s *Session) MarkStop() *Completion {
	s.mu.Lock()
	if !s.started {
		s.crashLocked(CrashStopBeforeStart, "Error: Should not call MarkStop() before calling MarkStart()")
	}
	s.setLocked(CheckpointStop)
	s.mu.Unlock()
	return s.Flush()
}

// Flush serializes the session and hands it to the sender. flushing is set
// before any I/O starts; later calls return the first call's Completion
// without sending again.
func (s *Session) Flush() *Completion {
	s.mu.Lock()
	if s.completion != nil {
		c := s.completion
		s.mu.Unlock()
		s.log.Debug("Flush already triggered; not sending again")
		return c
	}
	s.flushing = true
	c := newCompletion()
	s.completion = c
	report, err := NewReport(s.localTime, s.events)
	s.mu.Unlock()

	begin := time.Now()
	if err != nil {
		s.finish(c, &RequestError{Err: err}, begin)
		return c
	}
	go func() {
		s.finish(c, s.sender.Send(context.Background(), report), begin)
	}()
	return c
}

func (s *Session) finish(c *Completion, err error, begin time.Time) {
	result := metrics.ResultOK
	var reqErr *RequestError
	switch {
	case err == nil:
		s.mu.Lock()
		s.flushed = true
		s.mu.Unlock()
	case errors.As(err, &reqErr):
		result = metrics.ResultCrashed
		s.mu.Lock()
		s.crashLocked(CrashSend, "Sending the benchmark data crashed: "+reqErr.Err.Error())
		s.mu.Unlock()
	case errors.Is(err, ErrTruncated):
		result = metrics.ResultTruncated
	default:
		result = metrics.ResultTransport
	}
	metrics.ObserveFlush(result, time.Since(begin).Seconds())
	c.settle(err)
}

// Completion returns the in-flight or settled flush, or nil before Flush.
func (s *Session) Completion() *Completion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completion
}

// Events returns a copy of the recorded checkpoints.
func (s *Session) Events() Events {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Clone()
}

// Event returns one checkpoint.
func (s *Session) Event(name string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Get(name)
}

// LocalTime is the ISO-8601 capture time set at construction.
func (s *Session) LocalTime() string { return s.localTime }

func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Session) Flushing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushing
}

func (s *Session) Flushed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushed
}

// Crashed returns the recorded crash, if any.
func (s *Session) Crashed() (Crash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.crash == nil {
		return Crash{}, false
	}
	return *s.crash, true
}

func (s *Session) setLocked(name string) {
	v := s.clock.Elapsed()
	s.events.Set(name, v)
	metrics.ObserveCheckpoint(name, v)
}

func (s *Session) crashLocked(kind CrashKind, reason string) {
	s.crash = &Crash{Kind: kind, Reason: reason}
	metrics.IncUsageError(kind.String())
	s.log.Error(reason, "kind", kind.String())
}
