package session

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Clock reports elapsed milliseconds since a fixed origin.
type Clock interface {
	Elapsed() float64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() float64

func (f ClockFunc) Elapsed() float64 { return f() }

// loadedAt is captured when the package is initialised and seeds the
// bootstrapTime checkpoint.
var loadedAt = time.Now()

// RuntimeClock measures from the creation time of the current OS process,
// so early checkpoints include time spent before Go main ran.
type RuntimeClock struct {
	origin time.Time
	// mono anchors the monotonic reading; origin may predate it.
	mono   time.Time
	offset time.Duration
}

// NewRuntimeClock returns a clock anchored on the process creation time.
// It falls back to package initialisation time when the creation time
// cannot be read.
func NewRuntimeClock() *RuntimeClock {
	origin := loadedAt
	if created, ok := processCreateTime(); ok && created.Before(loadedAt) {
		origin = created
	}
	return &RuntimeClock{origin: origin, mono: loadedAt, offset: loadedAt.Sub(origin)}
}

// Origin returns the wall-clock instant elapsed values are measured from.
func (c *RuntimeClock) Origin() time.Time { return c.origin }

// Elapsed returns milliseconds since Origin using the monotonic clock.
func (c *RuntimeClock) Elapsed() float64 {
	return durationMS(c.offset + time.Since(c.mono))
}

// SinceLoad returns the elapsed value at package initialisation.
func (c *RuntimeClock) SinceLoad() float64 {
	return durationMS(c.offset)
}

func processCreateTime() (time.Time, bool) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return time.Time{}, false
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
