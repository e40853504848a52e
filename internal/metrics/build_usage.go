package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// DefaultSampleInterval is used when UsageSampler.Interval is zero.
const DefaultSampleInterval = 500 * time.Millisecond

// BuildUsage summarises resource consumption of one build step.
type BuildUsage struct {
	Step       string  `json:"step"`
	PID        int32   `json:"pid"`
	PeakRSSMB  float64 `json:"peak_rss_mb"`
	CPUSeconds float64 `json:"cpu_seconds"`
	Samples    int     `json:"samples"`
}

// UsageSampler polls a running build step and keeps its peak memory and
// latest CPU time. Sampling errors are logged at debug level and skipped:
// the step may exit between ticks.
type UsageSampler struct {
	Interval time.Duration
	Logger   *slog.Logger

	mu    sync.Mutex
	usage BuildUsage
	wg    sync.WaitGroup
}

// Start begins sampling pid until ctx is done or Stop is called.
func (s *UsageSampler) Start(ctx context.Context, step string, pid int32) (stop func() BuildUsage) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	s.mu.Lock()
	s.usage = BuildUsage{Step: step, PID: pid}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		s.sample(log, pid)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sample(log, pid)
			}
		}
	}()

	return func() BuildUsage {
		cancel()
		s.wg.Wait()
		u := s.Usage()
		SetBuildUsage(u.Step, u.PeakRSSMB, u.CPUSeconds)
		return u
	}
}

// Usage returns the current summary.
func (s *UsageSampler) Usage() BuildUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

func (s *UsageSampler) sample(log *slog.Logger, pid int32) {
	rss, cpu, err := readUsage(pid)
	if err != nil {
		log.Debug("Failed to sample build step", "pid", pid, "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage.Samples++
	if rss > s.usage.PeakRSSMB {
		s.usage.PeakRSSMB = rss
	}
	if cpu > s.usage.CPUSeconds {
		s.usage.CPUSeconds = cpu
	}
}

// readUsage returns RSS in megabytes and user+system CPU seconds for pid.
func readUsage(pid int32) (float64, float64, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create process handle: %w", err)
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get memory info: %w", err)
	}
	var cpu float64
	if times, err := proc.Times(); err == nil {
		cpu = times.User + times.System
	}
	return float64(memInfo.RSS) / 1024 / 1024, cpu, nil
}
