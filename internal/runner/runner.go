package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/loykin/buildprobe/internal/hooks"
	"github.com/loykin/buildprobe/internal/logger"
	"github.com/loykin/buildprobe/internal/metrics"
	"github.com/loykin/buildprobe/internal/session"
)

// Step names used in logs, metrics and output file names. A finished
// bootstrap also fills the session's bootstrap checkpoint.
const (
	StepBootstrap = session.CheckpointBootstrap
	StepBuild     = "build"
)

// ExitNotStarted is the exit code reported when a step could not be started.
const ExitNotStarted = 127

// DefaultWaitDelay bounds how long a cancelled step may take to exit after
// it was signalled.
const DefaultWaitDelay = 10 * time.Second

// Config describes the host build.
type Config struct {
	// Bootstrap is an optional shell script run before the build.
	Bootstrap string
	// Command is the build argv. It must not be empty.
	Command []string
	WorkDir string
	// Env is the full child environment; nil inherits the current one.
	Env []string
	// Logs tees step output into rotated files under Logs.File.Dir.
	Logs logger.Config
	// Stdout and Stderr default to the runner's own.
	Stdout io.Writer
	Stderr io.Writer
	// SampleInterval for build resource usage; zero uses the sampler default.
	SampleInterval time.Duration
	WaitDelay      time.Duration
	Logger         *slog.Logger
}

// Result is the outcome of one Run.
type Result struct {
	// ExitCode is the exit status of the last step that ran.
	ExitCode int
	// Usage per step that ran, keyed by step name.
	Usage map[string]metrics.BuildUsage
	// FlushErr is the delivery outcome of the benchmark report. It never
	// changes ExitCode.
	FlushErr error
}

// Runner drives a bootstrap and a build through the lifecycle hooks.
type Runner struct {
	cfg   Config
	hooks *hooks.Adapter
	log   *slog.Logger
}

// New returns a Runner that reports through a.
func New(a *hooks.Adapter, cfg Config) *Runner {
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = DefaultWaitDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{cfg: cfg, hooks: a, log: cfg.Logger}
}

// Run executes the host lifecycle:
//
//	OnPreInit, OnPreBootstrap, bootstrap, OnPreBuild, build, OnPostBuild, OnExit
//
// A failed bootstrap skips the build; a failed build skips OnPostBuild so
// the exit hook flushes instead. The returned error is non-nil only when a
// step could not be started or Command is empty. Cancelling ctx stops the
// running step; the exit hook still runs with ctx's values but not its
// cancellation.
func (r *Runner) Run(ctx context.Context) (res Result, err error) {
	res.Usage = map[string]metrics.BuildUsage{}
	if len(r.cfg.Command) == 0 {
		return res, errors.New("build command required")
	}

	defer func() {
		res.FlushErr = r.hooks.OnExit(context.WithoutCancel(ctx))
	}()

	r.hooks.OnPreInit()
	r.hooks.OnPreBootstrap()

	if r.cfg.Bootstrap != "" {
		var (
			code  int
			usage *metrics.BuildUsage
		)
		code, usage, err = r.step(ctx, StepBootstrap, shellCommand(ctx, r.cfg.Bootstrap))
		res.ExitCode = code
		if usage != nil {
			res.Usage[StepBootstrap] = *usage
		}
		if err != nil || code != 0 {
			r.log.Error("Bootstrap failed; skipping build", "exit_code", code, "error", err)
			return res, err
		}
		r.hooks.Session().MarkDataPoint(StepBootstrap)
	}

	r.hooks.OnPreBuild()

	// #nosec G204 the build command comes from the operator's configuration
	build := exec.CommandContext(ctx, r.cfg.Command[0], r.cfg.Command[1:]...)
	code, usage, err := r.step(ctx, StepBuild, build)
	res.ExitCode = code
	if usage != nil {
		res.Usage[StepBuild] = *usage
	}
	if err != nil || code != 0 {
		r.log.Error("Build failed", "exit_code", code, "error", err)
		return res, err
	}

	r.hooks.OnPostBuild()
	return res, nil
}

// step runs cmd to completion. err is non-nil only when cmd could not start.
func (r *Runner) step(ctx context.Context, name string, cmd *exec.Cmd) (int, *metrics.BuildUsage, error) {
	if r.cfg.WorkDir != "" {
		cmd.Dir = r.cfg.WorkDir
	}
	if r.cfg.Env != nil {
		cmd.Env = r.cfg.Env
	}
	configureSysProcAttr(cmd)
	cmd.WaitDelay = r.cfg.WaitDelay

	outW, errW, err := r.cfg.Logs.ProcessWriters(name)
	if err != nil {
		return ExitNotStarted, nil, fmt.Errorf("%s log writers: %w", name, err)
	}
	defer closeAll(outW, errW)
	cmd.Stdout = tee(r.cfg.Stdout, outW)
	cmd.Stderr = tee(r.cfg.Stderr, errW)

	r.log.Info("Starting step", "step", name, "args", cmd.Args, "dir", cmd.Dir)
	if err := cmd.Start(); err != nil {
		return ExitNotStarted, nil, fmt.Errorf("start %s: %w", name, err)
	}

	sampler := &metrics.UsageSampler{Interval: r.cfg.SampleInterval, Logger: r.log}
	stop := sampler.Start(ctx, name, int32(cmd.Process.Pid))
	waitErr := cmd.Wait()
	usage := stop()

	code := cmd.ProcessState.ExitCode()
	if code < 0 {
		// killed by a signal
		code = 1
	}
	r.log.Info("Step finished", "step", name, "exit_code", code,
		"peak_rss_mb", usage.PeakRSSMB, "cpu_seconds", usage.CPUSeconds, "wait_error", waitErr)
	if ctx.Err() != nil {
		r.log.Warn("Step cancelled", "step", name, "reason", context.Cause(ctx))
	}
	return code, &usage, nil
}

func tee(w io.Writer, f io.WriteCloser) io.Writer {
	if f == nil {
		return w
	}
	return io.MultiWriter(w, f)
}

func closeAll(cs ...io.Closer) {
	for _, c := range cs {
		if c != nil {
			_ = c.Close()
		}
	}
}
