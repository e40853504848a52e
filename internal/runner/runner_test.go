//go:build !windows

package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/buildprobe/internal/hooks"
	"github.com/loykin/buildprobe/internal/logger"
	"github.com/loykin/buildprobe/internal/session"
)

type recorder struct {
	mu      sync.Mutex
	reports []session.Report
	err     error
}

func (r *recorder) Send(_ context.Context, rep session.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
	return r.err
}

func (r *recorder) sent(t *testing.T) []string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.reports, 1, "exactly one report")
	ev, err := r.reports[0].Events()
	require.NoError(t, err)
	return ev.Keys()
}

func newRunner(t *testing.T, rec *recorder, cfg Config) (*Runner, *session.Session) {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := session.New(rec, session.WithLogger(quiet))
	a := hooks.New(s, hooks.Config{Endpoint: "https://x.test/b", ExitTimeout: 5 * time.Second, Logger: quiet})
	if cfg.Logger == nil {
		cfg.Logger = quiet
	}
	cfg.SampleInterval = 10 * time.Millisecond
	return New(a, cfg), s
}

func TestRunSuccessfulBuild(t *testing.T) {
	rec := &recorder{}
	var out, errOut bytes.Buffer
	r, s := newRunner(t, rec, Config{
		Bootstrap: "echo boot",
		Command:   []string{"/bin/sh", "-c", "echo built; echo warn 1>&2"},
		Stdout:    &out,
		Stderr:    &errOut,
	})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.NoError(t, res.FlushErr)
	assert.Equal(t, "boot\nbuilt\n", out.String())
	assert.Equal(t, "warn\n", errOut.String())
	assert.Contains(t, res.Usage, StepBootstrap)
	assert.Contains(t, res.Usage, StepBuild)

	assert.Equal(t, []string{
		"bootstrapTime", "instanceTime", "start", "bootstrap", "stop",
		"pre-init", "pre-bootstrap", "pre-build", "post-build",
	}, rec.sent(t))
	boot, _ := s.Event("bootstrap")
	preBuild, _ := s.Event("pre-build")
	assert.Greater(t, boot, 0.0)
	assert.LessOrEqual(t, boot, preBuild)
	_, crashed := s.Crashed()
	assert.False(t, crashed)
}

func TestRunWithoutBootstrapLeavesSlotZero(t *testing.T) {
	rec := &recorder{}
	r, s := newRunner(t, rec, Config{Command: []string{"/bin/true"}, Stdout: io.Discard, Stderr: io.Discard})
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	v, ok := s.Event("bootstrap")
	assert.True(t, ok)
	assert.Equal(t, 0.0, v)
	assert.NotContains(t, res.Usage, StepBootstrap)
}

func TestRunFailedBuildKeepsExitCodeAndFlushesOnExit(t *testing.T) {
	rec := &recorder{}
	r, s := newRunner(t, rec, Config{Command: []string{"/bin/sh", "-c", "exit 3"}, Stdout: io.Discard, Stderr: io.Discard})
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.NoError(t, res.FlushErr)
	assert.True(t, s.Flushed())
	assert.Contains(t, rec.sent(t), "post-build", "exit hook records post-build")
}

func TestRunFailedBootstrapSkipsBuild(t *testing.T) {
	rec := &recorder{}
	marker := filepath.Join(t.TempDir(), "built")
	r, _ := newRunner(t, rec, Config{
		Bootstrap: "exit 2",
		Command:   []string{"/bin/sh", "-c", "touch " + marker},
		Stdout:    io.Discard,
		Stderr:    io.Discard,
	})
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.ExitCode)
	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr))
	assert.NotContains(t, rec.sent(t), "pre-build")
}

func TestRunDeliveryFailureDoesNotChangeExitCode(t *testing.T) {
	rec := &recorder{err: &session.TransportError{Err: errors.New("connection refused")}}
	r, s := newRunner(t, rec, Config{Command: []string{"/bin/true"}, Stdout: io.Discard, Stderr: io.Discard})
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	var trErr *session.TransportError
	assert.ErrorAs(t, res.FlushErr, &trErr)
	_, crashed := s.Crashed()
	assert.False(t, crashed)
}

func TestRunCommandNotFound(t *testing.T) {
	rec := &recorder{}
	r, s := newRunner(t, rec, Config{Command: []string{filepath.Join(t.TempDir(), "missing")}, Stdout: io.Discard, Stderr: io.Discard})
	res, err := r.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, ExitNotStarted, res.ExitCode)
	assert.True(t, s.Flushed(), "exit hook still flushes")
}

func TestRunEmptyCommand(t *testing.T) {
	rec := &recorder{}
	r, s := newRunner(t, rec, Config{})
	_, err := r.Run(context.Background())
	assert.Error(t, err)
	assert.False(t, s.Flushing())
}

func TestRunCancelledBuildStillFlushes(t *testing.T) {
	rec := &recorder{}
	r, s := newRunner(t, rec, Config{
		Command:   []string{"/bin/sh", "-c", "sleep 30"},
		Stdout:    io.Discard,
		Stderr:    io.Discard,
		WaitDelay: time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.NotEqual(t, 0, res.ExitCode)
	assert.NoError(t, res.FlushErr)
	assert.True(t, s.Flushed())
}

func TestRunTeesOutputToLogDir(t *testing.T) {
	rec := &recorder{}
	dir := t.TempDir()
	var out bytes.Buffer
	r, _ := newRunner(t, rec, Config{
		Bootstrap: "echo setup",
		Command:   []string{"/bin/sh", "-c", "echo compiled; echo oops 1>&2"},
		Logs:      logger.Config{File: logger.FileConfig{Dir: dir}},
		Stdout:    &out,
		Stderr:    io.Discard,
	})
	_, err := r.Run(context.Background())
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(dir, "build.stdout.log"))
	require.NoError(t, err)
	assert.Equal(t, "compiled\n", string(b))
	b, err = os.ReadFile(filepath.Join(dir, "build.stderr.log"))
	require.NoError(t, err)
	assert.Equal(t, "oops\n", string(b))
	b, err = os.ReadFile(filepath.Join(dir, "bootstrap.stdout.log"))
	require.NoError(t, err)
	assert.Equal(t, "setup\n", string(b))
	assert.Equal(t, "setup\ncompiled\n", out.String())
}

func TestRunEnvAndWorkDir(t *testing.T) {
	rec := &recorder{}
	dir := t.TempDir()
	var out bytes.Buffer
	r, _ := newRunner(t, rec, Config{
		Command: []string{"/bin/sh", "-c", "echo $BUILD_FLAVOR; pwd"},
		Env:     []string{"BUILD_FLAVOR=release", "PATH=" + os.Getenv("PATH")},
		WorkDir: dir,
		Stdout:  &out,
		Stderr:  io.Discard,
	})
	_, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "release\n")
	assert.Contains(t, out.String(), filepath.Base(dir))
}
