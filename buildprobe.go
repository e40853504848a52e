package buildprobe

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	cfg "github.com/loykin/buildprobe/internal/config"
	"github.com/loykin/buildprobe/internal/collector"
	"github.com/loykin/buildprobe/internal/history"
	"github.com/loykin/buildprobe/internal/history/factory"
	"github.com/loykin/buildprobe/internal/hooks"
	"github.com/loykin/buildprobe/internal/metrics"
	"github.com/loykin/buildprobe/internal/runner"
	"github.com/loykin/buildprobe/internal/session"
	"github.com/loykin/buildprobe/internal/transmit"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Report = session.Report

type Events = session.Events

type Completion = session.Completion

type Crash = session.Crash

type Sender = session.Sender

type HistorySink = history.Sink

type HistoryEvent = history.Event

type RunResult = runner.Result

const component = "buildprobe"

// LoadConfig reads a TOML file on top of defaults and BUILDPROBE_* overrides.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// Probe records one build and reports it to the collector configured in
// [probe]. Its hook methods are meant to be called by the host in order.
type Probe struct {
	hooks *hooks.Adapter
	cfg   *Config
	log   *slog.Logger
}

// New builds a Probe that posts to https://{probe.server}{probe.path}.
// A nil log is built from the [log] section.
func New(c *Config, log *slog.Logger) (*Probe, error) {
	if err := c.ValidateProbe(); err != nil {
		return nil, err
	}
	if log == nil {
		log = c.Logger().NewSlogger()
	}
	tr, err := transmit.New(transmit.Config{
		Server:  c.Probe.Server,
		Path:    c.Probe.Path,
		Timeout: c.Probe.Timeout,
		Logger:  log.With("component", component),
		TLS: &transmit.TLSConfig{
			CACert:     c.Probe.CACert,
			ClientCert: c.Probe.ClientCert,
			ClientKey:  c.Probe.ClientKey,
			ServerName: c.Probe.ServerName,
			SkipVerify: c.Probe.Insecure,
		},
	})
	if err != nil {
		return nil, err
	}
	return NewWithSender(c, tr, log), nil
}

// NewWithSender builds a Probe that delivers through sender instead of HTTPS.
func NewWithSender(c *Config, sender Sender, log *slog.Logger) *Probe {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", component)
	s := session.New(sender, session.WithLogger(log))
	a := hooks.New(s, hooks.Config{
		Endpoint:    c.Endpoint(),
		ExitTimeout: c.Probe.ExitTimeout,
		Logger:      log,
	})
	return &Probe{hooks: a, cfg: c, log: log}
}

func (p *Probe) OnPreInit()                        { p.hooks.OnPreInit() }
func (p *Probe) OnPreBootstrap()                   { p.hooks.OnPreBootstrap() }
func (p *Probe) OnPreBuild()                       { p.hooks.OnPreBuild() }
func (p *Probe) OnPostBuild() *Completion          { return p.hooks.OnPostBuild() }
func (p *Probe) OnExit(ctx context.Context) error  { return p.hooks.OnExit(ctx) }
func (p *Probe) MarkDataPoint(name string)         { p.hooks.Session().MarkDataPoint(name) }
func (p *Probe) Events() Events                    { return p.hooks.Session().Events() }
func (p *Probe) Crashed() (Crash, bool)            { return p.hooks.Session().Crashed() }
func (p *Probe) Flushed() bool                     { return p.hooks.Session().Flushed() }
func (p *Probe) Event(name string) (float64, bool) { return p.hooks.Session().Event(name) }

// Run drives the [build] section of the probe's config through all hooks.
// The result's ExitCode is the build's own exit status.
func (p *Probe) Run(ctx context.Context) (RunResult, error) {
	env, err := p.cfg.BuildEnv()
	if err != nil {
		return RunResult{}, err
	}
	r := runner.New(p.hooks, runner.Config{
		Bootstrap: p.cfg.Build.Bootstrap,
		Command:   p.cfg.Build.Command,
		WorkDir:   p.cfg.Build.WorkDir,
		Env:       env,
		Logs:      p.cfg.Logger(),
		Logger:    p.log,
	})
	return r.Run(ctx)
}

// NewHistorySink opens an archive for received reports, chosen by DSN.
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// CloseHistorySink releases sink resources when it holds any.
func CloseHistorySink(s HistorySink) error { return factory.Close(s) }

// CollectorHandler returns an embeddable handler accepting reports on path.
// sink may be nil.
func CollectorHandler(path string, sink HistorySink, log *slog.Logger) http.Handler {
	return collector.NewRouter(collector.Config{Path: path, Sink: sink, Logger: log}).Handler()
}

// NewCollector builds a standalone collector server from the [collector]
// section. Call ListenAndServe on the result.
func NewCollector(c *Config, sink HistorySink, withMetrics bool, log *slog.Logger) (*collector.Server, error) {
	return collector.NewServer(c.Collector, sink, withMetrics, log)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics serves /metrics from the default registry on addr until ctx
// is done.
func ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
