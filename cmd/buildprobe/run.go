package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/buildprobe"
)

// RunFlags holds flags for the run command. Empty values keep the config.
type RunFlags struct {
	Server        string
	Path          string
	CACert        string
	ClientCert    string
	ClientKey     string
	Insecure      bool
	Bootstrap     string
	WorkDir       string
	LogDir        string
	ExitTimeout   time.Duration
	MetricsListen string
}

// createRunCommand creates the run subcommand
func createRunCommand(globalFlags *GlobalFlags, runFlags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags] [-- build command...]",
		Short: "Run a build and report its phase timings",
		Long: `Run the optional bootstrap script and the build command, recording
checkpoints around each phase, then post the report to the collector.

The build's exit status is returned unchanged; a report that could not be
delivered is logged and never fails the build.

Examples:
  buildprobe run --server bench.example.com --path /b -- make all
  buildprobe run --bootstrap "npm ci" -- npm run build
  buildprobe run --config buildprobe.toml          # uses [build].command`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, globalFlags, runFlags, args)
		},
	}

	cmd.Flags().StringVar(&runFlags.Server, "server", "", "collector host[:port] (overrides [probe].server)")
	cmd.Flags().StringVar(&runFlags.Path, "path", "", "collector path (overrides [probe].path)")
	cmd.Flags().StringVar(&runFlags.CACert, "ca-cert", "", "PEM file trusted for the collector certificate")
	cmd.Flags().StringVar(&runFlags.ClientCert, "client-cert", "", "PEM client certificate presented to the collector")
	cmd.Flags().StringVar(&runFlags.ClientKey, "client-key", "", "PEM private key for --client-cert")
	cmd.Flags().BoolVar(&runFlags.Insecure, "insecure", false, "skip collector certificate verification")
	cmd.Flags().StringVar(&runFlags.Bootstrap, "bootstrap", "", "shell script run before the build")
	cmd.Flags().StringVar(&runFlags.WorkDir, "workdir", "", "working directory for bootstrap and build")
	cmd.Flags().StringVar(&runFlags.LogDir, "log-dir", "", "tee bootstrap/build output into rotated files here")
	cmd.Flags().DurationVar(&runFlags.ExitTimeout, "exit-timeout", 0, "how long to wait for report delivery on exit")
	cmd.Flags().StringVar(&runFlags.MetricsListen, "metrics-listen", "", "serve Prometheus metrics on this address while running")

	return cmd
}

func runBuild(cmd *cobra.Command, globalFlags *GlobalFlags, flags *RunFlags, args []string) error {
	c, log, err := loadConfig(globalFlags)
	if err != nil {
		return err
	}
	applyRunFlags(c, cmd, flags, args)

	p, err := buildprobe.New(c, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listen := c.Metrics.Listen
	if flags.MetricsListen != "" {
		listen = flags.MetricsListen
	}
	serveMetrics(ctx, listen, log)

	res, err := p.Run(ctx)
	if err != nil && res.ExitCode == 0 {
		return err
	}
	if res.ExitCode != 0 {
		return exitCodeError{code: res.ExitCode}
	}
	return nil
}

func applyRunFlags(c *buildprobe.Config, cmd *cobra.Command, flags *RunFlags, args []string) {
	set := cmd.Flags().Changed
	if set("server") {
		c.Probe.Server = flags.Server
	}
	if set("path") {
		c.Probe.Path = flags.Path
	}
	if set("ca-cert") {
		c.Probe.CACert = flags.CACert
	}
	if set("client-cert") {
		c.Probe.ClientCert = flags.ClientCert
	}
	if set("client-key") {
		c.Probe.ClientKey = flags.ClientKey
	}
	if set("insecure") {
		c.Probe.Insecure = flags.Insecure
	}
	if set("bootstrap") {
		c.Build.Bootstrap = flags.Bootstrap
	}
	if set("workdir") {
		c.Build.WorkDir = flags.WorkDir
	}
	if set("log-dir") {
		c.Build.LogDir = flags.LogDir
	}
	if set("exit-timeout") {
		c.Probe.ExitTimeout = flags.ExitTimeout
	}
	if len(args) > 0 {
		c.Build.Command = args
	}
}
