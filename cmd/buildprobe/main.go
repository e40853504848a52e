package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		var ec exitCodeError
		if errors.As(err, &ec) {
			os.Exit(ec.code)
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all subcommands
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
}

// buildRoot creates the root command with all subcommands attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags, &RunFlags{}),
		createCollectCommand(globalFlags, &CollectFlags{}),
		createVersionCommand(),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "buildprobe",
		Short: "Build lifecycle timing probe",
		Long: `buildprobe records how long each phase of a build takes and posts the
timings once, as a single JSON report, to a benchmark collector over HTTPS.

Examples:
  buildprobe run --server bench.example.com --path /b -- npm run build
  buildprobe run --config buildprobe.toml
  buildprobe collect --listen :8443 --tls-dir ./certs --history sqlite:///var/lib/buildprobe/reports.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "override [log].level (debug, info, warn, error)")

	return root
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the buildprobe version",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "buildprobe "+version)
		},
	}
}

// exitCodeError carries the build's exit status out of cobra.
type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string { return fmt.Sprintf("build exited with status %d", e.code) }
