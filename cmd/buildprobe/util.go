package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loykin/buildprobe"
)

// loadConfig reads --config and applies --log-level. The resulting logger
// becomes slog's default.
func loadConfig(flags *GlobalFlags) (*buildprobe.Config, *slog.Logger, error) {
	c, err := buildprobe.LoadConfig(flags.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading config: %w", err)
	}
	if flags.LogLevel != "" {
		c.Log.Level = flags.LogLevel
	}
	log := c.Logger().NewSlogger()
	slog.SetDefault(log)
	return c, log, nil
}

// serveMetrics registers the default collectors and serves them on listen
// in the background. An empty listen only registers.
func serveMetrics(ctx context.Context, listen string, log *slog.Logger) {
	if err := buildprobe.RegisterMetricsDefault(); err != nil {
		log.Warn("failed to register metrics", "error", err)
		return
	}
	if listen == "" {
		return
	}
	go func() {
		if err := buildprobe.ServeMetrics(ctx, listen); err != nil {
			log.Error("metrics server error", "listen", listen, "error", err)
		}
	}()
}
