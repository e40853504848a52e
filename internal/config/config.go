package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/buildprobe/internal/logger"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g. BUILDPROBE_PROBE_SERVER.
const EnvPrefix = "BUILDPROBE"

// Config represents the top-level TOML structure.
type Config struct {
	Probe     ProbeConfig     `toml:"probe" mapstructure:"probe"`
	Log       LogConfig       `toml:"log" mapstructure:"log"`
	Metrics   MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	Build     BuildConfig     `toml:"build" mapstructure:"build"`
	Collector CollectorConfig `toml:"collector" mapstructure:"collector"`
}

// ProbeConfig locates the remote collector and bounds delivery.
type ProbeConfig struct {
	Server      string        `toml:"server" mapstructure:"server"`
	Path        string        `toml:"path" mapstructure:"path"`
	Timeout     time.Duration `toml:"timeout" mapstructure:"timeout"`
	ExitTimeout time.Duration `toml:"exit_timeout" mapstructure:"exit_timeout"`
	CACert      string        `toml:"ca_cert" mapstructure:"ca_cert"`
	ClientCert  string        `toml:"client_cert" mapstructure:"client_cert"`
	ClientKey   string        `toml:"client_key" mapstructure:"client_key"`
	ServerName  string        `toml:"server_name" mapstructure:"server_name"`
	Insecure    bool          `toml:"insecure" mapstructure:"insecure"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	Timestamps bool   `toml:"timestamps" mapstructure:"timestamps"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type MetricsConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"`
}

// BuildConfig describes the host build driven by `buildprobe run`.
type BuildConfig struct {
	Bootstrap string   `toml:"bootstrap" mapstructure:"bootstrap"`
	Command   []string `toml:"command" mapstructure:"command"`
	WorkDir   string   `toml:"workdir" mapstructure:"workdir"`
	LogDir    string   `toml:"log_dir" mapstructure:"log_dir"`
	Env       []string `toml:"env" mapstructure:"env"`
	EnvFiles  []string `toml:"env_files" mapstructure:"env_files"`
}

// CollectorConfig configures the reference collector server.
type CollectorConfig struct {
	Listen        string     `toml:"listen" mapstructure:"listen"`
	Path          string     `toml:"path" mapstructure:"path"`
	HistoryDSN    string     `toml:"history_dsn" mapstructure:"history_dsn"`
	TLS           *TLSConfig `toml:"tls" mapstructure:"tls"`
	TLSMinVersion string     `toml:"tls_min_version" mapstructure:"tls_min_version"`
	TLSMaxVersion string     `toml:"tls_max_version" mapstructure:"tls_max_version"`
}

type TLSConfig struct {
	Enabled      bool        `toml:"enabled" mapstructure:"enabled"`
	CertFile     string      `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string      `toml:"key_file" mapstructure:"key_file"`
	Dir          string      `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool        `toml:"auto_generate" mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `toml:"auto_gen" mapstructure:"auto_gen"`
}

type AutoGenTLS struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

var defaults = map[string]any{
	"probe.server":          "",
	"probe.path":            "",
	"probe.timeout":         "30s",
	"probe.exit_timeout":    "5s",
	"probe.ca_cert":         "",
	"probe.client_cert":     "",
	"probe.client_key":      "",
	"probe.server_name":     "",
	"probe.insecure":        false,
	"log.level":             logger.LevelInfo,
	"log.format":            logger.FormatText,
	"log.color":             false,
	"log.timestamps":        true,
	"log.file":              "",
	"log.max_size_mb":       logger.DefaultMaxSizeMB,
	"log.max_backups":       logger.DefaultMaxBackups,
	"log.max_age_days":      logger.DefaultMaxAgeDays,
	"log.compress":          false,
	"metrics.listen":        "",
	"build.bootstrap":       "",
	"build.workdir":         "",
	"build.log_dir":         "",
	"collector.listen":      ":8443",
	"collector.path":        "/bench",
	"collector.history_dsn": "",
}

// Load reads path (TOML) on top of defaults and BUILDPROBE_* environment
// overrides. An empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(filepath.Clean(path))
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &c, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ErrMissingEndpoint is returned by ValidateProbe when server or path is unset.
var ErrMissingEndpoint = errors.New("probe.server and probe.path are required")

// ValidateProbe checks the collector endpoint is configured.
func (c *Config) ValidateProbe() error {
	var missing []string
	if strings.TrimSpace(c.Probe.Server) == "" {
		missing = append(missing, "probe.server")
	}
	if strings.TrimSpace(c.Probe.Path) == "" {
		missing = append(missing, "probe.path")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w (missing %s)", ErrMissingEndpoint, strings.Join(missing, ", "))
	}
	if !strings.HasPrefix(c.Probe.Path, "/") {
		return fmt.Errorf("probe.path must start with '/': %q", c.Probe.Path)
	}
	return nil
}

// Endpoint returns the URL reports are posted to.
func (c *Config) Endpoint() string {
	return "https://" + c.Probe.Server + c.Probe.Path
}

// Logger converts the log section into a logger.Config. Build command
// output goes under Build.LogDir with the same rotation settings.
func (c *Config) Logger() logger.Config {
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      c.Log.Level,
			Format:     c.Log.Format,
			Color:      c.Log.Color,
			TimeStamps: c.Log.Timestamps,
			Path:       c.Log.File,
		},
		File: logger.FileConfig{
			Dir:        c.Build.LogDir,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}
