package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/buildprobe/internal/env"
)

// BuildEnv merges the environment for build commands: the probe's own
// environment, then env_files in order, then the env list. Later sources
// override earlier ones and ${VAR} references are expanded.
func (c *Config) BuildEnv() ([]string, error) {
	e := env.New()
	e.FromOS()
	for _, p := range c.Build.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for _, kv := range pairs {
			e.Set(kv[0], kv[1])
		}
	}
	return e.Merge(c.Build.Env), nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) ([][2]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out [][2]string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			out = append(out, [2]string{strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:])})
		}
	}
	return out, nil
}
