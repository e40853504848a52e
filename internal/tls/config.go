package tls

import (
	"fmt"
	"os"

	"github.com/loykin/buildprobe/internal/config"
)

// Builder assembles a collector TLS configuration.
type Builder struct {
	cfg *config.TLSConfig
}

// NewTLSBuilder returns a Builder with TLS enabled.
func NewTLSBuilder() *Builder {
	return &Builder{cfg: &config.TLSConfig{Enabled: true}}
}

// WithCertFiles sets certificate and key files
func (b *Builder) WithCertFiles(certFile, keyFile string) *Builder {
	b.cfg.CertFile = certFile
	b.cfg.KeyFile = keyFile
	return b
}

// WithDir sets the certificate directory
func (b *Builder) WithDir(dir string) *Builder {
	b.cfg.Dir = dir
	return b
}

// WithAutoGenerate enables self-signed certificate generation in Dir.
func (b *Builder) WithAutoGenerate(enable bool) *Builder {
	b.cfg.AutoGenerate = enable
	return b
}

func (b *Builder) WithAutoGenConfig(commonName string, dnsNames []string, validDays int) *Builder {
	if b.cfg.AutoGen == nil {
		b.cfg.AutoGen = &config.AutoGenTLS{}
	}
	b.cfg.AutoGen.CommonName = commonName
	b.cfg.AutoGen.DNSNames = dnsNames
	b.cfg.AutoGen.ValidDays = validDays
	return b
}

func (b *Builder) Build() *config.TLSConfig {
	return b.cfg
}

// Development returns a self-signed collector setup for localhost.
func Development(certDir string) *config.TLSConfig {
	return NewTLSBuilder().
		WithDir(certDir).
		WithAutoGenerate(true).
		WithAutoGenConfig("localhost", []string{"localhost"}, 365).
		Build()
}

// Testing returns a self-signed setup in a fresh temporary directory.
func Testing() (*config.TLSConfig, error) {
	tmpDir, err := os.MkdirTemp("", "buildprobe-tls-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary directory: %w", err)
	}
	return NewTLSBuilder().
		WithDir(tmpDir).
		WithAutoGenerate(true).
		WithAutoGenConfig("test", []string{"test", "localhost"}, 1).
		Build(), nil
}
