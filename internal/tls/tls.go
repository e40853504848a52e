package tls

import (
	"cmp"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/buildprobe/internal/config"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

var tlsVersions = map[string]uint16{
	"1.2": tls.VersionTLS12, "TLS1.2": tls.VersionTLS12, "tls1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13, "TLS1.3": tls.VersionTLS13, "tls1.3": tls.VersionTLS13,
}

func parseTLSVersion(ver string) (uint16, bool) {
	v, ok := tlsVersions[ver]
	return v, ok
}

// SetupTLS builds the collector's server TLS config. It returns nil when
// TLS is disabled. CertFile/KeyFile take precedence over Dir; in Dir the
// certificate is generated first when AutoGenerate is set and none exists.
func SetupTLS(c config.CollectorConfig) (*tls.Config, error) {
	if c.TLS == nil || !c.TLS.Enabled {
		return nil, nil
	}

	minVer, maxVer := uint16(tls.VersionTLS12), uint16(tls.VersionTLS13)
	if v, ok := parseTLSVersion(c.TLSMinVersion); ok {
		minVer = v
	}
	if v, ok := parseTLSVersion(c.TLSMaxVersion); ok {
		maxVer = v
	}
	if minVer > maxVer {
		return nil, fmt.Errorf("tls_min_version %q is above tls_max_version %q", c.TLSMinVersion, c.TLSMaxVersion)
	}

	certPath, keyPath := c.TLS.CertFile, c.TLS.KeyFile
	switch {
	case certPath != "" && keyPath != "":
	case c.TLS.Dir != "":
		certPath = filepath.Join(c.TLS.Dir, tlsCrt)
		keyPath = filepath.Join(c.TLS.Dir, tlsKey)
		if _, err := os.Stat(certPath); err != nil && c.TLS.AutoGenerate {
			if err := generateCertificate(c.TLS); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	default:
		return nil, errors.New("TLS enabled but no valid certificate configuration found")
	}

	cert, err := tls.LoadX509KeyPair(filepath.Clean(certPath), filepath.Clean(keyPath))
	if err != nil {
		return nil, fmt.Errorf("load collector certificate: %w", err)
	}
	// #nosec G402 minimum is TLS 1.2
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVer,
		MaxVersion:   maxVer,
	}, nil
}

// CACertPath returns where auto-generated certificates in dir write the
// certificate clients should trust.
func CACertPath(dir string) string { return filepath.Join(dir, tlsCaCrt) }

func generateCertificate(c *config.TLSConfig) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	autoGen := c.AutoGen
	if autoGen == nil {
		autoGen = &config.AutoGenTLS{}
	}
	dnsNames := autoGen.DNSNames
	if len(dnsNames) == 0 {
		dnsNames = []string{"localhost"}
	}
	ips := autoGen.IPAddresses
	if len(ips) == 0 {
		ips = []string{"127.0.0.1"}
	}
	validDays := autoGen.ValidDays
	if validDays <= 0 {
		validDays = 365 * 5
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   cmp.Or(autoGen.CommonName, "localhost"),
		Organization: cmp.Or(autoGen.Organization, "buildprobe"),
		DNSNames:     dnsNames,
		IPAddresses:  ips,
		NotAfter:     time.Now().AddDate(0, 0, validDays),
		CertPath:     filepath.Join(c.Dir, tlsCrt),
		KeyPath:      filepath.Join(c.Dir, tlsKey),
		CACertPath:   CACertPath(c.Dir),
	})
}
