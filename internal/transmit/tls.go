package transmit

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSConfig holds TLS settings for the collector connection.
type TLSConfig struct {
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config *TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if config == nil {
		return tlsConfig, nil
	}

	if config.SkipVerify {
		// #nosec G402 -- opt-in for self-signed collectors
		tlsConfig.InsecureSkipVerify = true
	}

	if config.ServerName != "" {
		tlsConfig.ServerName = config.ServerName
	}

	if config.CACert != "" {
		if err := loadCACert(tlsConfig, config.CACert); err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
	}

	if (config.ClientCert == "") != (config.ClientKey == "") {
		return nil, fmt.Errorf("client certificate and key must be set together")
	}
	if config.ClientCert != "" {
		cert, err := tls.LoadX509KeyPair(config.ClientCert, config.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}
