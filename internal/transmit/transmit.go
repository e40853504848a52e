package transmit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/buildprobe/internal/session"
)

// DefaultTimeout is the probe.timeout default applied by the config layer.
const DefaultTimeout = 30 * time.Second

// Config holds transmitter configuration
type Config struct {
	Server  string        // host[:port] of the collector
	Path    string        // request path, e.g. /bench
	Timeout time.Duration // 0 or negative disables
	Logger  *slog.Logger  // Optional logger
	TLS     *TLSConfig
	// Client replaces the HTTP client built from TLS and Timeout.
	Client *http.Client
}

// Transmitter posts one report to https://{server}{path}.
type Transmitter struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// New creates a Transmitter. Server and Path are not validated here; a
// missing value surfaces as a failed send.
func New(config Config) (*Transmitter, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	client := config.Client
	if client == nil {
		timeout := max(config.Timeout, 0)
		transport := http.DefaultTransport.(*http.Transport).Clone()
		tlsConfig, err := setupClientTLS(config.TLS)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
		client = &http.Client{Timeout: timeout, Transport: transport}
	}
	return &Transmitter{
		url:    "https://" + config.Server + config.Path,
		client: client,
		logger: config.Logger,
	}, nil
}

// URL returns the endpoint reports are posted to.
func (t *Transmitter) URL() string { return t.url }

// Send posts r and reads the whole response.
//
// A complete response of any status returns nil. A response cut short
// returns session.ErrTruncated. Failures before a response arrives return
// *session.TransportError; failures building the request return
// *session.RequestError.
func (t *Transmitter) Send(ctx context.Context, r session.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return &session.RequestError{Err: fmt.Errorf("marshal report: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(data))
	if err != nil {
		return &session.RequestError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	// net/http derives the Content-Length header from this field.
	req.ContentLength = int64(len(data))

	resp, err := t.client.Do(req)
	if err != nil {
		terr := &session.TransportError{Err: err}
		t.logger.Error(terr.Error(), "url", t.url)
		return terr
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.logger.Error(session.ErrTruncated.Error(), "url", t.url, "error", err, "received", len(body))
		return fmt.Errorf("%w: %v", session.ErrTruncated, err)
	}

	t.logger.Info("Benchmark data sent! Server response: "+string(body), "status", resp.StatusCode)
	return nil
}
