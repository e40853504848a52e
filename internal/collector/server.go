package collector

import (
	"context"
	cryptotls "crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/loykin/buildprobe/internal/config"
	"github.com/loykin/buildprobe/internal/history"
	"github.com/loykin/buildprobe/internal/tls"
)

// Server is a standalone collector listening on its own address.
type Server struct {
	http   *http.Server
	tlsCfg *cryptotls.Config
	log    *slog.Logger
	router *Router
}

// NewServer builds a collector for c. TLS is set up from c.TLS; when it is
// disabled the collector serves plain HTTP.
func NewServer(c config.CollectorConfig, sink history.Sink, withMetrics bool, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	tlsCfg, err := tls.SetupTLS(c)
	if err != nil {
		return nil, err
	}
	r := NewRouter(Config{Path: c.Path, Sink: sink, Metrics: withMetrics, Logger: log})
	return &Server{
		http: &http.Server{
			Addr:              c.Listen,
			Handler:           r.Handler(),
			TLSConfig:         tlsCfg,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		tlsCfg: tlsCfg,
		log:    log,
		router: r,
	}, nil
}

// TLS reports whether the server terminates TLS.
func (s *Server) TLS() bool { return s.tlsCfg != nil }

// Path returns the path reports are accepted on.
func (s *Server) Path() string { return s.router.Path() }

// ListenAndServe listens on the configured address and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l. It returns nil after a graceful Shutdown.
func (s *Server) Serve(l net.Listener) error {
	if s.tlsCfg != nil {
		l = cryptotls.NewListener(l, s.tlsCfg)
	}
	s.log.Info("collector listening", "addr", l.Addr().String(), "path", s.router.Path(), "tls", s.TLS())
	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting reports and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
