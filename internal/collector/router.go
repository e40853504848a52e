package collector

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/buildprobe/internal/history"
	"github.com/loykin/buildprobe/internal/metrics"
	"github.com/loykin/buildprobe/internal/session"
)

// DefaultMaxBodyBytes bounds a single report body.
const DefaultMaxBodyBytes = 1 << 20

// Config configures the collector Router.
type Config struct {
	// Path reports are posted to, e.g. "/bench".
	Path string
	// Sink archives received reports. Nil keeps nothing.
	Sink history.Sink
	// Metrics exposes GET /metrics when set.
	Metrics bool
	// MaxBodyBytes defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64
	Logger       *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Router provides embeddable HTTP handlers for receiving build reports.
// Endpoints:
//
//	POST {path}    body: {"time": "...", "sessionId": "<events JSON>"}
//	GET  /healthz
//	GET  /metrics  (when Config.Metrics is set)
type Router struct {
	path    string
	sink    history.Sink
	metrics bool
	limit   int64
	log     *slog.Logger
	now     func() time.Time
}

// NewRouter constructs a Router from cfg.
func NewRouter(cfg Config) *Router {
	r := &Router{
		path:    sanitizePath(cfg.Path),
		sink:    cfg.Sink,
		metrics: cfg.Metrics,
		limit:   cfg.MaxBodyBytes,
		log:     cfg.Logger,
		now:     cfg.Now,
	}
	if r.limit <= 0 {
		r.limit = DefaultMaxBodyBytes
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Path returns the normalized report path.
func (r *Router) Path() string { return r.path }

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	r.Register(g)
	return g
}

// Register adds the collector routes to an existing gin router.
func (r *Router) Register(g gin.IRoutes) {
	g.POST(r.path, r.handleReport)
	g.GET("/healthz", r.handleHealth)
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
}

type errorResp struct {
	Error string `json:"error"`
}

func (r *Router) handleReport(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, r.limit)

	var report session.Report
	if err := c.ShouldBindJSON(&report); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			r.reject(c, http.StatusRequestEntityTooLarge, "report body too large")
			return
		}
		if errors.Is(err, io.EOF) {
			r.reject(c, http.StatusBadRequest, "empty body")
			return
		}
		r.reject(c, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if report.Time == "" {
		r.reject(c, http.StatusBadRequest, "time required")
		return
	}

	ev, err := history.NewEvent(report, c.ClientIP(), r.now())
	if err != nil {
		r.reject(c, http.StatusBadRequest, "invalid sessionId: "+err.Error())
		return
	}

	if r.sink != nil {
		if err := r.sink.Send(c.Request.Context(), ev); err != nil {
			r.log.Error("archive report failed", "remote", ev.Remote, "error", err)
			metrics.IncCollectorReport(metrics.ResultStoreErr)
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: "archive failed"})
			return
		}
	}

	attrs := []any{"remote", ev.Remote, "time", ev.Report.Time, "checkpoints", ev.Report.Events.Len()}
	if total, ok := ev.Report.Total(); ok {
		attrs = append(attrs, "total_ms", total)
	}
	r.log.Info("report received", attrs...)
	metrics.IncCollectorReport(metrics.ResultOK)
	c.String(http.StatusOK, "OK")
}

func (r *Router) reject(c *gin.Context, code int, msg string) {
	r.log.Warn("report rejected", "remote", c.ClientIP(), "status", code, "reason", msg)
	metrics.IncCollectorReport(metrics.ResultInvalid)
	writeJSON(c, code, errorResp{Error: msg})
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, map[string]bool{"ok": true})
}
