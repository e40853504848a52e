package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/buildprobe/internal/history"
)

// Sink indexes build reports into OpenSearch (or Elasticsearch) over HTTP.
// Each report is POSTed as one document to baseURL + "/" + index + "/_doc".
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

func New(baseURL, index string) *Sink {
	c := &http.Client{Timeout: 5 * time.Second}
	return &Sink{client: c, baseURL: strings.TrimRight(baseURL, "/"), index: index}
}

// document flattens the total next to the event so it can be aggregated
// without scripting.
type document struct {
	history.Event
	TotalMS *float64 `json:"total_ms,omitempty"`
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	doc := document{Event: e}
	if v, ok := e.Report.Total(); ok {
		doc.TotalMS = &v
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode opensearch document: %w", err)
	}

	u := fmt.Sprintf("%s/%s/_doc", s.baseURL, s.index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("opensearch sink status %d", resp.StatusCode)
	}
	return nil
}
