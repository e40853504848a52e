package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loykin/buildprobe/internal/history"
	"github.com/loykin/buildprobe/internal/session"
)

func testEvent() history.Event {
	var ev session.Events
	ev.Set("start", 10)
	ev.Set("pre-init", 11)
	ev.Set("stop", 40)
	return history.Event{
		ReceivedAt: time.Now().UTC(),
		Remote:     "10.0.0.9",
		Report:     history.Record{Time: "2024-03-01T12:30:45.123Z", Events: ev},
	}
}

func TestOpenSearchSink_Send(t *testing.T) {
	var receivedBody []byte
	var receivedURL string
	var receivedMethod string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedURL = r.URL.Path
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"test","_index":"build-reports","result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL, "build-reports")
	if err := sink.Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if receivedMethod != http.MethodPost {
		t.Errorf("Expected POST method, got: %s", receivedMethod)
	}
	if receivedURL != "/build-reports/_doc" {
		t.Errorf("Expected URL path /build-reports/_doc, got: %s", receivedURL)
	}

	var doc struct {
		Remote  string  `json:"remote"`
		TotalMS float64 `json:"total_ms"`
		Report  struct {
			Time   string             `json:"time"`
			Events map[string]float64 `json:"events"`
		} `json:"report"`
	}
	if err := json.Unmarshal(receivedBody, &doc); err != nil {
		t.Fatalf("Failed to parse received JSON: %v", err)
	}
	if doc.Remote != "10.0.0.9" {
		t.Errorf("Expected remote 10.0.0.9, got: %q", doc.Remote)
	}
	if doc.TotalMS != 30 {
		t.Errorf("Expected total_ms 30, got: %v", doc.TotalMS)
	}
	if doc.Report.Events["pre-init"] != 11 {
		t.Errorf("Expected pre-init 11, got: %v", doc.Report.Events)
	}
	if !strings.Contains(string(receivedBody), `"events":{"start":10,"pre-init":11,"stop":40}`) {
		t.Errorf("Expected ordered events in body, got: %s", receivedBody)
	}
}

func TestOpenSearchSink_OmitsTotalForUnfinishedBuild(t *testing.T) {
	var receivedBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	e := testEvent()
	e.Report.Events.Set("stop", 0)
	if err := New(server.URL, "idx").Send(context.Background(), e); err != nil {
		t.Fatalf("send: %v", err)
	}
	if strings.Contains(string(receivedBody), "total_ms") {
		t.Errorf("total_ms should be omitted, got: %s", receivedBody)
	}
}

func TestOpenSearchSink_SendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer server.Close()

	err := New(server.URL, "build-reports").Send(context.Background(), testEvent())
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), "opensearch sink status 400") {
		t.Errorf("Expected status error message, got: %v", err)
	}
}

func TestOpenSearchSink_URLConstruction(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		index   string
	}{
		{"Basic URL", "http://localhost:9200", "logs"},
		{"URL with trailing slash", "http://localhost:9200/", "events"},
		{"HTTPS URL", "https://opensearch.example.com", "build-reports"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var receivedURL string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				receivedURL = r.URL.String()
				w.WriteHeader(http.StatusCreated)
			}))
			defer server.Close()

			sink := New(tt.baseURL, tt.index)
			if strings.HasSuffix(sink.baseURL, "/") {
				t.Errorf("trailing slash not trimmed: %s", sink.baseURL)
			}
			sink.baseURL = server.URL
			_ = sink.Send(context.Background(), testEvent())

			if want := "/" + tt.index + "/_doc"; receivedURL != want {
				t.Errorf("Expected URL path %s, got: %s", want, receivedURL)
			}
		})
	}
}
