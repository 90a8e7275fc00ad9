package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNoopRecorderImplementsRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.EventEmitted("src", "file")
	r.EventDispatched("file", 2)
	r.EventDropped("file")
	r.HandlerFailure("file", "timeout")
	r.AdapterRestart("src")
}

func TestPrometheusRecorderExposesCounters(t *testing.T) {
	r := NewPrometheusRecorder()
	r.EventEmitted("watcher", "file")
	r.EventDispatched("file", 1)
	r.EventDropped("metric")
	r.HandlerFailure("file", "error")
	r.AdapterRestart("watcher")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"goingest_events_emitted_total",
		"goingest_events_dispatched_total",
		"goingest_events_dropped_total",
		"goingest_handler_failures_total",
		"goingest_adapter_restarts_total",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}
