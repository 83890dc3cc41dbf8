package observability

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/jobs"
)

func TestSetupDisabled(t *testing.T) {
	provider, err := Setup(context.Background(), config.ObservabilityConfig{})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if provider != nil {
		t.Fatalf("expected nil provider when everything is off")
	}
	// Nil providers are safe to use.
	provider.ObserveJobSubmitted("flux")
	provider.ObserveCapabilityFetch("flux", "ok")
	provider.RecordImages("flux", 2)
	if provider.PrometheusHandler() != nil || provider.Tracer() != nil {
		t.Fatalf("nil provider must expose nothing")
	}
}

func TestMetricsRecorded(t *testing.T) {
	provider, err := Setup(context.Background(), config.ObservabilityConfig{EnableMetrics: true})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer provider.Shutdown(context.Background())

	provider.ObserveJobSubmitted("flux")
	provider.ObserveJobFinished("flux", jobs.StateCompleted, 3, 4*time.Second)
	provider.ObserveJobFinished("flux", jobs.StateTimedOut, 45, 90*time.Second)
	provider.ObserveCapabilityFetch("flux", "stale")
	provider.RecordImages("flux", 2)
	provider.ObserveMirror("stored")
	provider.RecordHTTPRequest(context.Background(), "POST", "/v1/images/generations", 200, time.Second)

	if got := testutil.ToFloat64(provider.jobsSubmitted.WithLabelValues("flux")); got != 1 {
		t.Fatalf("jobs submitted = %v", got)
	}
	if got := testutil.ToFloat64(provider.jobsFinished.WithLabelValues("flux", "timed_out")); got != 1 {
		t.Fatalf("timed out jobs = %v", got)
	}
	if got := testutil.ToFloat64(provider.capabilityFetches.WithLabelValues("flux", "stale")); got != 1 {
		t.Fatalf("stale fetches = %v", got)
	}
	if got := testutil.ToFloat64(provider.imagesGenerated.WithLabelValues("flux")); got != 2 {
		t.Fatalf("images = %v", got)
	}

	rec := httptest.NewRecorder()
	provider.PrometheusHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "open_image_gateway_jobs_finished_total") {
		t.Fatalf("metrics output missing job counter:\n%s", body)
	}
}

func TestOTLPEndpoint(t *testing.T) {
	tests := map[string]string{
		"":                       "localhost:4317",
		"http://collector:4317":  "collector:4317",
		"https://collector:4317": "collector:4317",
		"collector:4317":         "collector:4317",
	}
	for raw, want := range tests {
		got, opts := otlpEndpoint(raw)
		if got != want {
			t.Fatalf("otlpEndpoint(%q) = %q, want %q", raw, got, want)
		}
		if strings.HasPrefix(raw, "https://") && len(opts) != 0 {
			t.Fatalf("https endpoint must not be insecure")
		}
	}
}
