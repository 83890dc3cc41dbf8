package fal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/open_image_gateway/internal/fixtures"
	"github.com/ncecere/open_image_gateway/internal/models"
)

func newTestAdapter(t *testing.T, handler http.Handler) (*Adapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	adapter := New(Options{QueueBaseURL: srv.URL, SchemaURL: srv.URL + "/openapi.json"})
	t.Cleanup(func() { _ = adapter.Close() })
	return adapter, srv
}

func TestFetchSchemaSendsEndpointQuery(t *testing.T) {
	schema := fixtures.MustRead(t, "flux_dev_openapi.json")
	adapter, _ := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/openapi.json", r.URL.Path)
		require.Equal(t, "fal-ai/flux/dev", r.URL.Query().Get("endpoint_id"))
		require.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write(schema)
	}))

	raw, err := adapter.FetchSchema(context.Background(), "fal-ai/flux/dev")
	require.NoError(t, err)
	require.JSONEq(t, string(schema), string(raw))
}

func TestFetchSchemaRejectsErrorStatus(t *testing.T) {
	adapter, _ := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))

	_, err := adapter.FetchSchema(context.Background(), "fal-ai/missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}

func TestSubmitForwardsPayloadAndCredential(t *testing.T) {
	var received map[string]any
	adapter, srv := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/fal-ai/flux/dev", r.URL.Path)
		require.Equal(t, "Key upstream-secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"request_id":"req-1"}`))
	}))

	handle, err := adapter.Submit(context.Background(), srv.URL+"/fal-ai/flux/dev", "upstream-secret", map[string]any{
		"prompt":     "a lighthouse",
		"num_images": 2,
	})
	require.NoError(t, err)
	require.Equal(t, "a lighthouse", received["prompt"])
	require.EqualValues(t, 2, received["num_images"])

	require.Equal(t, "req-1", handle.RequestID)
	require.Equal(t, srv.URL+"/fal-ai/flux/requests/req-1/status", handle.StatusURL)
	require.Equal(t, srv.URL+"/fal-ai/flux/requests/req-1", handle.ResponseURL)
	require.Equal(t, srv.URL+"/fal-ai/flux/requests/req-1/cancel", handle.CancelURL)
}

func TestSubmitKeepsBackendURLs(t *testing.T) {
	adapter, srv := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status_url":"https://q/x/requests/9/status"}`))
	}))

	handle, err := adapter.Submit(context.Background(), srv.URL+"/x/y", "k", map[string]any{"prompt": "p"})
	require.NoError(t, err)
	require.Equal(t, "https://q/x/requests/9/status", handle.StatusURL)
	require.Equal(t, "https://q/x/requests/9", handle.ResponseURL)
}

func TestSubmitErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   models.ErrorKind
		substr string
	}{
		{name: "validation rejected", status: http.StatusUnprocessableEntity, body: `{"detail":"prompt too long"}`, kind: models.KindUpstreamSubmission, substr: "prompt too long"},
		{name: "missing handle", status: http.StatusOK, body: `{"queue_position":3}`, kind: models.KindUpstreamProtocol, substr: "request_id"},
		{name: "not json", status: http.StatusOK, body: `<html></html>`, kind: models.KindUpstreamProtocol, substr: "not valid JSON"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			adapter, srv := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			_, err := adapter.Submit(context.Background(), srv.URL+"/fal-ai/flux/dev", "k", map[string]any{"prompt": "p"})
			require.Error(t, err)
			require.True(t, models.IsKind(err, tt.kind), "unexpected kind for %v", err)
			require.Contains(t, err.Error(), tt.substr)
		})
	}
}

func TestStatusAndResult(t *testing.T) {
	result := fixtures.MustRead(t, "result_images.json")
	mux := http.NewServeMux()
	mux.HandleFunc("/fal-ai/flux/requests/req-1/status", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Key k", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"status":"COMPLETED"}`))
	})
	mux.HandleFunc("/fal-ai/flux/requests/req-1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(result)
	})
	mux.HandleFunc("/fal-ai/flux/requests/req-2", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":[{"msg":"NSFW content detected"}]}`))
	})
	adapter, srv := newTestAdapter(t, mux)

	handle := models.JobHandle{
		RequestID:   "req-1",
		StatusURL:   srv.URL + "/fal-ai/flux/requests/req-1/status",
		ResponseURL: srv.URL + "/fal-ai/flux/requests/req-1",
	}
	status, err := adapter.Status(context.Background(), handle, "k")
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, status)

	out, err := adapter.Result(context.Background(), handle, "k")
	require.NoError(t, err)
	require.Len(t, out.URLs, 2)
	require.NotNil(t, out.Seed)
	require.EqualValues(t, 42, *out.Seed)

	failed := models.JobHandle{ResponseURL: srv.URL + "/fal-ai/flux/requests/req-2"}
	out, err = adapter.Result(context.Background(), failed, "k")
	require.Error(t, err)
	require.Equal(t, "NSFW content detected", out.Reason)
}

func TestCancelUsesPut(t *testing.T) {
	var method string
	adapter, srv := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		require.True(t, strings.HasSuffix(r.URL.Path, "/cancel"))
		w.WriteHeader(http.StatusAccepted)
	}))

	err := adapter.Cancel(context.Background(), models.JobHandle{CancelURL: srv.URL + "/a/b/requests/1/cancel"}, "k")
	require.NoError(t, err)
	require.Equal(t, http.MethodPut, method)
	require.NoError(t, adapter.Cancel(context.Background(), models.JobHandle{}, "k"))
}
