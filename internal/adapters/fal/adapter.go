// Package fal talks to the fal.ai queue API: schema discovery, job
// submission, status polling and result retrieval.
package fal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/ncecere/open_image_gateway/internal/catalog"
	"github.com/ncecere/open_image_gateway/internal/models"
)

const (
	defaultQueueBaseURL = "https://queue.fal.run"
	defaultSchemaURL    = "https://fal.ai/api/openapi/queue/openapi.json"
	defaultScheme       = "Key"
	maxErrorBody        = 2048
)

// Options configure the fal adapter.
type Options struct {
	QueueBaseURL     string
	SchemaURL        string
	CredentialScheme string
	Timeout          time.Duration
	UserAgent        string
}

// Adapter implements the schema source and queue client against fal.
type Adapter struct {
	client       *resty.Client
	queueBaseURL string
	schemaURL    string
	scheme       string
}

// New creates a fal adapter.
func New(opts Options) *Adapter {
	base := strings.TrimRight(strings.TrimSpace(opts.QueueBaseURL), "/")
	if base == "" {
		base = defaultQueueBaseURL
	}
	schemaURL := strings.TrimSpace(opts.SchemaURL)
	if schemaURL == "" {
		schemaURL = defaultSchemaURL
	}
	scheme := strings.TrimSpace(opts.CredentialScheme)
	if scheme == "" {
		scheme = defaultScheme
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "open-image-gateway"
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json")

	return &Adapter{
		client:       client,
		queueBaseURL: base,
		schemaURL:    schemaURL,
		scheme:       scheme,
	}
}

// Close releases idle connections held by the client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// QueueBaseURL reports the base URL submit endpoints live under.
func (a *Adapter) QueueBaseURL() string { return a.queueBaseURL }

// FetchSchema downloads the OpenAPI description of an endpoint. The request
// carries no credential.
func (a *Adapter) FetchSchema(ctx context.Context, endpointID string) ([]byte, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParam("endpoint_id", endpointID).
		Get(a.schemaURL)
	if err != nil {
		return nil, fmt.Errorf("fal schema request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fal schema request returned status %d: %s", resp.StatusCode(), truncate(resp.Bytes()))
	}
	return resp.Bytes(), nil
}

// Submit enqueues a job at submitURL and returns its handle.
func (a *Adapter) Submit(ctx context.Context, submitURL, credential string, payload map[string]any) (models.JobHandle, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Authorization", a.authorization(credential)).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(submitURL)
	if err != nil {
		return models.JobHandle{}, models.WrapError(models.KindUpstreamSubmission, err, "fal submission failed")
	}
	body := resp.Bytes()
	if resp.IsError() {
		return models.JobHandle{}, models.NewError(models.KindUpstreamSubmission,
			"fal submission failed with status %d: %s", resp.StatusCode(), truncate(body))
	}

	var submitted submitResponse
	if err := json.Unmarshal(body, &submitted); err != nil {
		return models.JobHandle{}, models.WrapError(models.KindUpstreamProtocol, err, "fal submission response is not valid JSON")
	}
	return a.handleFor(submitURL, submitted)
}

// Status returns the backend status string of a job.
func (a *Adapter) Status(ctx context.Context, handle models.JobHandle, credential string) (string, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Authorization", a.authorization(credential)).
		Get(handle.StatusURL)
	if err != nil {
		return "", fmt.Errorf("fal status request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("fal status request returned status %d: %s", resp.StatusCode(), truncate(resp.Bytes()))
	}
	var status statusResponse
	if err := json.Unmarshal(resp.Bytes(), &status); err != nil {
		return "", fmt.Errorf("decode fal status: %w", err)
	}
	return status.Status, nil
}

// Result fetches the result body of a job. Failed jobs answer with an error
// status; their reason is still extracted into the returned output.
func (a *Adapter) Result(ctx context.Context, handle models.JobHandle, credential string) (models.JobOutput, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Authorization", a.authorization(credential)).
		Get(handle.ResponseURL)
	if err != nil {
		return models.JobOutput{}, fmt.Errorf("fal result request: %w", err)
	}
	body := resp.Bytes()
	if resp.IsError() {
		out := models.JobOutput{Reason: FailureReason(body)}
		return out, fmt.Errorf("fal result request returned status %d: %s", resp.StatusCode(), truncate(body))
	}
	out := ExtractOutput(body)
	out.Reason = FailureReason(body)
	return out, nil
}

// Cancel asks the backend to drop a queued job.
func (a *Adapter) Cancel(ctx context.Context, handle models.JobHandle, credential string) error {
	if handle.CancelURL == "" {
		return nil
	}
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Authorization", a.authorization(credential)).
		Put(handle.CancelURL)
	if err != nil {
		return fmt.Errorf("fal cancel request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("fal cancel request returned status %d: %s", resp.StatusCode(), truncate(resp.Bytes()))
	}
	return nil
}

func (a *Adapter) authorization(credential string) string {
	return a.scheme + " " + credential
}

// handleFor fills in queue URLs the backend omitted. Requests are addressed
// under the app id, the first two segments of the endpoint.
func (a *Adapter) handleFor(submitURL string, submitted submitResponse) (models.JobHandle, error) {
	handle := models.JobHandle{
		RequestID:   strings.TrimSpace(submitted.RequestID),
		StatusURL:   strings.TrimSpace(submitted.StatusURL),
		ResponseURL: strings.TrimSpace(submitted.ResponseURL),
		CancelURL:   strings.TrimSpace(submitted.CancelURL),
	}
	if handle.RequestID == "" && handle.StatusURL == "" {
		return models.JobHandle{}, models.NewError(models.KindUpstreamProtocol, "fal submission response has no request_id or status_url")
	}

	if handle.RequestID != "" {
		requestBase := a.requestBase(submitURL, handle.RequestID)
		if handle.StatusURL == "" {
			handle.StatusURL = requestBase + "/status"
		}
		if handle.ResponseURL == "" {
			handle.ResponseURL = requestBase
		}
		if handle.CancelURL == "" {
			handle.CancelURL = requestBase + "/cancel"
		}
	}
	if handle.ResponseURL == "" {
		handle.ResponseURL = strings.TrimSuffix(handle.StatusURL, "/status")
	}
	return handle, nil
}

func (a *Adapter) requestBase(submitURL, requestID string) string {
	endpoint := strings.TrimPrefix(submitURL, a.queueBaseURL)
	return a.queueBaseURL + "/" + catalog.AppID(endpoint) + "/requests/" + requestID
}

func truncate(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		return text[:maxErrorBody] + "..."
	}
	return text
}
