package capability

import (
	"context"
	"strings"
)

// SchemaSource retrieves the raw OpenAPI description of a backend endpoint.
type SchemaSource interface {
	FetchSchema(ctx context.Context, endpointID string) ([]byte, error)
}

// Fetcher produces a capability record for a backend endpoint.
type Fetcher interface {
	Fetch(ctx context.Context, endpointID string) (Capability, error)
}

// SchemaFetcher turns interface descriptions into capability records.
type SchemaFetcher struct {
	source       SchemaSource
	queueBaseURL string
}

// NewSchemaFetcher builds a fetcher whose submit endpoints live under queueBaseURL.
func NewSchemaFetcher(source SchemaSource, queueBaseURL string) *SchemaFetcher {
	return &SchemaFetcher{source: source, queueBaseURL: strings.TrimRight(queueBaseURL, "/")}
}

// Fetch downloads and parses the description of endpointID.
func (f *SchemaFetcher) Fetch(ctx context.Context, endpointID string) (Capability, error) {
	endpointID = strings.Trim(strings.TrimSpace(endpointID), "/")
	raw, err := f.source.FetchSchema(ctx, endpointID)
	if err != nil {
		return Capability{}, &SchemaFetchError{Endpoint: endpointID, Err: err}
	}
	out, err := ParseSchema(raw, endpointID)
	if err != nil {
		return Capability{}, err
	}
	out.SubmitEndpoint = f.queueBaseURL + "/" + endpointID
	return out, nil
}
