package capability

import (
	"fmt"
	"time"
)

// Capability records which sizing parameters a backend model accepts.
// Values are immutable once built by the schema parser.
type Capability struct {
	SubmitEndpoint       string `json:"submit_endpoint"`
	SupportsDiscreteSize bool   `json:"supports_discrete_size"`
	SupportsAspectRatio  bool   `json:"supports_aspect_ratio"`
	UsesSizeObject       bool   `json:"uses_size_object"`
	// SizeField names the input property holding the {width, height} object.
	SizeField string `json:"size_field,omitempty"`
}

// Entry is a cached capability and the moment it was fetched.
type Entry struct {
	Capability
	FetchedAt time.Time
}

// SchemaFetchError reports that the interface description could not be retrieved.
type SchemaFetchError struct {
	Endpoint string
	Err      error
}

func (e *SchemaFetchError) Error() string {
	return fmt.Sprintf("fetch schema for %s: %v", e.Endpoint, e.Err)
}

func (e *SchemaFetchError) Unwrap() error { return e.Err }

// SchemaShapeError reports that the interface description lacks an expected path.
type SchemaShapeError struct {
	Endpoint string
	Reason   string
}

func (e *SchemaShapeError) Error() string {
	return fmt.Sprintf("schema for %s: %s", e.Endpoint, e.Reason)
}
