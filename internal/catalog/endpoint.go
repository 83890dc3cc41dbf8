package catalog

import "strings"

// NormalizeEndpoint canonicalizes backend endpoint identifiers ("/fal-ai/flux/dev/" -> "fal-ai/flux/dev").
func NormalizeEndpoint(id string) string {
	return strings.Trim(strings.TrimSpace(id), "/")
}

// AppID returns the owner/app prefix of an endpoint identifier. The queue
// addresses requests by app, so "fal-ai/flux/dev" polls under "fal-ai/flux".
func AppID(endpoint string) string {
	endpoint = NormalizeEndpoint(endpoint)
	parts := strings.SplitN(endpoint, "/", 3)
	if len(parts) < 2 {
		return endpoint
	}
	return parts[0] + "/" + parts[1]
}
