package models

import "time"

// ImageRequest captures the caller-side parameters of an image generation.
type ImageRequest struct {
	Model  string
	Prompt string
	Size   string
	N      int
	Seed   *int64
}

// ImageData represents a single generated image.
type ImageData struct {
	URL           string
	RevisedPrompt string
}

// ImageResponse wraps generated images along with creation metadata.
type ImageResponse struct {
	Created time.Time
	Data    []ImageData
}
