// Package translate maps OpenAI image requests onto backend job payloads.
package translate

import (
	"strings"

	"github.com/ncecere/open_image_gateway/internal/capability"
	"github.com/ncecere/open_image_gateway/internal/models"
)

// Payload is the JSON object submitted to the backend queue.
type Payload map[string]any

// Translate builds the submission payload for req against a model's
// capability. Sizing fields are only emitted when the size parsed and the
// model declares a way to receive them.
func Translate(req models.ImageRequest, c capability.Capability) (Payload, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, models.NewError(models.KindValidation, "prompt is required")
	}

	payload := Payload{
		"prompt":                req.Prompt,
		"num_images":            ClampImageCount(req.N),
		"enable_safety_checker": false,
	}
	if req.Seed != nil {
		payload["seed"] = *req.Seed
	}

	dims, ok := ParseSize(req.Size)
	if !ok {
		return payload, nil
	}

	switch {
	case c.UsesSizeObject:
		field := c.SizeField
		if field == "" {
			field = "image_size"
		}
		payload[field] = map[string]int{"width": dims.Width, "height": dims.Height}
	case c.SupportsDiscreteSize:
		payload["width"] = dims.Width
		payload["height"] = dims.Height
	}
	if c.SupportsAspectRatio {
		payload["aspect_ratio"] = dims.AspectRatio
	}
	return payload, nil
}
