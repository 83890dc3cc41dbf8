package app

import (
	"log/slog"

	decimal "github.com/shopspring/decimal"

	"github.com/ncecere/open_image_gateway/internal/models"
)

// EstimateCost prices a generation from the model's per-image price.
func EstimateCost(model models.Model, images int) decimal.Decimal {
	if images <= 0 {
		return decimal.Zero
	}
	return model.PricePerImage.Mul(decimal.NewFromInt(int64(images)))
}

// LogUsage records a completed generation with its cost estimate.
func (c *Container) LogUsage(model models.Model, images, attempts int, requestID string) {
	c.Logger.Info("usage: image generation",
		slog.String("model", model.Alias),
		slog.String("endpoint", model.Endpoint),
		slog.String("request_id", requestID),
		slog.Int("images", images),
		slog.Int("poll_attempts", attempts),
		slog.String("estimated_cost", EstimateCost(model, images).StringFixed(4)),
	)
	if c.Observability != nil {
		c.Observability.RecordImages(model.Alias, images)
	}
}
