package public

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_image_gateway/internal/app"
	"github.com/ncecere/open_image_gateway/internal/cache"
	"github.com/ncecere/open_image_gateway/internal/catalog"
	"github.com/ncecere/open_image_gateway/internal/httpserver/httputil"
	"github.com/ncecere/open_image_gateway/internal/jobs"
	"github.com/ncecere/open_image_gateway/internal/limits"
	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/requestctx"
	"github.com/ncecere/open_image_gateway/internal/translate"
)

type imagesHandler struct {
	container *app.Container
}

// openAIImageRequest accepts the OpenAI fields the backend cannot honor
// (response_format, quality, style, user) and ignores them.
type openAIImageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size,omitempty"`
	N              int    `json:"n,omitempty"`
	Seed           *int64 `json:"seed,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
	Quality        string `json:"quality,omitempty"`
	Style          string `json:"style,omitempty"`
	User           string `json:"user,omitempty"`
}

type openAIImageData struct {
	URL           string `json:"url"`
	RevisedPrompt string `json:"revised_prompt"`
}

type openAIImageResponse struct {
	Created int64             `json:"created"`
	Data    []openAIImageData `json:"data"`
}

type openAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type openAIModelList struct {
	Object string        `json:"object"`
	Data   []openAIModel `json:"data"`
}

func (h *imagesHandler) listModels(c *fiber.Ctx) error {
	registered := h.container.Registry.Models()
	now := time.Now().Unix()
	out := make([]openAIModel, 0, len(registered))
	for _, m := range registered {
		owner, _, _ := strings.Cut(m.Endpoint, "/")
		out = append(out, openAIModel{ID: m.Alias, Object: "model", Created: now, OwnedBy: owner})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return c.JSON(openAIModelList{Object: "list", Data: out})
}

func (h *imagesHandler) generate(c *fiber.Ctx) error {
	ctx := c.UserContext()
	rc, ok := requestctx.FromContext(ctx)
	if !ok || rc == nil || !rc.CallerAuthorized {
		return httputil.WriteGatewayError(c, models.NewError(models.KindAuthentication, "invalid api key"))
	}

	var req openAIImageRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return httputil.WriteGatewayError(c, models.WrapError(models.KindValidation, err, "invalid request body"))
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return httputil.WriteGatewayError(c, models.NewError(models.KindValidation, "prompt is required"))
	}

	model, err := h.container.Registry.Resolve(req.Model)
	if err != nil {
		if errors.Is(err, catalog.ErrAliasUnknown) {
			return httputil.WriteGatewayError(c, models.NewError(models.KindModelNotFound, "model %q not found", strings.TrimSpace(req.Model)))
		}
		return httputil.WriteGatewayError(c, models.WrapError(models.KindValidation, err, "invalid model"))
	}

	n := translate.ClampImageCount(req.N)
	if maxN := h.container.Config.Images.MaxN; maxN > 0 && n > maxN {
		n = maxN
	}

	idempotencyKey := strings.TrimSpace(c.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		if entry, ok := h.container.Idempotency.Get(ctx, rc.CallerID, idempotencyKey); ok {
			c.Set("Idempotent-Replayed", "true")
			c.Set(fiber.HeaderContentType, entry.ContentType)
			return c.Status(entry.Status).Send(entry.Body)
		}
	}

	release, err := h.container.AcquireRateLimits(ctx, rc.CallerID, n)
	if err != nil {
		if errors.Is(err, limits.ErrLimitExceeded) {
			return httputil.WriteGatewayError(c, models.NewError(models.KindRateLimited, "rate limit exceeded"))
		}
		return httputil.WriteGatewayError(c, err)
	}
	defer release()

	capability, ok := h.container.Capabilities.Resolve(ctx, model.Alias)
	if !ok {
		return httputil.WriteGatewayError(c, models.NewError(models.KindConfiguration,
			"capabilities for model %q are unavailable", model.Alias))
	}

	payload, err := translate.Translate(models.ImageRequest{
		Model:  model.Alias,
		Prompt: req.Prompt,
		Size:   req.Size,
		N:      n,
		Seed:   req.Seed,
	}, capability)
	if err != nil {
		return httputil.WriteGatewayError(c, err)
	}

	result, err := h.container.Driver.Run(ctx, jobs.Job{
		Model:      model.Alias,
		SubmitURL:  capability.SubmitEndpoint,
		Credential: rc.UpstreamCredential,
		Payload:    payload,
		N:          n,
	})
	if err != nil {
		h.container.Logger.Warn("images: generation failed",
			slog.String("model", model.Alias),
			slog.String("state", result.State.String()),
			slog.String("request_id", result.RequestID),
			slog.String("error", err.Error()),
		)
		return httputil.WriteGatewayError(c, err)
	}

	urls := result.URLs
	if h.container.Mirror != nil {
		urls = h.container.Mirror.Rewrite(ctx, urls)
	}
	h.container.LogUsage(model, len(urls), result.Attempts, result.RequestID)

	revised := result.Prompt
	if strings.TrimSpace(revised) == "" {
		revised = req.Prompt
	}
	resp := openAIImageResponse{Created: time.Now().Unix(), Data: make([]openAIImageData, 0, len(urls))}
	for _, u := range urls {
		resp.Data = append(resp.Data, openAIImageData{URL: u, RevisedPrompt: revised})
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return httputil.WriteGatewayError(c, err)
	}
	if idempotencyKey != "" {
		h.container.Idempotency.Set(ctx, rc.CallerID, idempotencyKey, cache.Entry{
			Status:      fiber.StatusOK,
			ContentType: fiber.MIMEApplicationJSON,
			Body:        body,
		})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(body)
}
