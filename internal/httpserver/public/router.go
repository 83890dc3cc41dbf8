package public

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_image_gateway/internal/app"
	"github.com/ncecere/open_image_gateway/internal/mirror"
)

// Register wires up the OpenAI-compatible public API routes.
func Register(router fiber.Router, container *app.Container) {
	if container.Mirror != nil {
		files := &filesHandler{container: container}
		router.Get(mirror.FilesRoute+":key", files.download)
	}

	group := router.Group("/v1", apiKeyAuth(container))
	images := &imagesHandler{container: container}
	group.Get("/models", images.listModels)
	group.Post("/images/generations", images.generate)
}
