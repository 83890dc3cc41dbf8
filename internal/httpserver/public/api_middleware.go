package public

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_image_gateway/internal/app"
	"github.com/ncecere/open_image_gateway/internal/httpserver/httputil"
	"github.com/ncecere/open_image_gateway/internal/requestctx"
)

// apiKeyAuth validates the caller secret and injects the auth context with
// the upstream credential drawn for this request.
func apiKeyAuth(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ac, err := container.Selector.Authorize(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return httputil.WriteGatewayError(c, err)
		}

		rc := &ac
		c.Locals(requestctx.FiberLocalsKey(), rc)
		c.SetUserContext(requestctx.WithContext(userContext(c), rc))
		return c.Next()
	}
}

func userContext(c *fiber.Ctx) context.Context {
	if c == nil {
		return context.Background()
	}
	if uc := c.UserContext(); uc != nil {
		return uc
	}
	return context.Background()
}
