package public

import (
	"errors"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_image_gateway/internal/app"
	"github.com/ncecere/open_image_gateway/internal/httpserver/httputil"
	"github.com/ncecere/open_image_gateway/internal/storage/blob"
)

type filesHandler struct {
	container *app.Container
}

// download serves a mirrored image. Keys are content addressed, so the
// route needs no authentication and responses are immutable.
func (h *filesHandler) download(c *fiber.Ctx) error {
	key := c.Params("key")
	if !validKey(key) {
		return httputil.WriteError(c, fiber.StatusNotFound, "file not found")
	}
	reader, info, err := h.container.Blob.Get(c.UserContext(), key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return httputil.WriteError(c, fiber.StatusNotFound, "file not found")
		}
		return httputil.WriteGatewayError(c, err)
	}
	defer reader.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Set(fiber.HeaderContentType, contentType)
	if info.Size > 0 {
		c.Set(fiber.HeaderContentLength, strconv.FormatInt(info.Size, 10))
	}
	c.Set(fiber.HeaderCacheControl, "public, max-age=31536000, immutable")
	_, err = io.Copy(c, reader)
	return err
}

func validKey(key string) bool {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return false
	}
	return path.Clean(key) == key
}
