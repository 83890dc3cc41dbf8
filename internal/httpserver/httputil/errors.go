package httputil

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_image_gateway/internal/models"
)

const internalMessage = "internal server error"

// ErrorBody is the OpenAI error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// WriteError standardizes JSON error responses. The type is derived from the status.
func WriteError(c *fiber.Ctx, status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	return c.Status(status).JSON(ErrorBody{Error: ErrorDetail{Message: msg, Type: typeForStatus(status)}})
}

// WriteGatewayError maps a typed gateway error onto its status and type.
// Internal errors are logged and answered with a generic message.
func WriteGatewayError(c *fiber.Ctx, err error) error {
	kind := models.KindOf(err)
	msg := err.Error()
	if kind == models.KindInternal {
		slog.Error("http: internal error",
			slog.String("path", c.Path()),
			slog.String("error", msg),
		)
		msg = internalMessage
	}
	return c.Status(kind.HTTPStatus()).JSON(ErrorBody{Error: ErrorDetail{Message: msg, Type: kind.String()}})
}

func typeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return models.KindAuthentication.String()
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusTooManyRequests:
		return models.KindRateLimited.String()
	}
	if status >= 400 && status < 500 {
		return models.KindValidation.String()
	}
	return models.KindInternal.String()
}
