package httpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ncecere/open_image_gateway/internal/app"
	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/httpserver/httputil"
	publicroutes "github.com/ncecere/open_image_gateway/internal/httpserver/public"
)

// Server wraps the Fiber app and configuration.
type Server struct {
	app       *fiber.App
	cfg       *config.Config
	container *app.Container
}

// New constructs a server with baseline middleware ready.
func New(container *app.Container) (*Server, error) {
	if container == nil {
		return nil, fmt.Errorf("dependency container is required")
	}

	cfg := container.Config
	if cfg == nil {
		return nil, fmt.Errorf("container missing config")
	}

	bodyLimit := cfg.Server.BodyLimitMB * 1024 * 1024
	if bodyLimit <= 0 {
		bodyLimit = 4 * 1024 * 1024
	}
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ServerHeader:          "open-image-gateway",
		BodyLimit:             bodyLimit,
		ReadTimeout:           cfg.Server.ReadTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		ReadBufferSize:        8 * 1024,
		WriteBufferSize:       4 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return httputil.WriteError(c, fe.Code, fe.Message)
			}
			return httputil.WriteGatewayError(c, err)
		},
	})

	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(recover.New())

	if container.Observability != nil {
		app.Use(func(c *fiber.Ctx) error {
			start := time.Now()
			err := c.Next()
			container.Observability.RecordHTTPRequest(c.UserContext(), c.Method(), routeOf(c), c.Response().StatusCode(), time.Since(start))
			return err
		})
	}

	if tracer := container.Observability.Tracer(); tracer != nil {
		app.Use(func(c *fiber.Ctx) error {
			spanCtx, span := tracer.Start(c.UserContext(), c.Method()+" "+c.Path())
			c.SetUserContext(spanCtx)
			err := c.Next()
			span.SetAttributes(
				attribute.String("http.method", c.Method()),
				attribute.String("http.route", routeOf(c)),
				attribute.Int("http.status_code", c.Response().StatusCode()),
				attribute.String("http.request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
			)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else if status := c.Response().StatusCode(); status >= 500 {
				span.SetStatus(codes.Error, fmt.Sprintf("status %d", status))
			} else {
				span.SetStatus(codes.Ok, "OK")
			}
			span.End()
			return err
		})
	}

	if handler := container.Observability.PrometheusHandler(); handler != nil {
		app.Get("/metrics", adaptor.HTTPHandler(handler))
	}

	registerHealthRoutes(app, container)
	publicroutes.Register(app, container)

	return &Server{
		app:       app,
		cfg:       cfg,
		container: container,
	}, nil
}

// App exposes the fiber app for in-process tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen blocks until context cancellation or a fatal listen error occurs.
func (s *Server) Listen(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(s.cfg.Server.ListenAddr)
	}()

	select {
	case <-ctx.Done():
		timeout := s.cfg.Server.GracefulShutdownDelay
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := s.app.ShutdownWithContext(shutdownCtx)
		if err == nil {
			err = <-errCh
		}
		return err
	case err := <-errCh:
		return err
	}
}

func routeOf(c *fiber.Ctx) string {
	if r := c.Route(); r != nil && r.Path != "" {
		return r.Path
	}
	return c.Path()
}

func registerHealthRoutes(app *fiber.App, container *app.Container) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()

		checks := make(map[string]fiber.Map)
		overall := "ok"

		if container.Redis != nil {
			start := time.Now()
			err := container.Redis.Ping(ctx).Err()
			check := fiber.Map{
				"status":     "ok",
				"latency_ms": time.Since(start).Milliseconds(),
			}
			if err != nil {
				check["status"] = "error"
				check["error"] = err.Error()
				overall = "degraded"
			}
			checks["redis"] = check
		}

		snapshot := container.Capabilities.Snapshot()
		capStatus := "ok"
		for _, entry := range snapshot {
			if entry.Stale {
				capStatus = "stale"
				break
			}
		}
		if len(snapshot) < len(container.Registry.Aliases()) {
			capStatus = "partial"
		}
		checks["capabilities"] = fiber.Map{
			"status":  capStatus,
			"entries": snapshot,
		}

		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": overall,
			"checks": checks,
		})
	})
}
