package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/open_image_gateway/internal/app"
	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/httpserver"
	"github.com/ncecere/open_image_gateway/internal/redisclient"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)})))

	var redisClient *redis.Client
	if client := redisclient.New(cfg.Redis); client != nil {
		if err := redisclient.Ping(ctx, client); err != nil {
			log.Fatalf("connect redis: %v", err)
		}
		redisClient = client
	}

	container, err := app.NewContainer(ctx, cfg, redisClient, app.Overrides{})
	if err != nil {
		log.Fatalf("build container: %v", err)
	}
	defer container.Close(context.WithoutCancel(ctx))

	report := container.WarmCapabilities(ctx)
	if report.Warmed == 0 && report.Failed > 0 {
		slog.Warn("gatewayd: no model capabilities could be fetched at startup")
	}

	server, err := httpserver.New(container)
	if err != nil {
		log.Fatalf("construct server: %v", err)
	}

	slog.Info("gatewayd: listening",
		slog.String("addr", cfg.Server.ListenAddr),
		slog.Int("models", len(container.Registry.Aliases())),
		slog.Int("upstream_credentials", container.Selector.UpstreamCount()),
	)
	if err := server.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("server stopped: %v", err)
	}
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
