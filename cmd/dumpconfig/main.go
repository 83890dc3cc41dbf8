package main

import (
	"flag"
	"log"
	"strings"

	"github.com/ncecere/open_image_gateway/internal/config"
)

// dumpconfig prints the effective configuration with secrets masked.
func main() {
	configFile := flag.String("config", "", "path to gateway.yaml")
	flag.Parse()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	log.Printf("listen=%s default_model=%s max_n=%d", cfg.Server.ListenAddr, cfg.Images.DefaultModel, cfg.Images.MaxN)
	log.Printf("backend queue=%s schema=%s scheme=%s", cfg.Backend.QueueBaseURL, cfg.Backend.SchemaURL, cfg.Backend.CredentialScheme)
	log.Printf("caller_key=%s caller_key_hash=%t upstream_keys=%d", mask(cfg.Auth.CallerKey), cfg.Auth.CallerKeyHash != "", len(cfg.Auth.UpstreamKeys))
	log.Printf("capabilities ttl=%s refresh=%s jobs poll=%s attempts=%d",
		cfg.Capabilities.TTL, cfg.Capabilities.RefreshInterval, cfg.Jobs.PollInterval, cfg.Jobs.MaxAttempts)
	log.Printf("redis=%t results=%t storage=%s", cfg.Redis.URL != "", cfg.Results.Enabled, cfg.Results.Storage)
	for _, entry := range cfg.ModelCatalog {
		log.Printf("model alias=%s endpoint=%s enabled=%t price=%s", entry.Alias, entry.Endpoint, entry.IsEnabled(), entry.PricePerImage)
	}
}

func mask(secret string) string {
	secret = strings.TrimSpace(secret)
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:2] + strings.Repeat("*", len(secret)-4) + secret[len(secret)-2:]
}
