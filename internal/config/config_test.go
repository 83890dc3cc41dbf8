package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
auth:
  caller_key: caller-secret
model_catalog:
  - alias: flux-dev
    endpoint: fal-ai/flux/dev
  - alias: recraft
    endpoint: /fal-ai/recraft-v3/
    price_per_image: "0.04"
  - alias: disabled-model
    endpoint: fal-ai/disabled
    enabled: false
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesFileAndEnvironment(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	t.Setenv("GATEWAY_AUTH_UPSTREAM_KEYS", "key-a, key-b,,key-c")
	t.Setenv("GATEWAY_JOBS_MAX_ATTEMPTS", "10")

	cfg, err := Load(Options{ConfigFile: path, EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	require.NoError(t, err)

	require.Equal(t, "caller-secret", cfg.Auth.CallerKey)
	require.Equal(t, []string{"key-a", "key-b", "key-c"}, cfg.Auth.UpstreamKeys)
	require.Equal(t, 10, cfg.Jobs.MaxAttempts)
	require.Equal(t, 2*time.Second, cfg.Jobs.PollInterval)
	require.Equal(t, 24*time.Hour, cfg.Capabilities.TTL)
	require.Equal(t, "https://queue.fal.run", cfg.Backend.QueueBaseURL)
	require.Equal(t, "flux-dev", cfg.Images.DefaultModel, "first enabled entry becomes the default model")
	require.Equal(t, "fal-ai/recraft-v3", cfg.ModelCatalog[1].Endpoint)
	require.False(t, cfg.ModelCatalog[2].IsEnabled())
}

func TestValidateRequiresCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.CallerKey = ""
	cfg.Auth.UpstreamKeys = []string{" "}

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "GATEWAY_AUTH_CALLER_KEY")
	require.Contains(t, err.Error(), "GATEWAY_AUTH_UPSTREAM_KEYS")
}

func TestValidateAcceptsCallerKeyHash(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.CallerKey = ""
	cfg.Auth.CallerKeyHash = "argon2id$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA"
	require.NoError(t, cfg.Validate())
}

func TestValidateCatalog(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty catalog",
			mutate:  func(c *Config) { c.ModelCatalog = nil },
			wantErr: "at least one enabled model",
		},
		{
			name: "duplicate alias",
			mutate: func(c *Config) {
				c.ModelCatalog = append(c.ModelCatalog, ModelCatalogEntry{Alias: "flux-dev", Endpoint: "fal-ai/other"})
			},
			wantErr: "duplicated",
		},
		{
			name:    "missing endpoint",
			mutate:  func(c *Config) { c.ModelCatalog[0].Endpoint = "  " },
			wantErr: "endpoint must be provided",
		},
		{
			name:    "unknown default model",
			mutate:  func(c *Config) { c.Images.DefaultModel = "nope" },
			wantErr: "images.default_model",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateResultsMirror(t *testing.T) {
	cfg := validConfig()
	cfg.Results.Enabled = true
	require.ErrorContains(t, cfg.Validate(), "public_base_url")

	cfg.Results.PublicBaseURL = "https://img.example.com/"
	cfg.Results.Storage = "s3"
	require.ErrorContains(t, cfg.Validate(), "results.s3.bucket")

	cfg.Results.S3.Bucket = "images"
	require.NoError(t, cfg.Validate())
	require.Equal(t, "https://img.example.com", cfg.Results.PublicBaseURL)
	require.Equal(t, 25, cfg.Results.MaxSizeMB)
}

func validConfig() *Config {
	return &Config{
		Auth: AuthConfig{CallerKey: "secret", UpstreamKeys: []string{"up-1"}},
		Backend: BackendConfig{
			QueueBaseURL: "https://queue.fal.run",
			SchemaURL:    "https://fal.ai/api/openapi/queue/openapi.json",
		},
		Capabilities: CapabilitiesConfig{TTL: 24 * time.Hour},
		Jobs:         JobsConfig{PollInterval: 2 * time.Second, MaxAttempts: 45},
		ModelCatalog: []ModelCatalogEntry{{Alias: "flux-dev", Endpoint: "fal-ai/flux/dev"}},
	}
}
