package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the runtime configuration for the image gateway.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Backend       BackendConfig       `mapstructure:"backend"`
	Images        ImagesConfig        `mapstructure:"images"`
	Capabilities  CapabilitiesConfig  `mapstructure:"capabilities"`
	Jobs          JobsConfig          `mapstructure:"jobs"`
	Redis         RedisConfig         `mapstructure:"redis"`
	RateLimits    RateLimitConfig     `mapstructure:"rate_limits"`
	Idempotency   IdempotencyConfig   `mapstructure:"idempotency"`
	Results       ResultsConfig       `mapstructure:"results"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	ModelCatalog  []ModelCatalogEntry `mapstructure:"model_catalog"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	IdleTimeout           time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
	LogLevel              string        `mapstructure:"log_level"`
}

type AuthConfig struct {
	CallerKey     string   `mapstructure:"caller_key"`
	CallerKeyHash string   `mapstructure:"caller_key_hash"`
	UpstreamKeys  []string `mapstructure:"upstream_keys"`
}

type BackendConfig struct {
	QueueBaseURL     string        `mapstructure:"queue_base_url"`
	SchemaURL        string        `mapstructure:"schema_url"`
	CredentialScheme string        `mapstructure:"credential_scheme"`
	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`
}

type ImagesConfig struct {
	DefaultModel string `mapstructure:"default_model"`
	MaxN         int    `mapstructure:"max_n"`
}

type CapabilitiesConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	WarmupTimeout   time.Duration `mapstructure:"warmup_timeout"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type JobsConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	ImagesPerMinute   int `mapstructure:"images_per_minute"`
	ParallelRequests  int `mapstructure:"parallel_requests"`
}

type IdempotencyConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type ResultsConfig struct {
	Enabled       bool               `mapstructure:"enabled"`
	Storage       string             `mapstructure:"storage"`
	PublicBaseURL string             `mapstructure:"public_base_url"`
	MaxSizeMB     int                `mapstructure:"max_size_mb"`
	FetchTimeout  time.Duration      `mapstructure:"fetch_timeout"`
	EncryptionKey string             `mapstructure:"encryption_key"`
	S3            ResultsS3Config    `mapstructure:"s3"`
	Local         ResultsLocalConfig `mapstructure:"local"`
}

type ResultsS3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type ResultsLocalConfig struct {
	Directory string `mapstructure:"directory"`
}

type ObservabilityConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

// ModelCatalogEntry maps a caller-facing model name to a backend endpoint.
type ModelCatalogEntry struct {
	Alias         string `mapstructure:"alias"`
	Endpoint      string `mapstructure:"endpoint"`
	Description   string `mapstructure:"description"`
	PricePerImage string `mapstructure:"price_per_image"`
	Enabled       *bool  `mapstructure:"enabled"`
}

func (e ModelCatalogEntry) IsEnabled() bool {
	if e.Enabled == nil {
		return true
	}
	return *e.Enabled
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else {
		if cfg := os.Getenv("GATEWAY_CONFIG_FILE"); cfg != "" {
			v.SetConfigFile(cfg)
			explicitFile = true
		}
	}

	if !explicitFile {
		v.SetConfigName("gateway")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	hooks := mapstructure.ComposeDecodeHookFunc(
		timeStringToDurationHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hooks)); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set and fills derived defaults.
func (c *Config) Validate() error {
	var missing []string

	c.Auth.CallerKey = strings.TrimSpace(c.Auth.CallerKey)
	c.Auth.CallerKeyHash = strings.TrimSpace(c.Auth.CallerKeyHash)
	c.Auth.UpstreamKeys = normalizeStringSlice(c.Auth.UpstreamKeys)
	if c.Auth.CallerKey == "" && c.Auth.CallerKeyHash == "" {
		missing = append(missing, "GATEWAY_AUTH_CALLER_KEY")
	}
	if len(c.Auth.UpstreamKeys) == 0 {
		missing = append(missing, "GATEWAY_AUTH_UPSTREAM_KEYS")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if strings.TrimSpace(c.Backend.QueueBaseURL) == "" {
		return fmt.Errorf("backend.queue_base_url must be provided")
	}
	if strings.TrimSpace(c.Backend.SchemaURL) == "" {
		return fmt.Errorf("backend.schema_url must be provided")
	}
	c.Backend.QueueBaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.QueueBaseURL), "/")
	if strings.TrimSpace(c.Backend.CredentialScheme) == "" {
		c.Backend.CredentialScheme = "Key"
	}
	if c.Backend.HTTPTimeout <= 0 {
		c.Backend.HTTPTimeout = 30 * time.Second
	}

	if c.Jobs.PollInterval <= 0 {
		return fmt.Errorf("jobs.poll_interval must be > 0")
	}
	if c.Jobs.MaxAttempts <= 0 {
		return fmt.Errorf("jobs.max_attempts must be > 0")
	}
	if c.Capabilities.TTL <= 0 {
		return fmt.Errorf("capabilities.ttl must be > 0")
	}
	if c.Capabilities.WarmupTimeout <= 0 {
		c.Capabilities.WarmupTimeout = 30 * time.Second
	}
	if c.Capabilities.RefreshInterval < 0 {
		return fmt.Errorf("capabilities.refresh_interval must be >= 0")
	}
	if c.Images.MaxN <= 0 {
		c.Images.MaxN = 4
	}
	if c.Images.MaxN > 4 {
		return fmt.Errorf("images.max_n must be between 1 and 4")
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be >= 0")
	}
	if c.RateLimits.RequestsPerMinute < 0 || c.RateLimits.ImagesPerMinute < 0 || c.RateLimits.ParallelRequests < 0 {
		return fmt.Errorf("rate_limits values must be >= 0")
	}

	if err := c.validateCatalog(); err != nil {
		return err
	}
	if err := c.Results.validate(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCatalog() error {
	seen := make(map[string]struct{}, len(c.ModelCatalog))
	enabled := 0
	for i := range c.ModelCatalog {
		entry := &c.ModelCatalog[i]
		entry.Alias = strings.TrimSpace(entry.Alias)
		entry.Endpoint = strings.Trim(strings.TrimSpace(entry.Endpoint), "/")
		if entry.Alias == "" {
			return fmt.Errorf("model_catalog[%d].alias must be provided", i)
		}
		if entry.Endpoint == "" {
			return fmt.Errorf("model_catalog[%d].endpoint must be provided", i)
		}
		if _, dup := seen[entry.Alias]; dup {
			return fmt.Errorf("model_catalog[%d].alias %q is duplicated", i, entry.Alias)
		}
		seen[entry.Alias] = struct{}{}
		if entry.IsEnabled() {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("model_catalog must contain at least one enabled model")
	}

	c.Images.DefaultModel = strings.TrimSpace(c.Images.DefaultModel)
	if c.Images.DefaultModel == "" {
		for _, entry := range c.ModelCatalog {
			if entry.IsEnabled() {
				c.Images.DefaultModel = entry.Alias
				break
			}
		}
	}
	for _, entry := range c.ModelCatalog {
		if entry.Alias == c.Images.DefaultModel && entry.IsEnabled() {
			return nil
		}
	}
	return fmt.Errorf("images.default_model %q is not an enabled model_catalog alias", c.Images.DefaultModel)
}

func (r *ResultsConfig) validate() error {
	if !r.Enabled {
		return nil
	}
	if strings.TrimSpace(r.PublicBaseURL) == "" {
		return fmt.Errorf("results.public_base_url must be provided when results mirroring is enabled")
	}
	r.PublicBaseURL = strings.TrimRight(strings.TrimSpace(r.PublicBaseURL), "/")
	if r.MaxSizeMB <= 0 {
		r.MaxSizeMB = 25
	}
	if r.FetchTimeout <= 0 {
		r.FetchTimeout = 30 * time.Second
	}
	switch strings.ToLower(strings.TrimSpace(r.Storage)) {
	case "", "local":
		r.Storage = "local"
	case "s3":
		r.Storage = "s3"
		if strings.TrimSpace(r.S3.Bucket) == "" {
			return fmt.Errorf("results.s3.bucket must be provided for s3 storage")
		}
	default:
		return fmt.Errorf("results.storage must be local or s3")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.body_limit_mb", 4)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")
	v.SetDefault("server.log_level", "info")

	v.SetDefault("auth.caller_key", "")
	v.SetDefault("auth.caller_key_hash", "")
	v.SetDefault("auth.upstream_keys", []string{})

	v.SetDefault("backend.queue_base_url", "https://queue.fal.run")
	v.SetDefault("backend.schema_url", "https://fal.ai/api/openapi/queue/openapi.json")
	v.SetDefault("backend.credential_scheme", "Key")
	v.SetDefault("backend.http_timeout", "30s")

	v.SetDefault("images.default_model", "")
	v.SetDefault("images.max_n", 4)

	v.SetDefault("capabilities.ttl", "24h")
	v.SetDefault("capabilities.warmup_timeout", "30s")
	v.SetDefault("capabilities.refresh_interval", "0s")

	v.SetDefault("jobs.poll_interval", "2s")
	v.SetDefault("jobs.max_attempts", 45)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("rate_limits.requests_per_minute", 0)
	v.SetDefault("rate_limits.images_per_minute", 0)
	v.SetDefault("rate_limits.parallel_requests", 0)

	v.SetDefault("idempotency.ttl", "30m")

	v.SetDefault("results.enabled", false)
	v.SetDefault("results.storage", "local")
	v.SetDefault("results.public_base_url", "")
	v.SetDefault("results.max_size_mb", 25)
	v.SetDefault("results.fetch_timeout", "30s")
	v.SetDefault("results.encryption_key", "")
	v.SetDefault("results.local.directory", "./data/images")

	v.SetDefault("observability.enable_otlp", false)
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")
}

func normalizeStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	clean := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	if len(clean) == 0 {
		return nil
	}
	return clean
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
