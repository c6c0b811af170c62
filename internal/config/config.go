// Package config loads fieldops settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config holds all configuration values for the gateway and the worker.
type Config struct {
	// Database connection string
	DatabaseURL string
	// database/sql driver name: "postgres" (lib/pq) or "pgx"
	DatabaseDriver string

	// HTTP server port for the gateway
	HTTPPort int

	LogLevel string

	// Collector address for OTLP/gRPC traces. Empty disables tracing.
	OTELEndpoint string
	// Fraction of root traces sampled. 1 samples everything.
	OTELSampleRatio float64

	// Bearer token for the admin routes. Empty disables them.
	AdminToken string

	Worker     WorkerConfig
	Webhook    WebhookConfig
	Accounting AccountingConfig
	Labor      LaborConfig
}

// WorkerConfig controls the poll loop.
type WorkerConfig struct {
	// Worker identity; generated as <hostname>-<8 hex> when empty.
	ID           string
	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int

	// RetryBackoff pushes run_after forward after a failure. Zero leaves it unchanged.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration

	MetricsPort int
}

// WebhookConfig controls ingestion.
type WebhookConfig struct {
	// Sources accepted on /webhooks/{source}/event.
	AllowedSources []string
	// Shared secrets for the signed sources, keyed by source.
	Secrets map[string]string
	// Per-source token bucket. Zero rate disables limiting.
	RateLimit float64
	RateBurst int
}

// AccountingConfig points at the accounting system's REST API.
type AccountingConfig struct {
	BaseURL     string
	RealmID     string
	AccessToken string
}

// LaborConfig prices labor cost entries.
type LaborConfig struct {
	DefaultHourlyRate float64
	DefaultCostCodeID uuid.UUID
	CostCodeName      string
}

// Signed webhook sources with a configurable secret.
var signedSources = []string{"accounting", "reports", "projects"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_driver", "postgres")
	v.SetDefault("port", 6161)
	v.SetDefault("log_level", "info")
	v.SetDefault("otel_sample_ratio", 1.0)

	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.retry_backoff", time.Duration(0))
	v.SetDefault("worker.max_retry_backoff", 5*time.Minute)
	v.SetDefault("worker.metrics_port", 9091)

	v.SetDefault("webhook.allowed_sources", []string{"timeclock", "clockshark", "busybusy"})
	v.SetDefault("webhook.rate_limit", 0.0)
	v.SetDefault("webhook.rate_burst", 0)

	v.SetDefault("accounting.base_url", "https://quickbooks.api.intuit.com")

	v.SetDefault("labor.default_hourly_rate", 0.0)
	v.SetDefault("labor.cost_code_name", "Labor")
}

// Load reads configuration. path names a YAML file; when empty, fieldops.yaml in
// the working directory is used if present. Environment variables win over the
// file: nested keys map to upper-case names with underscores (worker.batch_size
// becomes WORKER_BATCH_SIZE).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("otel_sample_ratio", "OTEL_TRACES_SAMPLER_ARG"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fieldops")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		DatabaseURL:     v.GetString("database_url"),
		DatabaseDriver:  v.GetString("database_driver"),
		HTTPPort:        v.GetInt("port"),
		LogLevel:        v.GetString("log_level"),
		OTELEndpoint:    v.GetString("otel_endpoint"),
		OTELSampleRatio: v.GetFloat64("otel_sample_ratio"),
		AdminToken:      v.GetString("admin_token"),
		Worker: WorkerConfig{
			ID:              v.GetString("worker.id"),
			BatchSize:       v.GetInt("worker.batch_size"),
			PollInterval:    v.GetDuration("worker.poll_interval"),
			MaxAttempts:     v.GetInt("worker.max_attempts"),
			RetryBackoff:    v.GetDuration("worker.retry_backoff"),
			MaxRetryBackoff: v.GetDuration("worker.max_retry_backoff"),
			MetricsPort:     v.GetInt("worker.metrics_port"),
		},
		Webhook: WebhookConfig{
			AllowedSources: stringList(v, "webhook.allowed_sources"),
			Secrets:        map[string]string{},
			RateLimit:      v.GetFloat64("webhook.rate_limit"),
			RateBurst:      v.GetInt("webhook.rate_burst"),
		},
		Accounting: AccountingConfig{
			BaseURL:     strings.TrimSuffix(v.GetString("accounting.base_url"), "/"),
			RealmID:     v.GetString("accounting.realm_id"),
			AccessToken: v.GetString("accounting.access_token"),
		},
		Labor: LaborConfig{
			DefaultHourlyRate: v.GetFloat64("labor.default_hourly_rate"),
			CostCodeName:      v.GetString("labor.cost_code_name"),
		},
	}

	for _, source := range signedSources {
		if secret := v.GetString("webhook.secrets." + source); secret != "" {
			cfg.Webhook.Secrets[source] = secret
		}
	}

	if raw := v.GetString("labor.default_cost_code_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid labor.default_cost_code_id: %w", err)
		}
		cfg.Labor.DefaultCostCodeID = id
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database_url is required (env: DATABASE_URL)")
	}
	switch c.DatabaseDriver {
	case "postgres", "pgx":
	default:
		return fmt.Errorf("database_driver must be postgres or pgx, got %q", c.DatabaseDriver)
	}
	if c.HTTPPort <= 0 {
		return fmt.Errorf("invalid port %d", c.HTTPPort)
	}
	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker.batch_size must be positive, got %d", c.Worker.BatchSize)
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be positive, got %s", c.Worker.PollInterval)
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker.max_attempts must be at least 1, got %d", c.Worker.MaxAttempts)
	}
	if c.Worker.RetryBackoff < 0 {
		return fmt.Errorf("worker.retry_backoff must not be negative, got %s", c.Worker.RetryBackoff)
	}
	if c.Webhook.RateLimit < 0 || c.Webhook.RateBurst < 0 {
		return errors.New("webhook.rate_limit and webhook.rate_burst must not be negative")
	}
	return nil
}

// stringList accepts both YAML lists and comma-separated environment values.
func stringList(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
