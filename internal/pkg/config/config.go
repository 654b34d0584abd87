// Package config assembles the agent configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ManuelReschke/ClaimAgent/internal/pkg/cache"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/env"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/intake"
	"github.com/ManuelReschke/ClaimAgent/internal/pkg/progress"
)

// Config is the complete runtime configuration of one agent process
type Config struct {
	AppEnv  string `validate:"oneof=dev test prod"`
	AppHost string
	AppPort string `validate:"required,numeric"`

	DBPath        string `validate:"required"`
	ProviderCode  string `validate:"required,max=50"`
	EncryptionKey string `validate:"required,base64"`
	APIToken      string

	MetricsUser     string
	MetricsPassword string
	DocsPath        string

	Lease             time.Duration `validate:"min=30s"`
	PacketSize        int           `validate:"min=1,max=40"`
	DispatchBackoff   time.Duration `validate:"min=1s"`
	AttachmentBackoff time.Duration `validate:"min=1s"`
	StagePageSize     int           `validate:"min=1,max=1000"`
	StageTxSize       int           `validate:"min=1,max=25"`
	MappingPostChunk  int           `validate:"min=1,max=500"`

	StageInterval      time.Duration `validate:"min=1s"`
	DispatchInterval   time.Duration `validate:"min=1s"`
	AttachmentInterval time.Duration `validate:"min=1s"`
	MappingInterval    time.Duration `validate:"min=1s"`
	CompletionInterval time.Duration `validate:"min=1s"`

	Intake intake.Config

	SourceDBPath string

	Cache           cache.Config
	ProgressChannel string `validate:"required"`
}

// Load reads the configuration from the environment and validates it
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:  env.GetEnv("APP_ENV", "prod"),
		AppHost: env.GetEnv("APP_HOST", "127.0.0.1"),
		AppPort: env.GetEnv("APP_PORT", "8085"),

		DBPath:        env.GetEnv("DB_PATH", "data/claimagent.db"),
		ProviderCode:  env.GetEnv("PROVIDER_CODE", ""),
		EncryptionKey: env.GetEnv("ENCRYPTION_KEY", ""),
		APIToken:      env.GetEnv("API_TOKEN", ""),

		MetricsUser:     env.GetEnv("METRICS_USER", "admin"),
		MetricsPassword: env.GetEnv("METRICS_PASSWORD", ""),
		DocsPath:        env.GetEnv("API_DOCS_PATH", "docs/v1/openapi.yml"),

		Lease:             env.GetSeconds("LEASE_SECONDS", 300*time.Second),
		PacketSize:        env.GetInt("DISPATCH_PACKET_SIZE", 40),
		DispatchBackoff:   env.GetSeconds("DISPATCH_BACKOFF_SECONDS", time.Minute),
		AttachmentBackoff: env.GetSeconds("ATTACHMENT_BACKOFF_SECONDS", 5*time.Minute),
		StagePageSize:     env.GetInt("STAGE_PAGE_SIZE", 300),
		StageTxSize:       env.GetInt("STAGE_TX_SIZE", 25),
		MappingPostChunk:  env.GetInt("MAPPING_POST_CHUNK", 500),

		StageInterval:      env.GetSeconds("ENGINE_STAGE_INTERVAL_SECONDS", 30*time.Second),
		DispatchInterval:   env.GetSeconds("ENGINE_DISPATCH_INTERVAL_SECONDS", 15*time.Second),
		AttachmentInterval: env.GetSeconds("ENGINE_ATTACHMENT_INTERVAL_SECONDS", time.Minute),
		MappingInterval:    env.GetSeconds("ENGINE_MAPPING_INTERVAL_SECONDS", 5*time.Minute),
		CompletionInterval: env.GetSeconds("ENGINE_COMPLETION_INTERVAL_SECONDS", 5*time.Minute),

		Intake: intake.Config{
			BaseURL: env.GetEnv("INTAKE_BASE_URL", ""),
			APIKey:  env.GetEnv("INTAKE_API_KEY", ""),
			Timeout: env.GetSeconds("INTAKE_TIMEOUT_SECONDS", 60*time.Second),
			Gzip:    env.GetBool("INTAKE_GZIP", true),
		},

		SourceDBPath: env.GetEnv("SOURCE_DB_PATH", ""),

		Cache: cache.Config{
			Host:     env.GetEnv("CACHE_HOST", "localhost"),
			Port:     env.GetEnv("CACHE_PORT", "6379"),
			Password: env.GetEnv("CACHE_PASSWORD", ""),
		},
		ProgressChannel: env.GetEnv("PROGRESS_CHANNEL", progress.DefaultChannel),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Addr returns the listen address of the control API
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.AppHost, c.AppPort)
}
