// Package config loads the push agent's configuration: an embedded YAML
// base, then environment overrides and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

// DeadlinesConfig holds the per-channel processing windows. Zero values
// leave the router defaults in place.
type DeadlinesConfig struct {
	UserNotification time.Duration
	SilentWake       time.Duration
}

// BackendConfig tunes the token forwarder. Zero values take its defaults.
type BackendConfig struct {
	Workers        int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RatePerSec     float64
	Burst          int
	OpTimeout      time.Duration
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID   string
	ListenAddr  string
	IdentityURL string

	// OwnerID is the raw installation owner URN; Owner is its parsed form.
	OwnerID  string
	Owner    urn.URN
	Platform string

	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	// WakeTopicID receives forwarded wake signals. Empty logs them instead.
	WakeTopicID        string
	NumPipelineWorkers int
	DedupTTL           time.Duration

	SilentForegroundKey string
	Deadlines           DeadlinesConfig
	Backend             BackendConfig

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	overrideString(logger, "PROJECT_ID", &cfg.ProjectID)
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	overrideString(logger, "IDENTITY_SERVICE_URL", &cfg.IdentityURL)
	overrideString(logger, "OWNER_URN", &cfg.OwnerID)
	overrideString(logger, "PUSH_PLATFORM", &cfg.Platform)
	overrideString(logger, "TOPIC_ID", &cfg.TopicID)
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	overrideString(logger, "SUBSCRIPTION_DLQ_TOPIC_ID", &cfg.SubscriptionDLQTopicID)
	overrideString(logger, "WAKE_TOPIC_ID", &cfg.WakeTopicID)
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}
	overrideString(logger, "SILENT_FOREGROUND_KEY", &cfg.SilentForegroundKey)

	durations := map[string]*time.Duration{
		"DEDUP_TTL":                  &cfg.DedupTTL,
		"USER_NOTIFICATION_DEADLINE": &cfg.Deadlines.UserNotification,
		"SILENT_WAKE_DEADLINE":       &cfg.Deadlines.SilentWake,
		"BACKEND_OP_TIMEOUT":         &cfg.Backend.OpTimeout,
		"REDIS_CACHE_TTL":            &cfg.Redis.CacheTTL,
	}
	for key, dst := range durations {
		val := os.Getenv(key)
		if val == "" {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid duration %q: %w", key, val, err)
		}
		logger.Debug("Overriding config value", "key", key, "source", "env")
		*dst = d
	}
	if val := os.Getenv("BACKEND_MAX_ATTEMPTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Backend.MaxAttempts = n
		}
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	if cfg.OwnerID == "" {
		return nil, fmt.Errorf("owner_urn is required (set via YAML or OWNER_URN env var)")
	}
	owner, err := urn.Parse(cfg.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("owner_urn %q is not a valid URN: %w", cfg.OwnerID, err)
	}
	cfg.Owner = owner

	switch cfg.Platform {
	case "":
		cfg.Platform = push.PlatformAPNs
	case push.PlatformAPNs, push.PlatformFCM:
	default:
		return nil, fmt.Errorf("platform must be %q or %q, got %q", push.PlatformAPNs, push.PlatformFCM, cfg.Platform)
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.IdentityURL == "" {
		cfg.IdentityURL = "http://localhost:3000"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = time.Hour
	}
	if cfg.Redis.CacheTTL <= 0 {
		cfg.Redis.CacheTTL = 24 * time.Hour
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func overrideString(logger *slog.Logger, key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		logger.Debug("Overriding config value", "key", key, "source", "env")
		*dst = val
	}
}
