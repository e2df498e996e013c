package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	CacheTTL string `yaml:"cache_ttl"`
}

type YamlDeadlinesConfig struct {
	UserNotification string `yaml:"user_notification"`
	SilentWake       string `yaml:"silent_wake"`
}

type YamlBackendConfig struct {
	Workers        int     `yaml:"workers"`
	MaxAttempts    int     `yaml:"max_attempts"`
	InitialBackoff string  `yaml:"initial_backoff"`
	MaxBackoff     string  `yaml:"max_backoff"`
	RatePerSec     float64 `yaml:"rate_per_sec"`
	Burst          int     `yaml:"burst"`
	OpTimeout      string  `yaml:"op_timeout"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
// Durations are Go duration strings ("30s", "250ms").
type YamlConfig struct {
	ProjectID              string              `yaml:"project_id"`
	ListenAddr             string              `yaml:"listen_addr"`
	IdentityURL            string              `yaml:"identity_url"`
	OwnerURN               string              `yaml:"owner_urn"`
	Platform               string              `yaml:"platform"`
	TopicID                string              `yaml:"topic_id"`
	SubscriptionID         string              `yaml:"subscription_id"`
	SubscriptionDLQTopicID string              `yaml:"subscription_dlq_topic_id"`
	WakeTopicID            string              `yaml:"wake_topic_id"`
	NumPipelineWorkers     int                 `yaml:"num_pipeline_workers"`
	DedupTTL               string              `yaml:"dedup_ttl"`
	SilentForegroundKey    string              `yaml:"silent_foreground_key"`
	Deadlines              YamlDeadlinesConfig `yaml:"deadlines"`
	Backend                YamlBackendConfig   `yaml:"backend"`
	CorsConfig             YamlCorsConfig      `yaml:"cors"`
	RedisConfig            YamlRedisConfig     `yaml:"redis"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
// Owner URN parsing and required-field checks happen in
// UpdateConfigWithEnvOverrides, after the environment had its say.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:              baseCfg.ProjectID,
		ListenAddr:             baseCfg.ListenAddr,
		IdentityURL:            baseCfg.IdentityURL,
		OwnerID:                baseCfg.OwnerURN,
		Platform:               baseCfg.Platform,
		TopicID:                baseCfg.TopicID,
		SubscriptionID:         baseCfg.SubscriptionID,
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		WakeTopicID:            baseCfg.WakeTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
		SilentForegroundKey:    baseCfg.SilentForegroundKey,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		Backend: BackendConfig{
			Workers:     baseCfg.Backend.Workers,
			MaxAttempts: baseCfg.Backend.MaxAttempts,
			RatePerSec:  baseCfg.Backend.RatePerSec,
			Burst:       baseCfg.Backend.Burst,
		},
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"dedup_ttl", baseCfg.DedupTTL, &cfg.DedupTTL},
		{"deadlines.user_notification", baseCfg.Deadlines.UserNotification, &cfg.Deadlines.UserNotification},
		{"deadlines.silent_wake", baseCfg.Deadlines.SilentWake, &cfg.Deadlines.SilentWake},
		{"backend.initial_backoff", baseCfg.Backend.InitialBackoff, &cfg.Backend.InitialBackoff},
		{"backend.max_backoff", baseCfg.Backend.MaxBackoff, &cfg.Backend.MaxBackoff},
		{"backend.op_timeout", baseCfg.Backend.OpTimeout, &cfg.Backend.OpTimeout},
		{"redis.cache_ttl", baseCfg.RedisConfig.CacheTTL, &cfg.Redis.CacheTTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid duration %q: %w", d.key, d.raw, err)
		}
		*d.dst = parsed
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
	)

	return cfg, nil
}
