package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-delivery/pushagent/config"
	"gopkg.in/yaml.v3"
)

func TestNewConfigFromYaml(t *testing.T) {
	logger := newTestLogger()

	t.Run("Success - maps all fields correctly", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			ProjectID:              "yaml-project",
			ListenAddr:             ":9000",
			OwnerURN:               "urn:test:user:yaml",
			Platform:               "apns",
			TopicID:                "yaml-topic",
			SubscriptionID:         "yaml-subscription",
			SubscriptionDLQTopicID: "yaml-dlq",
			WakeTopicID:            "yaml-wakes",
			NumPipelineWorkers:     5,
			DedupTTL:               "30m",
			Deadlines: config.YamlDeadlinesConfig{
				UserNotification: "25s",
				SilentWake:       "4s",
			},
			Backend: config.YamlBackendConfig{
				Workers:        3,
				MaxAttempts:    7,
				InitialBackoff: "100ms",
				RatePerSec:     2.5,
			},
			CorsConfig: config.YamlCorsConfig{
				AllowedOrigins: []string{"http://yaml.com"},
				Role:           "editor",
			},
			RedisConfig: config.YamlRedisConfig{
				Addr:     "redis:6379",
				Enabled:  true,
				CacheTTL: "1h",
			},
		}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)

		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "yaml-project", cfg.ProjectID)
		assert.Equal(t, ":9000", cfg.ListenAddr)
		assert.Equal(t, "urn:test:user:yaml", cfg.OwnerID)
		assert.Equal(t, "yaml-topic", cfg.TopicID)
		assert.Equal(t, "yaml-subscription", cfg.SubscriptionID)
		assert.Equal(t, "yaml-dlq", cfg.SubscriptionDLQTopicID)
		assert.Equal(t, "yaml-wakes", cfg.WakeTopicID)
		assert.Equal(t, 5, cfg.NumPipelineWorkers)
		assert.Equal(t, 30*time.Minute, cfg.DedupTTL)
		assert.Equal(t, 25*time.Second, cfg.Deadlines.UserNotification)
		assert.Equal(t, 4*time.Second, cfg.Deadlines.SilentWake)
		assert.Equal(t, 3, cfg.Backend.Workers)
		assert.Equal(t, 7, cfg.Backend.MaxAttempts)
		assert.Equal(t, 100*time.Millisecond, cfg.Backend.InitialBackoff)
		assert.Equal(t, 2.5, cfg.Backend.RatePerSec)
		assert.Equal(t, time.Hour, cfg.Redis.CacheTTL)

		assert.Equal(t, []string{"http://yaml.com"}, cfg.CorsConfig.AllowedOrigins)
		assert.Equal(t, middleware.CorsRoleEditor, cfg.CorsConfig.Role)

		assert.NotNil(t, cfg.PubsubConsumerConfig)
	})

	t.Run("Success - Handles missing optional fields gracefully", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			ProjectID:      "minimal-project",
			SubscriptionID: "minimal-sub",
		}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)

		require.NoError(t, err)
		assert.Equal(t, "minimal-project", cfg.ProjectID)
		assert.Equal(t, 0, cfg.NumPipelineWorkers)
		assert.Empty(t, cfg.ListenAddr)
		assert.Zero(t, cfg.Deadlines.SilentWake)
	})

	t.Run("Failure - invalid duration", func(t *testing.T) {
		_, err := config.NewConfigFromYaml(&config.YamlConfig{DedupTTL: "forever"}, logger)
		assert.ErrorContains(t, err, "dedup_ttl")
	})

	t.Run("Success - parses raw yaml", func(t *testing.T) {
		raw := []byte(`
project_id: local-project
owner_urn: urn:test:user:local
subscription_id: push-envelopes-sub
deadlines:
  silent_wake: 5s
redis:
  enabled: false
`)
		var yamlCfg config.YamlConfig
		require.NoError(t, yaml.Unmarshal(raw, &yamlCfg))

		cfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
		require.NoError(t, err)
		assert.Equal(t, "urn:test:user:local", cfg.OwnerID)
		assert.Equal(t, 5*time.Second, cfg.Deadlines.SilentWake)
	})
}
