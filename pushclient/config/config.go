package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-client/pkg/push"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ServerHost   string
	HTTPProtocol string
	BridgeType   push.BridgeType
	SenderID     string
	BridgeToken  string

	InstallationID string
	ProjectID      string
	MaxRetries     uint64

	Redis RedisConfig

	SubscriptionID       string
	NumPipelineWorkers   int
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// BaseURL assembles the autopush endpoint from protocol and host.
func (c *Config) BaseURL() string {
	return fmt.Sprintf("%s://%s", c.HTTPProtocol, c.ServerHost)
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PUSH_SERVER_HOST"); val != "" {
		logger.Debug("Overriding config value", "key", "PUSH_SERVER_HOST", "source", "env")
		cfg.ServerHost = val
	}
	if val := os.Getenv("PUSH_HTTP_PROTOCOL"); val != "" {
		logger.Debug("Overriding config value", "key", "PUSH_HTTP_PROTOCOL", "source", "env")
		cfg.HTTPProtocol = val
	}
	if val := os.Getenv("BRIDGE_TYPE"); val != "" {
		logger.Debug("Overriding config value", "key", "BRIDGE_TYPE", "source", "env")
		cfg.BridgeType = push.BridgeType(val)
	}
	if val := os.Getenv("BRIDGE_TOKEN"); val != "" {
		logger.Debug("Overriding config value", "key", "BRIDGE_TOKEN", "source", "env")
		cfg.BridgeToken = val
	}
	if val := os.Getenv("SENDER_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SENDER_ID", "source", "env")
		cfg.SenderID = val
	}
	if val := os.Getenv("INSTALLATION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "INSTALLATION_ID", "source", "env")
		cfg.InstallationID = val
	}
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("MAX_RETRIES"); val != "" {
		if retries, err := strconv.ParseUint(val, 10, 64); err == nil {
			logger.Debug("Overriding config value", "key", "MAX_RETRIES", "source", "env")
			cfg.MaxRetries = retries
		}
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
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

	// 2. Final Validation
	if cfg.ServerHost == "" {
		return nil, fmt.Errorf("server_host is required (set via YAML or PUSH_SERVER_HOST env var)")
	}
	if cfg.SenderID == "" {
		return nil, fmt.Errorf("sender_id is required (set via YAML or SENDER_ID env var)")
	}
	if !cfg.BridgeType.Valid() {
		return nil, fmt.Errorf("unsupported bridge_type %q", cfg.BridgeType)
	}
	if cfg.HTTPProtocol == "" {
		cfg.HTTPProtocol = "https"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
