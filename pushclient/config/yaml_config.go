package config

import (
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-client/pkg/push"
)

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ServerHost         string          `yaml:"server_host"`
	HTTPProtocol       string          `yaml:"http_protocol"`
	BridgeType         string          `yaml:"bridge_type"`
	SenderID           string          `yaml:"sender_id"`
	InstallationID     string          `yaml:"installation_id"`
	ProjectID          string          `yaml:"project_id"`
	MaxRetries         uint64          `yaml:"max_retries"`
	RedisConfig        YamlRedisConfig `yaml:"redis"`
	SubscriptionID     string          `yaml:"subscription_id"`
	NumPipelineWorkers int             `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ServerHost:     baseCfg.ServerHost,
		HTTPProtocol:   baseCfg.HTTPProtocol,
		BridgeType:     push.BridgeType(baseCfg.BridgeType),
		SenderID:       baseCfg.SenderID,
		InstallationID: baseCfg.InstallationID,
		ProjectID:      baseCfg.ProjectID,
		MaxRetries:     baseCfg.MaxRetries,
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		SubscriptionID:     baseCfg.SubscriptionID,
		NumPipelineWorkers: baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"server_host", cfg.ServerHost,
		"bridge_type", cfg.BridgeType,
		"sender_id", cfg.SenderID,
	)

	return cfg, nil
}
