/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

// Package config loads controlstore configuration from a YAML file merged
// with environment variables. A .env file is honored when present.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DeployEnv identifies the deployment environment. Its suffix participates in
// deterministic usage-key derivation, so values must stay stable.
type DeployEnv string

const (
	DeployEnvProduction DeployEnv = "production"
	DeployEnvStaging    DeployEnv = "staging"
	DeployEnvTest       DeployEnv = "test"
)

// Suffix returns the suffix appended to derived usage keys. Production has
// none so that existing production keys keep their historical format.
func (e DeployEnv) Suffix() string {
	switch e {
	case DeployEnvProduction, "":
		return ""
	default:
		return "-" + string(e)
	}
}

// Config holds settings shared by all stores.
type Config struct {
	// TableName is the single DynamoDB table backing all stores.
	TableName string `yaml:"tableName"`
	// Region is the AWS region; falls back to AWS_REGION.
	Region string `yaml:"region"`
	// DeployEnv selects the deployment environment suffix.
	DeployEnv DeployEnv `yaml:"deployEnv"`
	// AuthCacheTTL bounds how long API key lookups may be served from cache.
	AuthCacheTTL time.Duration `yaml:"authCacheTTL"`
	// TopicsCacheTTL bounds how long topic configuration may be served from cache.
	TopicsCacheTTL time.Duration `yaml:"topicsCacheTTL"`
}

const (
	defaultAuthCacheTTL   = time.Minute
	defaultTopicsCacheTTL = time.Minute
)

// Load reads configuration from the given YAML file path, applying
// environment variable overrides. An empty path loads from environment only.
func Load(path string) (*Config, error) {
	// Optional .env for local development, same as integration test setup.
	_ = godotenv.Load()

	cfg := &Config{
		AuthCacheTTL:   defaultAuthCacheTTL,
		TopicsCacheTTL: defaultTopicsCacheTTL,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
		}
	}

	if v := os.Getenv("CONTROLSTORE_TABLE_NAME"); v != "" {
		cfg.TableName = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" && cfg.Region == "" {
		cfg.Region = v
	}
	if v := os.Getenv("CONTROLSTORE_DEPLOY_ENV"); v != "" {
		cfg.DeployEnv = DeployEnv(v)
	}

	if cfg.TableName == "" {
		return nil, fmt.Errorf("table name not configured: set tableName or CONTROLSTORE_TABLE_NAME")
	}
	return cfg, nil
}
