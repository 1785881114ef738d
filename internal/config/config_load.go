package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Load reads the JSON5 config file at path (if it exists) and overlays
// environment-sourced secrets and tunables on top; secrets are never read
// from the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.ChannelAPIToken = os.Getenv("CHANNEL_API_TOKEN")
	if v := os.Getenv("CHANNEL_API_URL"); v != "" {
		cfg.ChannelAPIURL = v
	}
	cfg.ChannelSelfNumber = os.Getenv("CHANNEL_SELF_NUMBER")
	cfg.LLMAPIKey = os.Getenv("LLM_API_KEY")
	cfg.Database.DSN = os.Getenv("DB_URL")
	cfg.Database.Key = os.Getenv("DB_KEY")
	cfg.APIKeyEncryptionKey = os.Getenv("API_KEY_ENCRYPTION_KEY")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.CalendlyDiscoveryURL = os.Getenv("CALENDLY_DISCOVERY_CALL_URL")

	if v := os.Getenv("SCHEDULER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Scheduler.Enabled = b
		}
	}
	if v := os.Getenv("WEB_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.WebConcurrency = n
			if n > 1 {
				// Multiple replicas: disable the in-process scheduler to
				// avoid duplicate fires (spec.md §6, §4.12 concurrency note).
				cfg.Scheduler.Enabled = false
			}
		}
	}
	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.MessagesPerMinute = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_PER_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.MessagesPerHour = n
		}
	}
	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Telemetry.Enabled = b
		}
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
	}
}
