// Package config is the root configuration for convoengine. Non-secret
// settings load from a JSON5 file; every secret is read from the
// environment only and is never marshaled back out.
package config

import (
	"time"
)

// Config is the root configuration for the convoengine gateway process.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Campaign  CampaignConfig  `json:"campaign"`
	Lead      LeadConfig      `json:"lead"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Database  DatabaseConfig  `json:"database,omitempty"`

	// Secrets: always empty in the JSON file, populated from env by Load.
	ChannelAPIToken       string `json:"-"`
	ChannelAPIURL         string `json:"-"`
	ChannelSelfNumber     string `json:"-"`
	LLMAPIKey             string `json:"-"`
	APIKeyEncryptionKey   string `json:"-"`
	JWTSecret             string `json:"-"`
	CalendlyDiscoveryURL  string `json:"-"`
}

// GatewayConfig configures the HTTP webhook server.
type GatewayConfig struct {
	Host              string `json:"host"`
	Port              int    `json:"port"`
	InboundQueueSize  int    `json:"inbound_queue_size"`   // §5: bounded in-process queue, size >= 1024
	ProcessingWorkers int    `json:"processing_workers"`
	WebConcurrency    int    `json:"-"` // from WEB_CONCURRENCY; >1 disables the in-process scheduler
}

// RateLimitConfig configures the per-tenant token bucket (§4.1).
type RateLimitConfig struct {
	MessagesPerMinute int `json:"messages_per_minute"`
	MessagesPerHour   int `json:"messages_per_hour"`
}

// SchedulerConfig configures C12's two cadences and whether it runs at all.
type SchedulerConfig struct {
	Enabled           bool          `json:"-"` // from SCHEDULER_ENABLED
	ScheduledInterval time.Duration `json:"scheduled_interval"`
	RescueInterval    time.Duration `json:"rescue_interval"`
	RescueStages      []RescueStage `json:"rescue_stages"`
	RescueAfter       time.Duration `json:"rescue_after"` // bot re-enablement threshold (default 60m)
}

// RescueStage is one progressive-update cadence point (§4.12).
type RescueStage struct {
	After   time.Duration `json:"after"`
	Tag     string        `json:"tag"`
	Message string        `json:"message"`
}

// CampaignConfig tunes the bulk/campaign engine (§4.13).
type CampaignConfig struct {
	SendDelay time.Duration `json:"send_delay"`
}

// LeadConfig tunes the lead qualifier's discovery-call cooldown (§4.8).
type LeadConfig struct {
	DiscoveryCallCooldown time.Duration `json:"discovery_call_cooldown"`
}

// TelemetryConfig configures OpenTelemetry trace export for the RAG and
// handover pipelines. When disabled, spans are created against a no-op
// tracer and cost nothing.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`     // OTLP/HTTP endpoint, e.g. "localhost:4318"
	Insecure    bool   `json:"insecure,omitempty"`      // skip TLS, for local collectors
	ServiceName string `json:"service_name,omitempty"` // default "convoengine-gateway"
}

// DatabaseConfig configures Postgres. DSN is never read from the JSON file.
type DatabaseConfig struct {
	DSN string `json:"-"` // from DB_URL
	Key string `json:"-"` // from DB_KEY, passed through to the driver if required
}

// Default returns a Config with the literal defaults spec.md states.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			InboundQueueSize:  1024,
			ProcessingWorkers: 8,
		},
		RateLimit: RateLimitConfig{
			MessagesPerMinute: 20,
			MessagesPerHour:   600,
		},
		Scheduler: SchedulerConfig{
			Enabled:           true,
			ScheduledInterval: 60 * time.Second,
			RescueInterval:    2 * time.Minute,
			RescueAfter:       60 * time.Minute,
			RescueStages: []RescueStage{
				{After: 10 * time.Minute, Tag: "10m", Message: "Thanks for your patience — a member of our team will be with you shortly."},
				{After: 20 * time.Minute, Tag: "20m", Message: "Still working on connecting you with a team member — we haven't forgotten about you."},
				{After: 30 * time.Minute, Tag: "30m", Message: "We're sorry for the wait. Someone from our team will reach out as soon as they're available."},
				{After: 45 * time.Minute, Tag: "45m", Message: "Thanks for bearing with us — we're making sure the right person can help with your request."},
			},
		},
		Campaign: CampaignConfig{
			SendDelay: 10 * time.Second,
		},
		Lead: LeadConfig{
			DiscoveryCallCooldown: 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "convoengine-gateway",
		},
	}
}
