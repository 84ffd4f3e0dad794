package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds server configuration
type Config struct {
	// Server settings
	Port int
	Host string

	// Storage settings
	DatabasePath string

	// Rule settings
	RulesDirectory string
	SchemaPath     string
	Organization   string

	// Scheduler settings
	PassInterval  time.Duration
	SweepInterval time.Duration
	Parallelism   int

	// Outreach settings
	DialerType    string // "voice" or "log"
	VoiceURL      string
	VoiceAPIKey   string
	CallbackURL   string

	// Metrics feed settings (optional)
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Operational settings
	GracefulShutdownTimeout time.Duration
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}

	if c.RulesDirectory == "" {
		return fmt.Errorf("rules directory is required")
	}

	if c.Organization == "" {
		return fmt.Errorf("organization is required")
	}

	if c.DialerType != "voice" && c.DialerType != "log" {
		return fmt.Errorf("dialer type must be 'voice' or 'log'")
	}

	if c.DialerType == "voice" && c.VoiceURL == "" {
		return fmt.Errorf("voice provider URL required when dialer type is 'voice'")
	}

	if c.PassInterval <= 0 {
		return fmt.Errorf("pass interval must be positive")
	}

	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}

	if c.KafkaTopic != "" && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("kafka brokers required when a topic is configured")
	}

	return nil
}

// KafkaEnabled reports whether the metrics feed consumer should run.
func (c *Config) KafkaEnabled() bool {
	return c.KafkaTopic != "" && len(c.KafkaBrokers) > 0
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Port:                    8080,
		Host:                    "0.0.0.0",
		DatabasePath:            "storepulse.db",
		SchemaPath:              "schemas/escalation_rule_v1.json",
		Organization:            envOr("STOREPULSE_ORG", ""),
		PassInterval:            5 * time.Minute,
		SweepInterval:           15 * time.Minute,
		Parallelism:             8,
		DialerType:              "log",
		VoiceURL:                envOr("VOICE_PROVIDER_URL", ""),
		VoiceAPIKey:             envOr("VOICE_PROVIDER_API_KEY", ""),
		CallbackURL:             envOr("STOREPULSE_CALLBACK_URL", ""),
		KafkaBrokers:            splitList(envOr("KAFKA_BROKERS", "")),
		KafkaTopic:              envOr("KAFKA_TOPIC", ""),
		KafkaGroupID:            envOr("KAFKA_GROUP_ID", "storepulse-engine"),
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
