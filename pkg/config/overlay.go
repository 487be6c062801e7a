package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Overlay is the YAML file shape. Every field is optional; zero values
// leave the environment-derived setting untouched.
type Overlay struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"log_level"`
	DatabaseURL string `yaml:"database_url"`

	APIKeys   map[string]string `yaml:"api_keys"`
	JWTSecret string            `yaml:"jwt_secret"`

	LedgerURL    string `yaml:"ledger_url"`
	LedgerAPIKey string `yaml:"ledger_api_key"`

	LeaseDurationSeconds  int    `yaml:"lease_duration_seconds"`
	ReaperIntervalSeconds int    `yaml:"reaper_interval_seconds"`
	EscalationRecipient   string `yaml:"escalation_recipient"`

	RateRPM   int    `yaml:"rate_limit_rpm"`
	RateBurst int    `yaml:"rate_limit_burst"`
	RedisAddr string `yaml:"redis_addr"`
}

// applyOverlay merges the YAML file at path onto the config.
func (c *Config) applyOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var o Overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if o.Port != "" {
		c.Port = o.Port
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.DatabaseURL != "" {
		c.DatabaseURL = o.DatabaseURL
	}
	if len(o.APIKeys) > 0 {
		c.APIKeys = o.APIKeys
	}
	if o.JWTSecret != "" {
		c.JWTSecret = o.JWTSecret
	}
	if o.LedgerURL != "" {
		c.LedgerURL = o.LedgerURL
	}
	if o.LedgerAPIKey != "" {
		c.LedgerAPIKey = o.LedgerAPIKey
	}
	if o.LeaseDurationSeconds > 0 {
		c.LeaseDuration = time.Duration(o.LeaseDurationSeconds) * time.Second
	}
	if o.ReaperIntervalSeconds > 0 {
		c.ReaperInterval = time.Duration(o.ReaperIntervalSeconds) * time.Second
	}
	if o.EscalationRecipient != "" {
		c.EscalationRecipient = o.EscalationRecipient
	}
	if o.RateRPM > 0 {
		c.RateRPM = o.RateRPM
	}
	if o.RateBurst > 0 {
		c.RateBurst = o.RateBurst
	}
	if o.RedisAddr != "" {
		c.RedisAddr = o.RedisAddr
	}
	return nil
}
