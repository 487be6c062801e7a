// Package config loads the fabric's runtime configuration: environment
// variables first, optionally overlaid by a YAML file named in CONFIG_FILE.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the fabricd binary needs at startup.
type Config struct {
	Port     string
	LogLevel string

	// Storage. postgres:// or sqlite:// URL.
	DatabaseURL string

	// Credential resolution.
	APIKeys   map[string]string // API key -> tenant_id
	JWTSecret string

	// Emission client (coordinator and planner -> ledger).
	LedgerURL        string
	LedgerAPIKey     string
	EmissionTimeout  time.Duration
	QueueCapacity    int
	DrainInterval    time.Duration
	DrainBatch       int
	MaxDrainRetries  int

	// Lease policy.
	LeaseDuration       time.Duration
	ReaperInterval      time.Duration
	EscalationRecipient string

	// Rate limiting.
	RateRPM       int
	RateBurst     int
	RedisAddr     string // empty: in-memory limiter store
	RedisPassword string
	RedisDB       int

	// Observability.
	ObservabilityEnabled bool
	OTLPEndpoint         string
	ServiceName          string
}

// Load reads configuration from the environment, applying defaults, then
// overlays the YAML file named in CONFIG_FILE when set.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getenv("PORT", "8080"),
		LogLevel:    getenv("LOG_LEVEL", "INFO"),
		DatabaseURL: getenv("DATABASE_URL", "postgres://fabric@localhost:5432/fabric?sslmode=disable"),

		APIKeys:   parseAPIKeys(getenv("API_KEYS", "dev-key-pstryder:pstryder")),
		JWTSecret: os.Getenv("JWT_SECRET"),

		LedgerURL:       getenv("LEDGER_URL", "http://localhost:8080"),
		LedgerAPIKey:    getenv("LEDGER_API_KEY", "dev-key-pstryder"),
		EmissionTimeout: getduration("EMISSION_TIMEOUT_SECONDS", 10*time.Second),
		QueueCapacity:   getint("EMISSION_QUEUE_CAPACITY", 1000),
		DrainInterval:   getduration("EMISSION_DRAIN_INTERVAL_SECONDS", 60*time.Second),
		DrainBatch:      getint("EMISSION_DRAIN_BATCH", 10),
		MaxDrainRetries: getint("EMISSION_MAX_DRAIN_RETRIES", 10),

		LeaseDuration:       getduration("LEASE_DURATION_SECONDS", 900*time.Second),
		ReaperInterval:      getduration("REAPER_INTERVAL_SECONDS", 30*time.Second),
		EscalationRecipient: getenv("ESCALATION_RECIPIENT", "delegate"),

		RateRPM:       getint("RATE_LIMIT_RPM", 600),
		RateBurst:     getint("RATE_LIMIT_BURST", 50),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getint("REDIS_DB", 0),

		ObservabilityEnabled: os.Getenv("OTEL_ENABLED") == "true",
		OTLPEndpoint:         getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		ServiceName:          getenv("SERVICE_NAME", "fabricd"),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyOverlay(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// parseAPIKeys parses "key:tenant,key:tenant" into a lookup map.
func parseAPIKeys(raw string) map[string]string {
	keys := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, tenant, ok := strings.Cut(pair, ":")
		if !ok || key == "" || tenant == "" {
			continue
		}
		keys[key] = tenant
	}
	return keys
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getduration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}
