package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/fabric/pkg/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "DATABASE_URL", "API_KEYS", "JWT_SECRET",
		"LEDGER_URL", "LEDGER_API_KEY", "LEASE_DURATION_SECONDS",
		"REAPER_INTERVAL_SECONDS", "ESCALATION_RECIPIENT",
		"RATE_LIMIT_RPM", "RATE_LIMIT_BURST", "REDIS_ADDR", "CONFIG_FILE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Contains(t, cfg.DatabaseURL, "localhost")
	assert.Equal(t, 15*time.Minute, cfg.LeaseDuration)
	assert.Equal(t, 30*time.Second, cfg.ReaperInterval)
	assert.Equal(t, "delegate", cfg.EscalationRecipient)
	assert.Equal(t, 1000, cfg.QueueCapacity)
	assert.Equal(t, 60*time.Second, cfg.DrainInterval)
	assert.Equal(t, "pstryder", cfg.APIKeys["dev-key-pstryder"])
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LEASE_DURATION_SECONDS", "120")
	t.Setenv("ESCALATION_RECIPIENT", "oncall.human")
	t.Setenv("API_KEYS", "key-a:tenant-a,key-b:tenant-b")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 2*time.Minute, cfg.LeaseDuration)
	assert.Equal(t, "oncall.human", cfg.EscalationRecipient)
	assert.Equal(t, "tenant-a", cfg.APIKeys["key-a"])
	assert.Equal(t, "tenant-b", cfg.APIKeys["key-b"])
}

func TestLoad_MalformedAPIKeysSkipped(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_KEYS", "key-a:tenant-a, ,bare-key,:no-key,key-b:tenant-b")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Len(t, cfg.APIKeys, 2)
	assert.Equal(t, "tenant-a", cfg.APIKeys["key-a"])
	assert.Equal(t, "tenant-b", cfg.APIKeys["key-b"])
}

func TestLoad_BadDurationFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("LEASE_DURATION_SECONDS", "not-a-number")
	t.Setenv("REAPER_INTERVAL_SECONDS", "-5")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.LeaseDuration)
	assert.Equal(t, 30*time.Second, cfg.ReaperInterval)
}

func TestLoad_OverlayTakesPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")

	path := filepath.Join(t.TempDir(), "fabric.yaml")
	overlay := `
port: "7070"
escalation_recipient: triage.bot
lease_duration_seconds: 60
api_keys:
  overlay-key: overlay-tenant
`
	require.NoError(t, os.WriteFile(path, []byte(overlay), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "triage.bot", cfg.EscalationRecipient)
	assert.Equal(t, time.Minute, cfg.LeaseDuration)
	assert.Equal(t, "overlay-tenant", cfg.APIKeys["overlay-key"])
	// Fields absent from the overlay keep their env/default values.
	assert.Equal(t, 30*time.Second, cfg.ReaperInterval)
}

func TestLoad_MissingOverlayFileErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_MalformedOverlayErrors(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [not, a, string"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	_, err := config.Load()
	assert.Error(t, err)
}
