package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultEnvelope(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 50.0, cfg.Policy.ScooperActiveMaxPx)
	assert.Equal(t, 100.0, cfg.Policy.ScooperNearbyMaxPx)
	assert.True(t, cfg.Policy.AllowNearbyScooperFallback)
	assert.Equal(t, 30, cfg.Policy.WorkSessionCooldownSec)
	assert.Equal(t, 30, cfg.Policy.SequenceStalenessSec)
	assert.Equal(t, 70.0, cfg.Policy.ScooperUsageRequiredPercent)
	assert.Equal(t, 150.0, cfg.Policy.HandWorkerAssocMaxPx)
	assert.False(t, cfg.Policy.RichModeEnabled)

	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	data := `
server:
  port: "9000"
policy:
  scooper_active_max_px: 40
  scooper_nearby_max_px: 120
events:
  backend: redis
  redis_addr: redis:6379
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 40.0, cfg.Policy.ScooperActiveMaxPx)
	assert.Equal(t, 120.0, cfg.Policy.ScooperNearbyMaxPx)
	assert.Equal(t, "redis", cfg.Events.Backend)
	assert.Equal(t, "redis:6379", cfg.Events.RedisAddr)

	// Values absent from the file keep their defaults.
	assert.Equal(t, 30, cfg.Policy.WorkSessionCooldownSec)
	assert.Equal(t, "http://localhost:8002", cfg.Services.DetectorURL)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCOOPER_ACTIVE_MAX_PX", "35")
	t.Setenv("WORK_SESSION_COOLDOWN_SEC", "45")
	t.Setenv("RICH_MODE_ENABLED", "true")
	t.Setenv("DETECTOR_URL", "http://detector:8002")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 35.0, cfg.Policy.ScooperActiveMaxPx)
	assert.Equal(t, 45, cfg.Policy.WorkSessionCooldownSec)
	assert.True(t, cfg.Policy.RichModeEnabled)
	assert.Equal(t, "http://detector:8002", cfg.Services.DetectorURL)
	assert.Equal(t, 45*time.Second, cfg.WorkSessionCooldown())
}

func TestValidateRejectsBadEnvelope(t *testing.T) {
	cfg := Default()
	cfg.Policy.ScooperNearbyMaxPx = 10 // below active threshold
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Policy.ScooperUsageRequiredPercent = 140
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Events.Backend = "kafka"
	assert.Error(t, cfg.Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	assert.Error(t, err)
}
