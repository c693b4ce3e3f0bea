package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PROCTOR_COUNTING_TYPES", "")
	t.Setenv("ALLOWED_ORIGINS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 3, cfg.Proctor.ViolationThreshold)
	assert.Nil(t, cfg.Proctor.CountingTypes)
	assert.Nil(t, cfg.AllowedOrigins)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, 15*time.Second, cfg.DeadlineSweepInterval)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("PROCTOR_VIOLATION_THRESHOLD", "5")
	t.Setenv("PROCTOR_COUNTING_TYPES", " tab_hidden , ,exited_fullscreen")
	t.Setenv("PROCTOR_NOSLEEP", "false")
	t.Setenv("ALLOWED_ORIGINS", "https://exam.example.com, http://localhost:5173")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, []string{"tab_hidden", "exited_fullscreen"}, cfg.Proctor.CountingTypes)
	assert.Equal(t, []string{"https://exam.example.com", "http://localhost:5173"}, cfg.AllowedOrigins)

	policy := cfg.Proctor.Policy()
	assert.Equal(t, 5, policy.ViolationThreshold)
	assert.False(t, policy.NoSleep)
	assert.True(t, policy.Counts("tab_hidden"))
	assert.False(t, policy.Counts("window_blur"))
}

func TestLoadRejectsNonPositiveThreshold(t *testing.T) {
	t.Setenv("PROCTOR_VIOLATION_THRESHOLD", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROCTOR_VIOLATION_THRESHOLD")
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Setenv("REQUEST_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")

	_, err := Load()
	require.Error(t, err)
}
