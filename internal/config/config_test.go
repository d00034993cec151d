package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"course-progression-service/internal/progression"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestShippedConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, progression.DefaultPolicy(), cfg.Policy())
	assert.Equal(t, 5, cfg.MaxRetries())
	assert.True(t, cfg.LegacyBootstrap())
	assert.Equal(t, "progression:audit", cfg.Audit.Stream)
	require.Len(t, cfg.Enrollment.Seed, 1)
	assert.Equal(t, "demo-course", cfg.Enrollment.Seed[0].Course)
}

func TestPolicyOverrides(t *testing.T) {
	path := writeConfig(t, `
progression:
  cooldown: 2h
  baseAttempts: 3
  violationThreshold: 0
  completionRatio: 0.8
  attemptGrace: not-a-duration
  maxRetries: 9
review:
  legacyBootstrap: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	p := cfg.Policy()
	assert.Equal(t, 2*time.Hour, p.Cooldown)
	assert.Equal(t, 3, p.BaseAttempts)
	assert.Equal(t, 0, p.ViolationThreshold, "explicit zero disables locking")
	assert.Equal(t, 0.8, p.CompletionRatio)
	assert.Equal(t, progression.DefaultPolicy().AttemptGrace, p.AttemptGrace)
	assert.Equal(t, 9, cfg.MaxRetries())
	assert.False(t, cfg.LegacyBootstrap())
}

func TestPolicyIgnoresOutOfRangeRatio(t *testing.T) {
	cfg, err := Load(writeConfig(t, "progression:\n  completionRatio: 1.5\n"))
	require.NoError(t, err)
	assert.Equal(t, progression.DefaultPolicy().CompletionRatio, cfg.Policy().CompletionRatio)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [unterminated"))
	assert.Error(t, err)
}

func TestTTLDuration(t *testing.T) {
	assert.Equal(t, time.Minute, TTLDuration("", time.Minute))
	assert.Equal(t, 90*time.Second, TTLDuration("90s", time.Minute))
	assert.Equal(t, time.Minute, TTLDuration("soon", time.Minute))
}
