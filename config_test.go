package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 120.0, cfg.Flight.MaxSpeed)
	assert.InDelta(t, mgl64.DegToRad(45), cfg.Flight.PitchLimit, 1e-12)
	assert.InDelta(t, mgl64.DegToRad(60), cfg.Flight.BankLimit, 1e-12)
	assert.InDelta(t, mgl64.DegToRad(-90), cfg.Turret.RestRoll, 1e-12)
	assert.InDelta(t, mgl64.DegToRad(60), cfg.Turret.YawRate, 1e-12)
	assert.Equal(t, 0.25, cfg.Projectile.ShotCooldown)
	assert.Equal(t, 200.0, cfg.Projectile.ProjectileSpeed)
	assert.Equal(t, Gravity, cfg.Projectile.Gravity)
	assert.Equal(t, []float64{-191.9, 98.4, 293.4}, cfg.Scene.Spawn)
	assert.Equal(t, 2*time.Minute, cfg.Server.IdleTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfigWithoutFile(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, "combat.yaml", `
flight:
  maxSpeed: 150
  bankLimitDeg: 30
turret:
  maxPitchDeg: 20
scene:
  tickRate: 30
  broadcastRate: 15
  spawn: [1, 2, 3]
server:
  idleTimeout: 30s
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 150.0, cfg.Flight.MaxSpeed)
	assert.InDelta(t, mgl64.DegToRad(30), cfg.Flight.BankLimit, 1e-12)
	assert.InDelta(t, mgl64.DegToRad(20), cfg.Turret.MaxPitch, 1e-12)
	assert.Equal(t, 30, cfg.Scene.TickRate)
	assert.Equal(t, []float64{1, 2, 3}, cfg.Scene.Spawn)
	assert.Equal(t, 30*time.Second, cfg.Server.IdleTimeout)
	// Untouched keys keep their defaults
	assert.Equal(t, 0.015, cfg.Flight.Drag)
}

func TestLoadConfigRadianKeys(t *testing.T) {
	path := writeConfig(t, "radians.yaml", `
flight:
  pitchLimit: 0.3
  bankLimitDeg: 30
turret:
  maxYaw: 0.5
  maxYawDeg: 10
  yawRate: 0.1
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 0.3, cfg.Flight.PitchLimit)
	assert.Equal(t, 0.5, cfg.Turret.MaxYaw, "radian key wins over its degree twin")
	assert.Equal(t, 0.1, cfg.Turret.YawRate)
	assert.InDelta(t, mgl64.DegToRad(30), cfg.Flight.BankLimit, 1e-12)
	assert.InDelta(t, mgl64.DegToRad(30), cfg.Turret.PitchRate, 1e-12)
	assert.InDelta(t, mgl64.DegToRad(-90), cfg.Turret.MinYaw, 1e-12)
}

func TestLoadConfigRadianEnv(t *testing.T) {
	t.Setenv("FLIGHTCOMBAT_TURRET_MINPITCH", "-0.25")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, -0.25, cfg.Turret.MinPitch)
}

func TestLoadConfigMetrics(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "stdout", cfg.Metrics.Exporter)
	assert.Equal(t, 30*time.Second, cfg.Metrics.Interval)

	path := writeConfig(t, "metrics.yaml", "metrics:\n  enabled: true\n  interval: 5s\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Metrics.Interval)

	_, err = LoadConfig(writeConfig(t, "bad.yaml", "metrics:\n  enabled: true\n  interval: 0s\n"))
	assert.ErrorIs(t, err, ErrBadConfig)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("FLIGHTCOMBAT_FLIGHT_MAXSPEED", "99")
	t.Setenv("FLIGHTCOMBAT_LOGLEVEL", "debug")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 99.0, cfg.Flight.MaxSpeed)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigRejectsBadScene(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"short spawn", "scene:\n  spawn: [1, 2]\n"},
		{"short island", "scene:\n  islandMax: [1]\n"},
		{"broadcast faster than tick", "scene:\n  tickRate: 10\n  broadcastRate: 20\n"},
		{"zero tick rate", "scene:\n  tickRate: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, "bad.yaml", tt.body))
			assert.ErrorIs(t, err, ErrBadConfig)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBadConfig)
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger("warn", "json", &buf)

	log.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	log.Warn().Str("sid", "abc").Msg("kept")
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "abc", line["sid"])
	assert.Equal(t, "kept", line["message"])
	assert.Contains(t, line, "time")
}

func TestNewLoggerConsole(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger("bogus", "console", &buf)

	log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len(), "unknown levels fall back to info")

	log.Info().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}
