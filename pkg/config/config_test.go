package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ws://localhost:8000", cfg.Signaling.BaseURL)
	assert.Equal(t, uint32(48000), cfg.Media.SampleRate)
	assert.Equal(t, 20*time.Millisecond, cfg.Media.FrameDuration)
	assert.Equal(t, ":9190", cfg.Ops.Address)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Signaling.BaseURL, cfg.Signaling.BaseURL)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
signaling:
  base_url: wss://calls.example.com
  ping_interval: 15s
presence:
  endpoint: https://api.example.com/users/me/activity
webrtc:
  ice_servers:
    - urls: ["stun:stun.example.com:3478"]
  port_range:
    min: 50000
    max: 51000
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://calls.example.com", cfg.Signaling.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Signaling.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.Signaling.PongTimeout, "unset fields keep defaults")
	assert.Equal(t, "https://api.example.com/users/me/activity", cfg.Presence.Endpoint)
	require.Len(t, cfg.WebRTC.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.example.com:3478"}, cfg.WebRTC.ICEServers[0].URLs)
	assert.Equal(t, uint16(50000), cfg.WebRTC.PortRange.Min)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
signaling:
  base_url: ""
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGENTDESK_SIGNALING_URL", "wss://override.example.com")
	t.Setenv("AGENTDESK_LOG_LEVEL", "debug")
	t.Setenv("AGENTDESK_JWT_SECRET", "env-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "wss://override.example.com", cfg.Signaling.BaseURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
}

func TestValidateCatchesBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"empty signaling url", func(cfg *Config) { cfg.Signaling.BaseURL = "" }},
		{"zero ping interval", func(cfg *Config) { cfg.Signaling.PingInterval = 0 }},
		{"half port range", func(cfg *Config) { cfg.WebRTC.PortRange.Max = 51000 }},
		{"inverted port range", func(cfg *Config) {
			cfg.WebRTC.PortRange.Min = 51000
			cfg.WebRTC.PortRange.Max = 50000
		}},
		{"zero sample rate", func(cfg *Config) { cfg.Media.SampleRate = 0 }},
		{"empty presence endpoint", func(cfg *Config) { cfg.Presence.Endpoint = "" }},
		{"empty jwt secret", func(cfg *Config) { cfg.Auth.JWTSecret = "" }},
		{"empty ops address", func(cfg *Config) { cfg.Ops.Address = "" }},
		{"tracing enabled without url", func(cfg *Config) {
			cfg.Tracing.Enabled = true
			cfg.Tracing.JaegerURL = ""
		}},
		{"tracing sample rate out of range", func(cfg *Config) {
			cfg.Tracing.Enabled = true
			cfg.Tracing.SampleRate = 1.5
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
