package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	doc := `
gateway:
  host: gw.example.net
  port: 4002
  clientId: 7
session:
  heartbeatIdle: 20s
  writeRate: 10
bus:
  bufferSize: 64
`
	path := filepath.Join(t.TempDir(), "gatewire.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "gw.example.net", cfg.Gateway.Host)
	require.Equal(t, 4002, cfg.Gateway.Port)
	require.Equal(t, int64(7), cfg.Gateway.ClientID)
	require.Equal(t, 20*time.Second, cfg.Session.HeartbeatIdle)
	require.Equal(t, float64(10), cfg.Session.WriteRate)
	require.Equal(t, 64, cfg.Bus.BufferSize)
	// Untouched keys keep defaults.
	require.Equal(t, Default().Session.HandshakeTimeout, cfg.Session.HandshakeTimeout)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"empty host", func(s *Settings) { s.Gateway.Host = " " }},
		{"bad port", func(s *Settings) { s.Gateway.Port = 0 }},
		{"negative client id", func(s *Settings) { s.Gateway.ClientID = -1 }},
		{"zero heartbeat", func(s *Settings) { s.Session.HeartbeatIdle = 0 }},
		{"zero write rate", func(s *Settings) { s.Session.WriteRate = 0 }},
		{"zero max frame", func(s *Settings) { s.Session.MaxFrameSize = 0 }},
		{"backoff inversion", func(s *Settings) {
			s.Session.Backoff.InitialInterval = time.Minute
			s.Session.Backoff.MaxInterval = time.Second
		}},
		{"zero bus buffer", func(s *Settings) { s.Bus.BufferSize = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestGatewayAddr(t *testing.T) {
	g := GatewayConfig{Host: "localhost", Port: 4001}
	require.Equal(t, "localhost:4001", g.Addr())
}
