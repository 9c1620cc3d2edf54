// Package config centralises runtime configuration for the gatewire client.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GatewayConfig declares the broker gateway endpoint.
type GatewayConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID int64  `yaml:"clientId"`
}

// BackoffConfig governs the reconnect retry schedule.
type BackoffConfig struct {
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
	// MaxElapsed caps total retry time; zero retries forever.
	MaxElapsed time.Duration `yaml:"maxElapsed"`
}

// SessionConfig tunes the connection lifecycle and the socket write path.
type SessionConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	// HeartbeatIdle is the idle window without server traffic that triggers reconnect.
	HeartbeatIdle  time.Duration `yaml:"heartbeatIdle"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	// WriteRate is the maximum outbound requests per second.
	WriteRate    float64       `yaml:"writeRate"`
	WriteBurst   int           `yaml:"writeBurst"`
	MaxFrameSize int           `yaml:"maxFrameSize"`
	Backoff      BackoffConfig `yaml:"backoff"`
}

// UnmarshalYAML accepts Go duration strings ("500ms", "30s") for the timing
// fields. Absent keys keep the value already in place, so loading layers over
// defaults.
func (s *SessionConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		HandshakeTimeout string    `yaml:"handshakeTimeout"`
		HeartbeatIdle    string    `yaml:"heartbeatIdle"`
		RequestTimeout   string    `yaml:"requestTimeout"`
		WriteRate        *float64  `yaml:"writeRate"`
		WriteBurst       *int      `yaml:"writeBurst"`
		MaxFrameSize     *int      `yaml:"maxFrameSize"`
		Backoff          yaml.Node `yaml:"backoff"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if err := setDuration(&s.HandshakeTimeout, raw.HandshakeTimeout); err != nil {
		return fmt.Errorf("session handshakeTimeout: %w", err)
	}
	if err := setDuration(&s.HeartbeatIdle, raw.HeartbeatIdle); err != nil {
		return fmt.Errorf("session heartbeatIdle: %w", err)
	}
	if err := setDuration(&s.RequestTimeout, raw.RequestTimeout); err != nil {
		return fmt.Errorf("session requestTimeout: %w", err)
	}
	if raw.WriteRate != nil {
		s.WriteRate = *raw.WriteRate
	}
	if raw.WriteBurst != nil {
		s.WriteBurst = *raw.WriteBurst
	}
	if raw.MaxFrameSize != nil {
		s.MaxFrameSize = *raw.MaxFrameSize
	}
	if !raw.Backoff.IsZero() {
		if err := raw.Backoff.Decode(&s.Backoff); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalYAML accepts Go duration strings for the retry schedule.
func (b *BackoffConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		InitialInterval string `yaml:"initialInterval"`
		MaxInterval     string `yaml:"maxInterval"`
		MaxElapsed      string `yaml:"maxElapsed"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if err := setDuration(&b.InitialInterval, raw.InitialInterval); err != nil {
		return fmt.Errorf("backoff initialInterval: %w", err)
	}
	if err := setDuration(&b.MaxInterval, raw.MaxInterval); err != nil {
		return fmt.Errorf("backoff maxInterval: %w", err)
	}
	if err := setDuration(&b.MaxElapsed, raw.MaxElapsed); err != nil {
		return fmt.Errorf("backoff maxElapsed: %w", err)
	}
	return nil
}

func setDuration(dst *time.Duration, s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// BusConfig sets event bus buffer sizing.
type BusConfig struct {
	BufferSize    int `yaml:"bufferSize"`
	FanoutWorkers int `yaml:"fanoutWorkers"`
}

// TelemetryConfig configures OTLP exporters.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Settings contains the gatewire configuration tree loaded from defaults and overrides.
type Settings struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Session   SessionConfig   `yaml:"session"`
	Bus       BusConfig       `yaml:"bus"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Default returns the default gatewire configuration.
func Default() Settings {
	return Settings{
		Gateway: GatewayConfig{
			Host:     "127.0.0.1",
			Port:     4001,
			ClientID: 1,
		},
		Session: SessionConfig{
			HandshakeTimeout: 15 * time.Second,
			HeartbeatIdle:    60 * time.Second,
			RequestTimeout:   30 * time.Second,
			WriteRate:        45,
			WriteBurst:       45,
			MaxFrameSize:     1 << 20,
			Backoff: BackoffConfig{
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     30 * time.Second,
				MaxElapsed:      0,
			},
		},
		Bus: BusConfig{
			BufferSize:    256,
			FanoutWorkers: 4,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "",
			ServiceName:  "gatewire",
		},
	}
}

// Load reads a YAML configuration document from disk, layered over defaults.
func Load(path string) (Settings, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = os.Getenv("GATEWIRE_CONFIG")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		path = "config/gatewire.yaml"
	}

	cfg := Default()

	safePath := filepath.Clean(path)
	file, err := os.Open(safePath) // #nosec G304 -- configuration paths are controlled by operators.
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Settings{}, fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = file.Close() }()

	raw, err := io.ReadAll(file)
	if err != nil {
		return Settings{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Settings{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// Validate performs semantic validation on the loaded configuration.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Gateway.Host) == "" {
		return fmt.Errorf("gateway host required")
	}
	if s.Gateway.Port <= 0 || s.Gateway.Port > 65535 {
		return fmt.Errorf("gateway port must be in 1..65535")
	}
	if s.Gateway.ClientID < 0 {
		return fmt.Errorf("gateway clientId must be >=0")
	}
	if s.Session.HandshakeTimeout <= 0 {
		return fmt.Errorf("session handshakeTimeout must be >0")
	}
	if s.Session.HeartbeatIdle <= 0 {
		return fmt.Errorf("session heartbeatIdle must be >0")
	}
	if s.Session.RequestTimeout <= 0 {
		return fmt.Errorf("session requestTimeout must be >0")
	}
	if s.Session.WriteRate <= 0 {
		return fmt.Errorf("session writeRate must be >0")
	}
	if s.Session.WriteBurst <= 0 {
		return fmt.Errorf("session writeBurst must be >0")
	}
	if s.Session.MaxFrameSize <= 0 {
		return fmt.Errorf("session maxFrameSize must be >0")
	}
	if s.Session.Backoff.InitialInterval <= 0 {
		return fmt.Errorf("session backoff initialInterval must be >0")
	}
	if s.Session.Backoff.MaxInterval < s.Session.Backoff.InitialInterval {
		return fmt.Errorf("session backoff maxInterval must be >= initialInterval")
	}
	if s.Session.Backoff.MaxElapsed < 0 {
		return fmt.Errorf("session backoff maxElapsed must be >=0")
	}
	if s.Bus.BufferSize <= 0 {
		return fmt.Errorf("bus bufferSize must be >0")
	}
	if s.Bus.FanoutWorkers <= 0 {
		return fmt.Errorf("bus fanoutWorkers must be >0")
	}
	return nil
}

// Addr renders the gateway dial target.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}
