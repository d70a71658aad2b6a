package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/NodePath81/pmugateway/internal/util"
	"gopkg.in/yaml.v3"
)

const (
	defaultBindAddr        = "0.0.0.0"
	defaultBindPort        = 8080
	defaultMaxBodySize     = "8mb"
	defaultRequestTimeout  = 10 * time.Second
	defaultShutdownTimeout = 3 * time.Second

	defaultWebSocketEnabled  = true
	defaultWebSocketPath     = "/ws"
	defaultWebSocketReadSize = "8mb"
	defaultPingInterval      = 30 * time.Second
	defaultPongWait          = 60 * time.Second
	defaultWriteWait         = 10 * time.Second

	defaultProbeEnabled  = true
	defaultProbeMaxBytes = "16mb"

	defaultMetricsEnabled = true

	defaultLogLevel  = "info"
	defaultLogFormat = "text"

	SessionScopeConnection = "connection"
	SessionScopeShared     = "shared"

	EstimatorIpDFT = "ipdft"
)

type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	switch value.Tag {
	case "!!int", "!!float":
		var secs float64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	default:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		if raw == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config is the gateway process configuration.
type Config struct {
	Hostname  string          `yaml:"hostname"`
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Probe     ProbeConfig     `yaml:"probe"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Estimator EstimatorConfig `yaml:"estimator"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	BindAddr        string   `yaml:"bind_addr"`
	BindPort        int      `yaml:"bind_port"`
	MaxBodySize     string   `yaml:"max_body_size"`
	RequestTimeout  Duration `yaml:"request_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	maxBodyBytes int64
}

// MaxBodyBytes is max_body_size in bytes, resolved by validate.
func (s ServerConfig) MaxBodyBytes() int64 {
	return s.maxBodyBytes
}

type WebSocketConfig struct {
	Enabled      *bool    `yaml:"enabled"`
	Path         string   `yaml:"path"`
	SessionScope string   `yaml:"session_scope"`
	ReadLimit    string   `yaml:"read_limit"`
	PingInterval Duration `yaml:"ping_interval"`
	PongWait     Duration `yaml:"pong_wait"`
	WriteWait    Duration `yaml:"write_wait"`

	readLimitBytes int64
}

func (w WebSocketConfig) IsEnabled() bool {
	return util.BoolValue(w.Enabled, defaultWebSocketEnabled)
}

// ReadLimitBytes is read_limit in bytes, resolved by validate.
func (w WebSocketConfig) ReadLimitBytes() int64 {
	return w.readLimitBytes
}

type ProbeConfig struct {
	Enabled  *bool  `yaml:"enabled"`
	MaxBytes string `yaml:"max_bytes"`

	maxBytes int64
}

func (p ProbeConfig) IsEnabled() bool {
	return util.BoolValue(p.Enabled, defaultProbeEnabled)
}

// MaxBytesValue is max_bytes in bytes, resolved by validate.
func (p ProbeConfig) MaxBytesValue() int64 {
	return p.maxBytes
}

type MetricsConfig struct {
	Enabled *bool `yaml:"enabled"`
}

func (m MetricsConfig) IsEnabled() bool {
	return util.BoolValue(m.Enabled, defaultMetricsEnabled)
}

type EstimatorConfig struct {
	Kind string `yaml:"kind"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(raw)
}

// ParseConfig decodes a gateway YAML document, applies defaults and validates it.
func ParseConfig(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a gateway configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) setDefaults() {
	if c.Hostname == "" {
		if host, err := os.Hostname(); err == nil {
			c.Hostname = host
		}
	}
	if c.Server.BindAddr == "" {
		c.Server.BindAddr = defaultBindAddr
	}
	if c.Server.BindPort == 0 {
		c.Server.BindPort = defaultBindPort
	}
	if c.Server.MaxBodySize == "" {
		c.Server.MaxBodySize = defaultMaxBodySize
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = Duration(defaultRequestTimeout)
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(defaultShutdownTimeout)
	}

	if c.WebSocket.Path == "" {
		c.WebSocket.Path = defaultWebSocketPath
	}
	if c.WebSocket.SessionScope == "" {
		c.WebSocket.SessionScope = SessionScopeConnection
	}
	if c.WebSocket.ReadLimit == "" {
		c.WebSocket.ReadLimit = defaultWebSocketReadSize
	}
	if c.WebSocket.PingInterval == 0 {
		c.WebSocket.PingInterval = Duration(defaultPingInterval)
	}
	if c.WebSocket.PongWait == 0 {
		c.WebSocket.PongWait = Duration(defaultPongWait)
	}
	if c.WebSocket.WriteWait == 0 {
		c.WebSocket.WriteWait = Duration(defaultWriteWait)
	}

	if c.Probe.MaxBytes == "" {
		c.Probe.MaxBytes = defaultProbeMaxBytes
	}
	if c.Estimator.Kind == "" {
		c.Estimator.Kind = EstimatorIpDFT
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Server.BindAddr) == "" {
		return errors.New("server.bind_addr must not be empty")
	}
	if c.Server.BindPort <= 0 || c.Server.BindPort > 65535 {
		return errors.New("server.bind_port must be in 1..65535")
	}
	size, err := ParseSize(c.Server.MaxBodySize)
	if err != nil {
		return fmt.Errorf("server.max_body_size: %w", err)
	}
	if size <= 0 {
		return errors.New("server.max_body_size must be > 0")
	}
	c.Server.maxBodyBytes = size
	if c.Server.RequestTimeout.Duration() <= 0 {
		return errors.New("server.request_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("server.shutdown_timeout must be > 0")
	}

	if !strings.HasPrefix(c.WebSocket.Path, "/") {
		return errors.New("websocket.path must start with /")
	}
	c.WebSocket.SessionScope = strings.ToLower(strings.TrimSpace(c.WebSocket.SessionScope))
	if c.WebSocket.SessionScope != SessionScopeConnection && c.WebSocket.SessionScope != SessionScopeShared {
		return fmt.Errorf("websocket.session_scope must be %s or %s", SessionScopeConnection, SessionScopeShared)
	}
	readLimit, err := ParseSize(c.WebSocket.ReadLimit)
	if err != nil {
		return fmt.Errorf("websocket.read_limit: %w", err)
	}
	if readLimit <= 0 {
		return errors.New("websocket.read_limit must be > 0")
	}
	c.WebSocket.readLimitBytes = readLimit
	if c.WebSocket.PingInterval.Duration() <= 0 || c.WebSocket.PongWait.Duration() <= 0 || c.WebSocket.WriteWait.Duration() <= 0 {
		return errors.New("websocket.ping_interval, pong_wait and write_wait must be > 0")
	}
	if c.WebSocket.PingInterval.Duration() >= c.WebSocket.PongWait.Duration() {
		return errors.New("websocket.ping_interval must be < pong_wait")
	}

	probeMax, err := ParseSize(c.Probe.MaxBytes)
	if err != nil {
		return fmt.Errorf("probe.max_bytes: %w", err)
	}
	if probeMax <= 0 {
		return errors.New("probe.max_bytes must be > 0")
	}
	c.Probe.maxBytes = probeMax

	c.Estimator.Kind = strings.ToLower(strings.TrimSpace(c.Estimator.Kind))
	if c.Estimator.Kind != EstimatorIpDFT {
		return fmt.Errorf("estimator.kind %q is not supported", c.Estimator.Kind)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return errors.New("logging.format must be text or json")
	}
	return nil
}
