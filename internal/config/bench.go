package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/NodePath81/pmugateway/internal/protocol"
	"github.com/NodePath81/pmugateway/internal/util"
	"gopkg.in/yaml.v3"
)

const (
	defaultTargetURL       = "http://127.0.0.1:8080"
	defaultTargetWSPath    = "/ws"
	defaultIterations      = 20
	defaultBenchRequest    = 10 * time.Second
	defaultBenchConnect    = 5 * time.Second
	defaultAmplitude       = 1.0
	defaultBaseFrequency   = 50.0
	defaultFrequencyStep   = 1.0
	defaultSOC             = 123456789
	defaultTimebase        = 1_000_000
	defaultNetworkEnabled  = true
	defaultPingMethod      = PingTCP
	defaultPingSamples     = 5
	defaultPingTimeout     = 1 * time.Second
	defaultDownloadSize    = "1mb"
	defaultUploadSize      = "1mb"
	defaultOutputDir       = "results"
	defaultSummaryFile     = "summary.csv"
	defaultRecordResults   = false
	maxMatrixEntries       = 64
	maxClientsPerExecution = 10_000

	TransportWebSocket = "websocket"
	TransportREST      = "rest"

	PingICMP = "icmp"
	PingTCP  = "tcp"
)

// BenchConfig is the load-testing harness configuration.
type BenchConfig struct {
	Target        TargetConfig           `yaml:"target"`
	Run           RunConfig              `yaml:"run"`
	Signal        SignalConfig           `yaml:"signal"`
	Timestamp     TimestampConfig        `yaml:"timestamp"`
	Configuration protocol.Configuration `yaml:"configuration"`
	Network       NetworkConfig          `yaml:"network"`
	Output        OutputConfig           `yaml:"output"`
	Logging       LoggingConfig          `yaml:"logging"`
}

type TargetConfig struct {
	URL       string `yaml:"url"`
	Transport string `yaml:"transport"`
	WSPath    string `yaml:"ws_path"`

	base *url.URL
}

// BaseURL is the gateway's HTTP base URL, resolved by validate.
func (t TargetConfig) BaseURL() *url.URL {
	u := *t.base
	return &u
}

// WebSocketURL is the ws:// or wss:// URL of the gateway's WebSocket endpoint.
func (t TargetConfig) WebSocketURL() string {
	u := t.BaseURL()
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + t.WSPath
	return u.String()
}

// HostPort returns the gateway host and port used for latency probes.
func (t TargetConfig) HostPort() (string, string) {
	host := t.base.Hostname()
	port := t.base.Port()
	if port == "" {
		port = "80"
		if t.base.Scheme == "https" {
			port = "443"
		}
	}
	return host, port
}

type RunConfig struct {
	Iterations     int          `yaml:"iterations"`
	Matrix         MatrixConfig `yaml:"matrix"`
	RequestTimeout Duration     `yaml:"request_timeout"`
	ConnectTimeout Duration     `yaml:"connect_timeout"`
}

type MatrixConfig struct {
	Clients  []int `yaml:"clients"`
	Channels []int `yaml:"channels"`
}

type SignalConfig struct {
	Amplitude     float64  `yaml:"amplitude"`
	BaseFrequency float64  `yaml:"base_frequency"`
	FrequencyStep *float64 `yaml:"frequency_step"`
	Phase         float64  `yaml:"phase"`
}

// Step returns frequency_step or its default of 1 Hz per channel.
func (s SignalConfig) Step() float64 {
	if s.FrequencyStep == nil {
		return defaultFrequencyStep
	}
	return *s.FrequencyStep
}

type TimestampConfig struct {
	SOC      uint64 `yaml:"soc"`
	FRACSEC  uint64 `yaml:"fracsec"`
	Timebase uint64 `yaml:"timebase"`
}

type NetworkConfig struct {
	Enabled   *bool           `yaml:"enabled"`
	Ping      PingConfig      `yaml:"ping"`
	Bandwidth BandwidthConfig `yaml:"bandwidth"`
}

func (n NetworkConfig) IsEnabled() bool {
	return util.BoolValue(n.Enabled, defaultNetworkEnabled)
}

type PingConfig struct {
	Method  string   `yaml:"method"`
	Samples int      `yaml:"samples"`
	Timeout Duration `yaml:"timeout"`
}

type BandwidthConfig struct {
	DownloadSize string `yaml:"download_size"`
	UploadSize   string `yaml:"upload_size"`

	downloadBytes int64
	uploadBytes   int64
}

func (b BandwidthConfig) DownloadBytes() int64 {
	return b.downloadBytes
}

func (b BandwidthConfig) UploadBytes() int64 {
	return b.uploadBytes
}

type OutputConfig struct {
	Dir           string `yaml:"dir"`
	SummaryFile   string `yaml:"summary_file"`
	HistoryDB     string `yaml:"history_db"`
	RecordResults *bool  `yaml:"record_results"`
}

func (o OutputConfig) ShouldRecordResults() bool {
	return util.BoolValue(o.RecordResults, defaultRecordResults)
}

func LoadBenchConfig(path string) (BenchConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return BenchConfig{}, err
	}
	return ParseBenchConfig(raw)
}

// ParseBenchConfig decodes a harness YAML document, applies defaults and
// validates it.
func ParseBenchConfig(raw []byte) (BenchConfig, error) {
	var cfg BenchConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return BenchConfig{}, err
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return BenchConfig{}, err
	}
	return cfg, nil
}

// Override replaces the run matrix and iteration count with command-line
// values. Zero-length or zero values leave the file setting in place.
func (c *BenchConfig) Override(clients, channels []int, iterations int) error {
	if len(clients) > 0 {
		c.Run.Matrix.Clients = clients
	}
	if len(channels) > 0 {
		c.Run.Matrix.Channels = channels
	}
	if iterations > 0 {
		c.Run.Iterations = iterations
	}
	return c.validate()
}

// DefaultConfiguration is the estimator configuration the harness sends
// when the file does not provide one.
func DefaultConfiguration() protocol.Configuration {
	return protocol.Configuration{
		Signal: protocol.Signal{NCycles: 4, SampleRate: 3200, NominalFreq: 50},
		Synchrophasor: protocol.Synchrophasor{
			FrameRate:             50,
			NumberOfDFTBins:       11,
			IpDFTIterations:       3,
			IterEIpDFTEnable:      1,
			IterEIpDFTIterations:  10,
			InterferenceThreshold: 0.0033,
		},
		Rocof: protocol.Rocof{
			Threshold1:     3,
			Threshold2:     25,
			Threshold3:     0.035,
			LowPassFilter1: 0.5913,
			LowPassFilter2: 0.2043,
			LowPassFilter3: 0.2043,
		},
	}
}

func (c *BenchConfig) setDefaults() {
	if c.Target.URL == "" {
		c.Target.URL = defaultTargetURL
	}
	if c.Target.Transport == "" {
		c.Target.Transport = TransportWebSocket
	}
	if c.Target.WSPath == "" {
		c.Target.WSPath = defaultTargetWSPath
	}

	if c.Run.Iterations == 0 {
		c.Run.Iterations = defaultIterations
	}
	if len(c.Run.Matrix.Clients) == 0 {
		c.Run.Matrix.Clients = []int{1}
	}
	if len(c.Run.Matrix.Channels) == 0 {
		c.Run.Matrix.Channels = []int{1}
	}
	if c.Run.RequestTimeout == 0 {
		c.Run.RequestTimeout = Duration(defaultBenchRequest)
	}
	if c.Run.ConnectTimeout == 0 {
		c.Run.ConnectTimeout = Duration(defaultBenchConnect)
	}

	if c.Signal.Amplitude == 0 {
		c.Signal.Amplitude = defaultAmplitude
	}
	if c.Signal.BaseFrequency == 0 {
		c.Signal.BaseFrequency = defaultBaseFrequency
	}
	if c.Timestamp == (TimestampConfig{}) {
		c.Timestamp = TimestampConfig{SOC: defaultSOC, Timebase: defaultTimebase}
	}

	defaults := DefaultConfiguration()
	if c.Configuration.Signal == (protocol.Signal{}) {
		c.Configuration.Signal = defaults.Signal
	}
	if c.Configuration.Synchrophasor == (protocol.Synchrophasor{}) {
		c.Configuration.Synchrophasor = defaults.Synchrophasor
	}
	if c.Configuration.Rocof == (protocol.Rocof{}) {
		c.Configuration.Rocof = defaults.Rocof
	}

	if c.Network.Ping.Method == "" {
		c.Network.Ping.Method = defaultPingMethod
	}
	if c.Network.Ping.Samples == 0 {
		c.Network.Ping.Samples = defaultPingSamples
	}
	if c.Network.Ping.Timeout == 0 {
		c.Network.Ping.Timeout = Duration(defaultPingTimeout)
	}
	if c.Network.Bandwidth.DownloadSize == "" {
		c.Network.Bandwidth.DownloadSize = defaultDownloadSize
	}
	if c.Network.Bandwidth.UploadSize == "" {
		c.Network.Bandwidth.UploadSize = defaultUploadSize
	}

	if c.Output.Dir == "" {
		c.Output.Dir = defaultOutputDir
	}
	if c.Output.SummaryFile == "" {
		c.Output.SummaryFile = defaultSummaryFile
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}

func (c *BenchConfig) validate() error {
	u, err := url.Parse(strings.TrimSpace(c.Target.URL))
	if err != nil {
		return fmt.Errorf("target.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("target.url must use http or https")
	}
	if u.Hostname() == "" {
		return errors.New("target.url must include a host")
	}
	if port := u.Port(); port != "" {
		if _, err := net.LookupPort("tcp", port); err != nil {
			return fmt.Errorf("target.url port: %w", err)
		}
	}
	c.Target.base = u
	c.Target.Transport = strings.ToLower(strings.TrimSpace(c.Target.Transport))
	if c.Target.Transport != TransportWebSocket && c.Target.Transport != TransportREST {
		return fmt.Errorf("target.transport must be %s or %s", TransportWebSocket, TransportREST)
	}
	if !strings.HasPrefix(c.Target.WSPath, "/") {
		return errors.New("target.ws_path must start with /")
	}

	if c.Run.Iterations <= 0 {
		return errors.New("run.iterations must be > 0")
	}
	if err := validateMatrix("run.matrix.clients", c.Run.Matrix.Clients, maxClientsPerExecution); err != nil {
		return err
	}
	if err := validateMatrix("run.matrix.channels", c.Run.Matrix.Channels, 0); err != nil {
		return err
	}
	if c.Run.RequestTimeout.Duration() <= 0 {
		return errors.New("run.request_timeout must be > 0")
	}
	if c.Run.ConnectTimeout.Duration() <= 0 {
		return errors.New("run.connect_timeout must be > 0")
	}

	if c.Signal.Amplitude <= 0 {
		return errors.New("signal.amplitude must be > 0")
	}
	if c.Signal.BaseFrequency <= 0 {
		return errors.New("signal.base_frequency must be > 0")
	}
	if c.Configuration.Signal.NominalFreq <= 0 || c.Configuration.Signal.SampleRate <= 0 || c.Configuration.Signal.NCycles <= 0 {
		return errors.New("configuration.signal values must be > 0 to synthesise frames")
	}
	if c.Timestamp.Timebase == 0 {
		return errors.New("timestamp.timebase must be > 0")
	}
	if c.Timestamp.FRACSEC >= c.Timestamp.Timebase {
		return errors.New("timestamp.fracsec must be < timestamp.timebase")
	}
	if c.Configuration.Synchrophasor.FrameRate <= 0 {
		return errors.New("configuration.synchrophasor.frame_rate must be > 0")
	}

	c.Network.Ping.Method = strings.ToLower(strings.TrimSpace(c.Network.Ping.Method))
	if c.Network.Ping.Method != PingICMP && c.Network.Ping.Method != PingTCP {
		return fmt.Errorf("network.ping.method must be %s or %s", PingICMP, PingTCP)
	}
	if c.Network.Ping.Samples <= 0 {
		return errors.New("network.ping.samples must be > 0")
	}
	if c.Network.Ping.Timeout.Duration() <= 0 {
		return errors.New("network.ping.timeout must be > 0")
	}
	down, err := ParseSize(c.Network.Bandwidth.DownloadSize)
	if err != nil {
		return fmt.Errorf("network.bandwidth.download_size: %w", err)
	}
	up, err := ParseSize(c.Network.Bandwidth.UploadSize)
	if err != nil {
		return fmt.Errorf("network.bandwidth.upload_size: %w", err)
	}
	if down <= 0 || up <= 0 {
		return errors.New("network.bandwidth sizes must be > 0")
	}
	c.Network.Bandwidth.downloadBytes = down
	c.Network.Bandwidth.uploadBytes = up

	if strings.TrimSpace(c.Output.Dir) == "" {
		return errors.New("output.dir must not be empty")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return errors.New("logging.format must be text or json")
	}
	return nil
}

func validateMatrix(path string, values []int, limit int) error {
	if len(values) == 0 {
		return fmt.Errorf("%s must not be empty", path)
	}
	if len(values) > maxMatrixEntries {
		return fmt.Errorf("too many %s entries: %d (max %d)", path, len(values), maxMatrixEntries)
	}
	for i, v := range values {
		if v <= 0 {
			return fmt.Errorf("%s[%d] must be > 0", path, i)
		}
		if limit > 0 && v > limit {
			return fmt.Errorf("%s[%d] must be <= %d", path, i, limit)
		}
	}
	return nil
}
