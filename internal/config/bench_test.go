package config

import "testing"

func TestBenchDefaults(t *testing.T) {
	cfg, err := ParseBenchConfig(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Target.Transport != TransportWebSocket {
		t.Fatalf("expected transport %q, got %q", TransportWebSocket, cfg.Target.Transport)
	}
	if got := cfg.Target.WebSocketURL(); got != "ws://127.0.0.1:8080/ws" {
		t.Fatalf("expected ws://127.0.0.1:8080/ws, got %s", got)
	}
	if cfg.Run.Iterations != 20 {
		t.Fatalf("expected 20 iterations, got %d", cfg.Run.Iterations)
	}
	if cfg.Configuration != DefaultConfiguration() {
		t.Fatalf("expected default estimator configuration, got %+v", cfg.Configuration)
	}
	if cfg.Timestamp.SOC != 123456789 || cfg.Timestamp.Timebase != 1_000_000 {
		t.Fatalf("unexpected default timestamp %+v", cfg.Timestamp)
	}
	if cfg.Signal.Step() != 1 {
		t.Fatalf("expected frequency step 1, got %v", cfg.Signal.Step())
	}
	if cfg.Network.Bandwidth.DownloadBytes() != 1_000_000 || cfg.Network.Bandwidth.UploadBytes() != 1_000_000 {
		t.Fatalf("unexpected bandwidth sizes")
	}
	if cfg.Output.ShouldRecordResults() {
		t.Fatalf("expected record_results off by default")
	}
}

func TestBenchTarget(t *testing.T) {
	cfg, err := ParseBenchConfig([]byte("target:\n  url: https://pmu.example.net/api/\n  ws_path: /stream\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.Target.WebSocketURL(); got != "wss://pmu.example.net/api/stream" {
		t.Fatalf("expected wss://pmu.example.net/api/stream, got %s", got)
	}
	host, port := cfg.Target.HostPort()
	if host != "pmu.example.net" || port != "443" {
		t.Fatalf("expected pmu.example.net:443, got %s:%s", host, port)
	}
}

func TestBenchZeroFrequencyStep(t *testing.T) {
	cfg, err := ParseBenchConfig([]byte("signal:\n  frequency_step: 0\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Signal.Step() != 0 {
		t.Fatalf("expected explicit zero step, got %v", cfg.Signal.Step())
	}
}

func TestBenchPartialConfiguration(t *testing.T) {
	doc := "configuration:\n  signal:\n    n_cycles: 2\n    sample_rate: 12800\n    nominal_freq: 50\n"
	cfg, err := ParseBenchConfig([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Configuration.Signal.SampleRate != 12800 || cfg.Configuration.Signal.NCycles != 2 {
		t.Fatalf("unexpected signal %+v", cfg.Configuration.Signal)
	}
	if cfg.Configuration.Rocof != DefaultConfiguration().Rocof {
		t.Fatalf("expected default rocof group, got %+v", cfg.Configuration.Rocof)
	}
}

func TestBenchOverride(t *testing.T) {
	cfg, err := ParseBenchConfig([]byte("run:\n  matrix:\n    clients: [1, 5]\n    channels: [1]\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.Override([]int{10}, nil, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Run.Matrix.Clients) != 1 || cfg.Run.Matrix.Clients[0] != 10 {
		t.Fatalf("expected clients [10], got %v", cfg.Run.Matrix.Clients)
	}
	if len(cfg.Run.Matrix.Channels) != 1 || cfg.Run.Iterations != 3 {
		t.Fatalf("unexpected matrix after override: %+v iterations=%d", cfg.Run.Matrix, cfg.Run.Iterations)
	}
	if err := cfg.Override([]int{0}, nil, 0); err == nil {
		t.Fatalf("expected error for zero clients")
	}
}

func TestBenchValidation(t *testing.T) {
	cases := map[string]string{
		"scheme":     "target:\n  url: ftp://host\n",
		"transport":  "target:\n  transport: grpc\n",
		"iterations": "run:\n  iterations: -1\n",
		"channels":   "run:\n  matrix:\n    channels: [0]\n",
		"ping":       "network:\n  ping:\n    method: udp\n",
		"download":   "network:\n  bandwidth:\n    download_size: huge\n",
		"amplitude":  "signal:\n  amplitude: -2\n",
		"timebase":   "timestamp:\n  soc: 1\n",
		"fracsec":    "timestamp:\n  fracsec: 1000\n  timebase: 1000\n",
	}
	for name, doc := range cases {
		if _, err := ParseBenchConfig([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
