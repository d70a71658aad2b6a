package estimator

import (
	"errors"
	"math"
	"testing"
)

func testConfig() Config {
	return Config{
		NCycles:               4,
		SampleRate:            3200,
		NominalFreq:           50,
		FrameRate:             50,
		NBins:                 11,
		P:                     3,
		IterEIpDFT:            1,
		Q:                     10,
		InterferenceThreshold: 0.0033,
		RocofThresholds:       [3]float64{3, 25, 0.035},
		RocofLowPass:          [3]float64{0.5913, 0.2043, 0.2043},
	}
}

func sineWindow(cfg Config, amp, freq, phase float64) []float64 {
	n := cfg.WindowLength()
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(cfg.SampleRate)+phase)
	}
	return out
}

func configured(t *testing.T) Estimator {
	t.Helper()
	est := New()
	if err := est.Configure(testConfig()); err != nil {
		t.Fatalf("Configure error: %v", err)
	}
	return est
}

func TestWindowLength(t *testing.T) {
	cfg := testConfig()
	if got := cfg.WindowLength(); got != 256 {
		t.Fatalf("WindowLength = %d, want 256", got)
	}
	cfg.SampleRate = 12800
	if got := cfg.WindowLength(); got != 1024 {
		t.Fatalf("WindowLength = %d, want 1024", got)
	}
	if got := (Config{}).WindowLength(); got != 0 {
		t.Fatalf("zero WindowLength = %d, want 0", got)
	}
}

func TestEstimateNominalTone(t *testing.T) {
	est := configured(t)
	res, err := est.Estimate(sineWindow(testConfig(), 1, 50, 0), 0)
	if err != nil {
		t.Fatalf("Estimate error: %v", err)
	}
	if math.Abs(res.Frequency-50) > 1e-6 {
		t.Fatalf("Frequency = %v, want 50", res.Frequency)
	}
	if math.Abs(res.Amplitude-1) > 1e-6 {
		t.Fatalf("Amplitude = %v, want 1", res.Amplitude)
	}
	if res.Interference {
		t.Fatalf("Interference = true for a clean tone")
	}
	if res.ROCOF != 0 {
		t.Fatalf("first ROCOF = %v, want 0", res.ROCOF)
	}
}

func TestEstimateOffNominalTone(t *testing.T) {
	est := configured(t)
	for _, freq := range []float64{47.5, 51, 52.5, 60} {
		res, err := est.Estimate(sineWindow(testConfig(), 2.5, freq, 0.3), 0)
		if err != nil {
			t.Fatalf("Estimate(%v) error: %v", freq, err)
		}
		if math.Abs(res.Frequency-freq) > 0.01 {
			t.Fatalf("Frequency = %v, want %v", res.Frequency, freq)
		}
		if math.Abs(res.Amplitude-2.5) > 0.0125 {
			t.Fatalf("Amplitude = %v, want 2.5", res.Amplitude)
		}
	}
}

func TestEstimateFlagsInterference(t *testing.T) {
	cfg := testConfig()
	est := configured(t)
	samples := sineWindow(cfg, 1, 50, 0)
	for i, v := range sineWindow(cfg, 0.1, 75, 0) {
		samples[i] += v
	}
	res, err := est.Estimate(samples, 0)
	if err != nil {
		t.Fatalf("Estimate error: %v", err)
	}
	if !res.Interference {
		t.Fatalf("Interference = false, want true")
	}
	if math.Abs(res.Frequency-50) > 0.05 {
		t.Fatalf("Frequency = %v, want ~50", res.Frequency)
	}
}

func TestEstimateNoResult(t *testing.T) {
	est := configured(t)
	if _, err := est.Estimate(make([]float64, 100), 0); !errors.Is(err, ErrNoEstimate) {
		t.Fatalf("short window error = %v, want ErrNoEstimate", err)
	}
	if _, err := est.Estimate(make([]float64, 256), 0); !errors.Is(err, ErrNoEstimate) {
		t.Fatalf("silent window error = %v, want ErrNoEstimate", err)
	}
	if _, err := New().Estimate(make([]float64, 256), 0); !errors.Is(err, ErrNoEstimate) {
		t.Fatalf("unconfigured error = %v, want ErrNoEstimate", err)
	}
}

func TestConfigureRejectsInvalid(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.NominalFreq = 0 },
		func(c *Config) { c.FrameRate = 0 },
		func(c *Config) { c.NBins = 1 },
		func(c *Config) { c.P = -1 },
	}
	for i, mutate := range cases {
		cfg := testConfig()
		mutate(&cfg)
		if err := New().Configure(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("case %d: error = %v, want ErrInvalidConfig", i, err)
		}
	}
}

func TestCloseResetsState(t *testing.T) {
	est := configured(t)
	if err := est.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if _, err := est.Estimate(sineWindow(testConfig(), 1, 50, 0), 0); !errors.Is(err, ErrNoEstimate) {
		t.Fatalf("Estimate after Close error = %v, want ErrNoEstimate", err)
	}
}

func TestRocofTracksRamp(t *testing.T) {
	est := configured(t)
	cfg := testConfig()
	var last float64
	for i := 0; i < 6; i++ {
		res, err := est.Estimate(sineWindow(cfg, 1, 50+0.02*float64(i), 0), 0)
		if err != nil {
			t.Fatalf("Estimate error: %v", err)
		}
		last = res.ROCOF
	}
	// 0.02 Hz per frame at 50 frames/s is 1 Hz/s.
	if math.Abs(last-1) > 0.05 {
		t.Fatalf("ROCOF = %v, want ~1", last)
	}
}

func TestEstimateOverflowIsNoEstimate(t *testing.T) {
	est := configured(t)
	if _, err := est.Estimate(sineWindow(testConfig(), 1e308, 51, 0), 0); !errors.Is(err, ErrNoEstimate) {
		t.Fatalf("Estimate error = %v, want ErrNoEstimate", err)
	}
	res, err := est.Estimate(sineWindow(testConfig(), 1, 50, 0), 0)
	if err != nil {
		t.Fatalf("Estimate after overflow error: %v", err)
	}
	if res.ROCOF != 0 {
		t.Fatalf("ROCOF = %v, want 0 on first finite estimate", res.ROCOF)
	}
}
