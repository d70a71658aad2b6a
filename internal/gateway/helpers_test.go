package gateway

import (
	"errors"
	"fmt"
	"math"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NodePath81/pmugateway/internal/codec"
	"github.com/NodePath81/pmugateway/internal/config"
	"github.com/NodePath81/pmugateway/internal/estimator"
	"github.com/NodePath81/pmugateway/internal/metrics"
	"github.com/NodePath81/pmugateway/internal/util"
)

const validConfiguration = `{
  "signal": {"n_cycles": 4, "sample_rate": 3200, "nominal_freq": 50},
  "synchrophasor": {"frame_rate": 50, "number_of_dft_bins": 11, "ipdft_iterations": 3,
    "iter_e_ipdft_enable": 1, "iter_e_ipdft_iterations": 10, "interference_threshold": 0.0033},
  "rocof": {"threshold_1": 3, "threshold_2": 25, "threshold_3": 0.035,
    "low_pass_filter_1": 0.5913, "low_pass_filter_2": 0.2043, "low_pass_filter_3": 0.2043}
}`

const missingThreshold2 = `{
  "signal": {"n_cycles": 4, "sample_rate": 3200, "nominal_freq": 50},
  "synchrophasor": {"frame_rate": 50, "number_of_dft_bins": 11, "ipdft_iterations": 3,
    "iter_e_ipdft_enable": 1, "iter_e_ipdft_iterations": 10, "interference_threshold": 0.0033},
  "rocof": {"threshold_1": 3, "threshold_3": 0.035,
    "low_pass_filter_1": 0.5913, "low_pass_filter_2": 0.2043, "low_pass_filter_3": 0.2043}
}`

// sinePayload encodes one 4-cycle window at 3200 Hz.
func sinePayload(freq float64) string {
	samples := make([]float64, 256)
	for i := range samples {
		samples[i] = math.Sin(2 * math.Pi * freq * float64(i) / 3200)
	}
	return codec.EncodeSamples(samples)
}

// overflowFrameJSON carries one channel whose samples are close to the float64
// limit, so the estimator's DFT cannot stay finite.
func overflowFrameJSON() string {
	samples := make([]float64, 256)
	for i := range samples {
		samples[i] = 1e308 * math.Sin(2*math.Pi*51*float64(i)/3200)
	}
	return fmt.Sprintf(`{"timestamp": {"SOC": 1, "FRACSEC": 0, "timebase": 1000000}, "channels": [{"channel_number": 1, "payload": %q}]}`,
		codec.EncodeSamples(samples))
}

func dataFrameJSON(channels ...int) string {
	parts := make([]string, 0, len(channels))
	for _, ch := range channels {
		parts = append(parts, fmt.Sprintf(`{"channel_number": %d, "payload": %q}`, ch, sinePayload(50+float64(ch))))
	}
	return fmt.Sprintf(`{"timestamp": {"SOC": 123456789, "FRACSEC": 0, "timebase": 1000000}, "channels": [%s]}`,
		strings.Join(parts, ","))
}

// newTestServer starts a gateway built from a YAML config snippet.
func newTestServer(t *testing.T, doc string) (*Server, *httptest.Server) {
	t.Helper()
	cfg, err := config.ParseConfig([]byte(doc))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	logger := util.Discard()
	srv := NewServer(cfg, NewSession(estimator.New, logger), estimator.New, metrics.NewMetrics(), logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

// fakeEstimator records its configuration in two steps so a torn read would
// be visible in the result.
type fakeEstimator struct {
	first, second int
	delay         time.Duration
	closed        *atomic.Int32
}

func (f *fakeEstimator) Configure(cfg estimator.Config) error {
	if cfg.NCycles < 0 {
		return errors.New("negative cycles")
	}
	f.first = cfg.NCycles
	time.Sleep(f.delay)
	f.second = cfg.NCycles
	return nil
}

func (f *fakeEstimator) Estimate(samples []float64, _ float64) (*estimator.Result, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	return &estimator.Result{Amplitude: float64(f.first), Interference: f.first != f.second}, nil
}

func (f *fakeEstimator) Close() error {
	if f.closed != nil {
		f.closed.Add(1)
	}
	return nil
}

func fakeFactory(delay time.Duration, closed *atomic.Int32) estimator.Factory {
	return func() estimator.Estimator {
		return &fakeEstimator{delay: delay, closed: closed}
	}
}
