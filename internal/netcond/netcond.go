// Package netcond measures latency and throughput between the harness and
// the gateway before each run.
package netcond

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/NodePath81/pmugateway/internal/util"
)

const (
	MethodICMP = "icmp"
	MethodTCP  = "tcp"
)

// Conditions holds one measurement. Fields that could not be measured are
// NaN.
type Conditions struct {
	LatencyMs    float64
	JitterMs     float64
	Loss         float64
	DownloadMbps float64
	UploadMbps   float64
}

// Unmeasured returns Conditions with every field set to NaN.
func Unmeasured() Conditions {
	nan := math.NaN()
	return Conditions{LatencyMs: nan, JitterMs: nan, Loss: nan, DownloadMbps: nan, UploadMbps: nan}
}

type Options struct {
	// BaseURL is the gateway HTTP base; probe endpoints hang off it.
	BaseURL       *url.URL
	Host          string
	Port          string
	Method        string
	Samples       int
	Timeout       time.Duration
	DownloadBytes int64
	UploadBytes   int64
}

// Measure runs the latency probe and both bandwidth transfers. Every part
// is attempted; failures leave their fields NaN and are joined into the
// returned error.
func Measure(ctx context.Context, opts Options, logger util.Logger) (Conditions, error) {
	out := Unmeasured()
	var errs []error

	window, err := probeLatency(ctx, opts)
	if err != nil {
		errs = append(errs, fmt.Errorf("latency: %w", err))
	} else {
		m := window.metrics()
		out.Loss = m.Loss
		if m.HasRTT {
			out.LatencyMs = m.AvgRTTMs
			out.JitterMs = m.JitterMs
		} else {
			errs = append(errs, fmt.Errorf("latency: %w", errNoReplies))
		}
	}

	if opts.BaseURL != nil {
		bw := newBandwidthClient(opts.BaseURL, opts.Timeout)
		if mbps, err := bw.download(ctx, opts.DownloadBytes); err != nil {
			errs = append(errs, fmt.Errorf("download: %w", err))
		} else {
			out.DownloadMbps = mbps
		}
		if mbps, err := bw.upload(ctx, opts.UploadBytes); err != nil {
			errs = append(errs, fmt.Errorf("upload: %w", err))
		} else {
			out.UploadMbps = mbps
		}
	}

	logger.Debug("network conditions measured",
		"method", opts.Method,
		"latency_ms", out.LatencyMs,
		"jitter_ms", out.JitterMs,
		"loss", out.Loss,
		"download_mbps", out.DownloadMbps,
		"upload_mbps", out.UploadMbps,
	)
	return out, errors.Join(errs...)
}

var errNoReplies = errors.New("no replies")

func probeLatency(ctx context.Context, opts Options) (*probeWindow, error) {
	samples := opts.Samples
	if samples <= 0 {
		samples = 1
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	switch opts.Method {
	case MethodICMP:
		return pingICMP(ctx, opts.Host, samples, timeout)
	case MethodTCP, "":
		return pingTCP(ctx, opts.Host, opts.Port, samples, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported method %q", opts.Method)
	}
}

// probeWindow collects ping samples.
type probeWindow struct {
	size   int
	lost   int
	rttsMs []float64
}

func newProbeWindow(size int) *probeWindow {
	return &probeWindow{size: size}
}

func (w *probeWindow) addSample(ok bool, rtt time.Duration) {
	if !ok {
		w.lost++
		return
	}
	w.rttsMs = append(w.rttsMs, float64(rtt.Microseconds())/1000.0)
}

type windowMetrics struct {
	Loss     float64
	AvgRTTMs float64
	JitterMs float64
	HasRTT   bool
}

func (w *probeWindow) metrics() windowMetrics {
	var loss float64
	if w.size > 0 {
		loss = float64(w.lost) / float64(w.size)
	}
	var avg float64
	if len(w.rttsMs) > 0 {
		var sum float64
		for _, v := range w.rttsMs {
			sum += v
		}
		avg = sum / float64(len(w.rttsMs))
	}
	return windowMetrics{
		Loss:     min(max(loss, 0), 1),
		AvgRTTMs: avg,
		JitterMs: computeJitter(w.rttsMs),
		HasRTT:   len(w.rttsMs) > 0,
	}
}

func computeJitter(samples []float64) float64 {
	// Jitter is mean absolute difference between consecutive RTT samples.
	if len(samples) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(samples); i++ {
		sum += math.Abs(samples[i] - samples[i-1])
	}
	return sum / float64(len(samples)-1)
}
