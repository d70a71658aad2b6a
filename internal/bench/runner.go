// Package bench sweeps the client/channel matrix against a gateway and
// persists per-request measurements and per-combination summaries.
package bench

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/NodePath81/pmugateway/internal/config"
	"github.com/NodePath81/pmugateway/internal/loadgen"
	"github.com/NodePath81/pmugateway/internal/netcond"
	"github.com/NodePath81/pmugateway/internal/protocol"
	"github.com/NodePath81/pmugateway/internal/stats"
	"github.com/NodePath81/pmugateway/internal/store"
	"github.com/NodePath81/pmugateway/internal/util"
	"github.com/google/uuid"
)

// Report lists the summary rows written by one Run.
type Report struct {
	RunID string
	Rows  []store.SummaryRow
}

type Runner struct {
	cfg    config.BenchConfig
	dial   loadgen.Dialer
	logger util.Logger
}

func NewRunner(cfg config.BenchConfig, logger util.Logger) *Runner {
	var dial loadgen.Dialer
	switch cfg.Target.Transport {
	case config.TransportREST:
		dial = loadgen.RESTDialer(cfg.Target.BaseURL().String(), logger)
	default:
		dial = loadgen.WebSocketDialer(cfg.Target.WebSocketURL(), cfg.Run.ConnectTimeout.Duration(), logger)
	}
	return &Runner{cfg: cfg, dial: dial, logger: logger}
}

// Run sweeps every clients x channels combination in order. A cancelled
// context stops the sweep after the current combination.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString()}
	out := r.cfg.Output

	summary, err := store.OpenSummaryWriter(summaryPath(out))
	if err != nil {
		return report, fmt.Errorf("open summary: %w", err)
	}
	defer func() {
		if err := summary.Close(); err != nil {
			r.logger.Error("close summary", "error", err)
		}
	}()

	var history *store.History
	if out.HistoryDB != "" {
		history, err = store.OpenHistory(out.HistoryDB, r.logger)
		if err != nil {
			return report, err
		}
		defer history.Close()
	}

	r.logger.Info("benchmark started",
		"run_id", report.RunID,
		"target", r.cfg.Target.URL,
		"transport", r.cfg.Target.Transport,
		"clients", r.cfg.Run.Matrix.Clients,
		"channels", r.cfg.Run.Matrix.Channels,
		"iterations", r.cfg.Run.Iterations,
	)
	for _, clients := range r.cfg.Run.Matrix.Clients {
		for _, channels := range r.cfg.Run.Matrix.Channels {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			row, err := r.runCombination(ctx, report.RunID, clients, channels)
			if err != nil {
				return report, err
			}
			if err := summary.Write(row); err != nil {
				return report, fmt.Errorf("write summary: %w", err)
			}
			if history != nil {
				if err := history.Insert(row); err != nil {
					return report, err
				}
			}
			report.Rows = append(report.Rows, row)
			r.logRow(row)
		}
	}
	r.logger.Info("benchmark finished", "run_id", report.RunID, "combinations", len(report.Rows))
	return report, nil
}

func (r *Runner) runCombination(ctx context.Context, runID string, clients, channels int) (store.SummaryRow, error) {
	logger := r.logger.With("clients", clients, "channels", channels)
	started := time.Now()

	cond := netcond.Unmeasured()
	if r.cfg.Network.IsEnabled() {
		var err error
		cond, err = netcond.Measure(ctx, r.networkOptions(), logger)
		if err != nil {
			logger.Warn("network measurement incomplete", "error", err)
		}
	}

	ms := loadgen.Run(ctx, r.loadParams(clients, channels, logger), r.dial)

	writer, err := store.OpenMeasurementWriter(r.cfg.Output.Dir, clients, channels)
	if err != nil {
		return store.SummaryRow{}, fmt.Errorf("open measurements: %w", err)
	}
	if err := writer.Write(measurementRows(ms)...); err != nil {
		writer.Close()
		return store.SummaryRow{}, fmt.Errorf("write measurements: %w", err)
	}
	if err := writer.Close(); err != nil {
		return store.SummaryRow{}, fmt.Errorf("close measurements: %w", err)
	}

	timing, fps, failures, err := summarize(ms)
	if err != nil {
		logger.Warn("no successful requests", "failures", failures)
	}
	return store.SummaryRow{
		RunID:        runID,
		Timestamp:    started,
		Clients:      clients,
		Channels:     channels,
		Iterations:   r.cfg.Run.Iterations,
		Requests:     len(ms),
		Failures:     failures,
		LatencyMs:    cond.LatencyMs,
		DownloadMbps: cond.DownloadMbps,
		UploadMbps:   cond.UploadMbps,
		Time:         timing,
		FPS:          fps,
	}, nil
}

func (r *Runner) networkOptions() netcond.Options {
	host, port := r.cfg.Target.HostPort()
	n := r.cfg.Network
	return netcond.Options{
		BaseURL:       r.cfg.Target.BaseURL(),
		Host:          host,
		Port:          port,
		Method:        n.Ping.Method,
		Samples:       n.Ping.Samples,
		Timeout:       n.Ping.Timeout.Duration(),
		DownloadBytes: n.Bandwidth.DownloadBytes(),
		UploadBytes:   n.Bandwidth.UploadBytes(),
	}
}

func (r *Runner) loadParams(clients, channels int, logger util.Logger) loadgen.Params {
	ts := r.cfg.Timestamp
	sig := r.cfg.Signal
	return loadgen.Params{
		Clients:       clients,
		Iterations:    r.cfg.Run.Iterations,
		Channels:      channels,
		Configuration: r.cfg.Configuration,
		Signal: loadgen.Signal{
			Amplitude:     sig.Amplitude,
			BaseFrequency: sig.BaseFrequency,
			FrequencyStep: sig.Step(),
			Phase:         sig.Phase,
		},
		Timestamp:      protocol.Timestamp{SOC: ts.SOC, FRACSEC: ts.FRACSEC, Timebase: ts.Timebase},
		RequestTimeout: r.cfg.Run.RequestTimeout.Duration(),
		RecordResults:  r.cfg.Output.ShouldRecordResults(),
		Logger:         logger,
	}
}

func (r *Runner) logRow(row store.SummaryRow) {
	r.logger.Info("combination complete",
		"clients", row.Clients,
		"channels", row.Channels,
		"requests", row.Requests,
		"failures", row.Failures,
		"latency_ms", row.LatencyMs,
		"time_mean_ms", row.Time.Mean,
		"time_median_ms", row.Time.Median,
		"fps_mean", row.FPS.Mean,
	)
}

func summaryPath(out config.OutputConfig) string {
	if filepath.IsAbs(out.SummaryFile) {
		return out.SummaryFile
	}
	return filepath.Join(out.Dir, out.SummaryFile)
}

// summarize computes timing and rate statistics over successful
// measurements and counts the failures.
func summarize(ms []loadgen.Measurement) (stats.Summary, stats.Summary, int, error) {
	elapsed := make([]float64, 0, len(ms))
	failures := 0
	for _, m := range ms {
		if !m.OK() {
			failures++
			continue
		}
		elapsed = append(elapsed, m.ElapsedMs())
	}
	timing, err := stats.Summarize(elapsed)
	if err != nil {
		return stats.Summary{}, stats.Summary{}, failures, err
	}
	fps, err := stats.FPS(timing, stats.PerRequestFPS(elapsed))
	if err != nil {
		return timing, stats.Summary{}, failures, err
	}
	return timing, fps, failures, nil
}

func measurementRows(ms []loadgen.Measurement) []store.MeasurementRow {
	rows := make([]store.MeasurementRow, 0, len(ms))
	for _, m := range ms {
		row := store.MeasurementRow{
			ClientID:  m.ClientID,
			Iteration: m.Iteration,
			ElapsedMs: m.ElapsedMs(),
		}
		switch {
		case m.Err != nil:
			row.ResultOrError = m.Err.Error()
			if m.Elapsed == 0 {
				row.ElapsedMs = math.NaN()
			}
		case m.Result != "":
			row.ResultOrError = m.Result
		default:
			row.ResultOrError = "ok"
		}
		rows = append(rows, row)
	}
	return rows
}
