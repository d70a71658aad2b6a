package store

import (
	"strconv"
	"time"

	"github.com/NodePath81/pmugateway/internal/stats"
)

// SummaryHeader is the first row of the cross-run summary file.
var SummaryHeader = []string{
	"run_id", "timestamp", "clients", "channels", "iterations", "requests", "failures",
	"latency_ms", "download_mbps", "upload_mbps",
	"time_min_ms", "time_max_ms", "time_mean_ms", "time_median_ms", "time_std_ms",
	"fps_min", "fps_max", "fps_mean", "fps_median", "fps_std",
}

// SummaryRow is one clients/channels combination of a run. Network figures
// are NaN when they were not measured.
type SummaryRow struct {
	RunID        string
	Timestamp    time.Time
	Clients      int
	Channels     int
	Iterations   int
	Requests     int
	Failures     int
	LatencyMs    float64
	DownloadMbps float64
	UploadMbps   float64
	Time         stats.Summary
	FPS          stats.Summary
}

func (r SummaryRow) record() []string {
	return []string{
		r.RunID,
		r.Timestamp.UTC().Format(time.RFC3339),
		strconv.Itoa(r.Clients),
		strconv.Itoa(r.Channels),
		strconv.Itoa(r.Iterations),
		strconv.Itoa(r.Requests),
		strconv.Itoa(r.Failures),
		formatFloat(r.LatencyMs),
		formatFloat(r.DownloadMbps),
		formatFloat(r.UploadMbps),
		summaryField(r.Time, r.Time.Min),
		summaryField(r.Time, r.Time.Max),
		summaryField(r.Time, r.Time.Mean),
		summaryField(r.Time, r.Time.Median),
		stdField(r.Time),
		summaryField(r.FPS, r.FPS.Min),
		summaryField(r.FPS, r.FPS.Max),
		summaryField(r.FPS, r.FPS.Mean),
		summaryField(r.FPS, r.FPS.Median),
		stdField(r.FPS),
	}
}

func summaryField(s stats.Summary, v float64) string {
	if s.Count == 0 {
		return ""
	}
	return formatFloat(v)
}

func stdField(s stats.Summary) string {
	if !s.StdDevValid {
		return ""
	}
	return formatFloat(s.StdDev)
}

// SummaryWriter appends one row per combination to the cross-run file.
type SummaryWriter struct {
	csv *csvFile
}

func OpenSummaryWriter(path string) (*SummaryWriter, error) {
	f, err := openCSV(path, SummaryHeader)
	if err != nil {
		return nil, err
	}
	return &SummaryWriter{csv: f}, nil
}

func (w *SummaryWriter) Write(row SummaryRow) error {
	return w.csv.write(row.record())
}

func (w *SummaryWriter) Close() error {
	return w.csv.close()
}
