package store

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/NodePath81/pmugateway/internal/stats"
	"github.com/NodePath81/pmugateway/internal/util"
	_ "github.com/mattn/go-sqlite3"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS run_summaries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	recorded_at TIMESTAMP NOT NULL,
	clients INTEGER NOT NULL,
	channels INTEGER NOT NULL,
	iterations INTEGER NOT NULL,
	requests INTEGER NOT NULL,
	failures INTEGER NOT NULL,
	latency_ms REAL,
	download_mbps REAL,
	upload_mbps REAL,
	time_count INTEGER NOT NULL,
	time_min_ms REAL,
	time_max_ms REAL,
	time_mean_ms REAL,
	time_median_ms REAL,
	time_std_ms REAL,
	fps_min REAL,
	fps_max REAL,
	fps_mean REAL,
	fps_median REAL,
	fps_std REAL
);
CREATE INDEX IF NOT EXISTS idx_run_summaries_run ON run_summaries(run_id);
`

// History mirrors summary rows into SQLite for querying across runs.
type History struct {
	db     *sql.DB
	logger util.Logger
}

func OpenHistory(path string, logger util.Logger) (*History, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	logger.Debug("history database ready", "path", path)
	return &History{db: db, logger: logger}, nil
}

func (h *History) Insert(row SummaryRow) error {
	_, err := h.db.Exec(`INSERT INTO run_summaries (
		run_id, recorded_at, clients, channels, iterations, requests, failures,
		latency_ms, download_mbps, upload_mbps,
		time_count, time_min_ms, time_max_ms, time_mean_ms, time_median_ms, time_std_ms,
		fps_min, fps_max, fps_mean, fps_median, fps_std
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.RunID, row.Timestamp.UTC(), row.Clients, row.Channels, row.Iterations, row.Requests, row.Failures,
		nullable(row.LatencyMs, true), nullable(row.DownloadMbps, true), nullable(row.UploadMbps, true),
		row.Time.Count,
		nullable(row.Time.Min, row.Time.Count > 0), nullable(row.Time.Max, row.Time.Count > 0),
		nullable(row.Time.Mean, row.Time.Count > 0), nullable(row.Time.Median, row.Time.Count > 0),
		nullable(row.Time.StdDev, row.Time.StdDevValid),
		nullable(row.FPS.Min, row.FPS.Count > 0), nullable(row.FPS.Max, row.FPS.Count > 0),
		nullable(row.FPS.Mean, row.FPS.Count > 0), nullable(row.FPS.Median, row.FPS.Count > 0),
		nullable(row.FPS.StdDev, row.FPS.StdDevValid),
	)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

// Runs returns the rows recorded for runID in insertion order.
func (h *History) Runs(runID string) ([]SummaryRow, error) {
	rows, err := h.db.Query(`SELECT run_id, recorded_at, clients, channels, iterations, requests, failures,
		latency_ms, download_mbps, upload_mbps,
		time_count, time_min_ms, time_max_ms, time_mean_ms, time_median_ms, time_std_ms,
		fps_min, fps_max, fps_mean, fps_median, fps_std
		FROM run_summaries WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []SummaryRow
	for rows.Next() {
		var (
			r                       SummaryRow
			recordedAt              time.Time
			latency, down, up       sql.NullFloat64
			tMin, tMax, tMean, tMed sql.NullFloat64
			tStd                    sql.NullFloat64
			fMin, fMax, fMean, fMed sql.NullFloat64
			fStd                    sql.NullFloat64
		)
		if err := rows.Scan(&r.RunID, &recordedAt, &r.Clients, &r.Channels, &r.Iterations, &r.Requests, &r.Failures,
			&latency, &down, &up,
			&r.Time.Count, &tMin, &tMax, &tMean, &tMed, &tStd,
			&fMin, &fMax, &fMean, &fMed, &fStd); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		r.Timestamp = recordedAt
		r.LatencyMs, r.DownloadMbps, r.UploadMbps = orNaN(latency), orNaN(down), orNaN(up)
		r.Time.Min, r.Time.Max, r.Time.Mean, r.Time.Median = tMin.Float64, tMax.Float64, tMean.Float64, tMed.Float64
		r.Time.StdDev, r.Time.StdDevValid = tStd.Float64, tStd.Valid
		r.FPS = stats.Summary{
			Count:       r.Time.Count,
			Min:         fMin.Float64,
			Max:         fMax.Float64,
			Mean:        fMean.Float64,
			Median:      fMed.Float64,
			StdDev:      fStd.Float64,
			StdDevValid: fStd.Valid,
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (h *History) Close() error {
	return h.db.Close()
}

func nullable(v float64, valid bool) sql.NullFloat64 {
	if !valid || math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
