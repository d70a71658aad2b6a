package store

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// MeasurementHeader is the first row of every measurement file.
var MeasurementHeader = []string{"client_id", "iteration_index", "elapsed_time_ms", "result_or_error"}

// MeasurementRow is one load-test request.
type MeasurementRow struct {
	ClientID      int
	Iteration     int
	ElapsedMs     float64
	ResultOrError string
}

// MeasurementWriter appends raw measurements for one clients/channels
// combination.
type MeasurementWriter struct {
	csv *csvFile
}

// MeasurementPath is the file used for a combination inside dir.
func MeasurementPath(dir string, clients, channels int) string {
	return filepath.Join(dir, fmt.Sprintf("measurements_c%d_ch%d.csv", clients, channels))
}

func OpenMeasurementWriter(dir string, clients, channels int) (*MeasurementWriter, error) {
	f, err := openCSV(MeasurementPath(dir, clients, channels), MeasurementHeader)
	if err != nil {
		return nil, err
	}
	return &MeasurementWriter{csv: f}, nil
}

// Write appends rows and flushes them to disk.
func (w *MeasurementWriter) Write(rows ...MeasurementRow) error {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{
			strconv.Itoa(r.ClientID),
			strconv.Itoa(r.Iteration),
			formatFloat(r.ElapsedMs),
			r.ResultOrError,
		})
	}
	return w.csv.write(records...)
}

func (w *MeasurementWriter) Path() string {
	return w.csv.path
}

func (w *MeasurementWriter) Close() error {
	return w.csv.close()
}
