// Package store persists benchmark measurements and run summaries.
package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
)

// csvFile is an append-only CSV file whose header is written once.
type csvFile struct {
	path   string
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// openCSV opens path for appending and writes header unless the file's
// first row already is that header.
func openCSV(path string, header []string) (*csvFile, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	hasHeader, err := firstRowIs(f, header)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if !hasHeader {
		if err := w.Write(header); err != nil {
			f.Close()
			return nil, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &csvFile{path: path, file: f, writer: w}, nil
}

func firstRowIs(f *os.File, header []string) (bool, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false, err
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	row, err := r.Read()
	if err != nil {
		// Empty file or an unreadable first row.
		return false, nil
	}
	return slices.Equal(row, header), nil
}

func (c *csvFile) write(records ...[]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range records {
		if err := c.writer.Write(rec); err != nil {
			return err
		}
	}
	c.writer.Flush()
	return c.writer.Error()
}

func (c *csvFile) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		c.file.Close()
		return err
	}
	return c.file.Close()
}

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 4, 64)
}
