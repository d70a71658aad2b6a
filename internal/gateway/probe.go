package gateway

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
)

const probeChunkSize = 32 * 1024

var probeChunk = make([]byte, probeChunkSize)

type probeUploadResponse struct {
	Bytes int64 `json:"bytes"`
}

// handleProbeDownload streams ?bytes=N zero bytes for bandwidth measurement.
func (s *Server) handleProbeDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed", Kind: KindValidation})
		return
	}
	limit := s.cfg.Probe.MaxBytesValue()
	n, err := strconv.ParseInt(r.URL.Query().Get("bytes"), 10, 64)
	if err != nil || n <= 0 || n > limit {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: fmt.Sprintf("bytes must be in 1..%d", limit),
			Kind:  KindValidation,
		})
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(n, 10))
	w.WriteHeader(http.StatusOK)

	var written int64
	for written < n {
		chunk := probeChunk
		if remaining := n - written; remaining < int64(len(chunk)) {
			chunk = chunk[:remaining]
		}
		m, err := w.Write(chunk)
		written += int64(m)
		if err != nil {
			s.logger.Debug("probe download aborted", "remote", r.RemoteAddr, "written", written, "error", err)
			break
		}
	}
	s.metrics.AddProbeBytes("download", written)
}

// handleProbeUpload discards the request body and reports its size.
func (s *Server) handleProbeUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed", Kind: KindValidation})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Probe.MaxBytesValue())
	n, err := io.Copy(io.Discard, r.Body)
	s.metrics.AddProbeBytes("upload", n)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: KindValidation})
		return
	}
	writeJSON(w, http.StatusOK, probeUploadResponse{Bytes: n})
}
