package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestProbeDownload(t *testing.T) {
	_, ts := newTestServer(t, "")
	resp, err := http.Get(ts.URL + "/probe/download?bytes=100000")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.StatusCode != http.StatusOK || n != 100000 {
		t.Fatalf("expected 100000 bytes with status 200, got %d bytes status %d", n, resp.StatusCode)
	}
}

func TestProbeDownloadRejectsBadSize(t *testing.T) {
	_, ts := newTestServer(t, "probe:\n  max_bytes: 1kb\n")
	for _, q := range []string{"", "?bytes=abc", "?bytes=0", "?bytes=2000"} {
		resp, err := http.Get(ts.URL + "/probe/download" + q)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%q: expected status 400, got %d", q, resp.StatusCode)
		}
	}
}

func TestProbeUpload(t *testing.T) {
	_, ts := newTestServer(t, "")
	resp, body := post(t, ts.URL+"/probe/upload", strings.Repeat("x", 4096))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	var out probeUploadResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Bytes != 4096 {
		t.Fatalf("expected 4096 bytes, got %d", out.Bytes)
	}
}

func TestProbeDisabled(t *testing.T) {
	_, ts := newTestServer(t, "probe:\n  enabled: false\n")
	resp, err := http.Get(ts.URL + "/probe/download?bytes=10")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.StatusCode)
	}
}
