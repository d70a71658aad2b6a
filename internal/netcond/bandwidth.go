package netcond

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// bandwidthClient transfers payloads through the gateway probe endpoints.
type bandwidthClient struct {
	base *url.URL
	http *http.Client
}

func newBandwidthClient(base *url.URL, timeout time.Duration) *bandwidthClient {
	return &bandwidthClient{base: base, http: &http.Client{Timeout: 30*time.Second + 10*timeout}}
}

func (c *bandwidthClient) endpoint(path string) *url.URL {
	u := *c.base
	u.Path = u.Path + path
	u.RawQuery = ""
	return &u
}

func (c *bandwidthClient) download(ctx context.Context, size int64) (float64, error) {
	u := c.endpoint("/probe/download")
	u.RawQuery = url.Values{"bytes": {strconv.FormatInt(size, 10)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return 0, err
	}
	if n != size {
		return 0, fmt.Errorf("received %d of %d bytes", n, size)
	}
	return mbps(n, time.Since(start)), nil
}

func (c *bandwidthClient) upload(ctx context.Context, size int64) (float64, error) {
	body := io.LimitReader(zeroReader{}, size)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/probe/upload").String(), body)
	if err != nil {
		return 0, err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	elapsed := time.Since(start)
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var reply struct {
		Bytes int64 `json:"bytes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return 0, fmt.Errorf("decode reply: %w", err)
	}
	if reply.Bytes != size {
		return 0, fmt.Errorf("server received %d of %d bytes", reply.Bytes, size)
	}
	return mbps(size, elapsed), nil
}

func mbps(bytes int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		elapsed = time.Microsecond
	}
	return float64(bytes) * 8 / elapsed.Seconds() / 1e6
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
