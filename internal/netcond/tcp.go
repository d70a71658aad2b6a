package netcond

import (
	"context"
	"net"
	"time"
)

// pingTCP times TCP handshakes to host:port. Where the kernel exposes
// TCP_INFO its smoothed RTT for the connection is used instead of the
// user-space connect time.
func pingTCP(ctx context.Context, host, port string, samples int, timeout time.Duration) *probeWindow {
	window := newProbeWindow(samples)
	addr := net.JoinHostPort(host, port)
	for i := 0; i < samples; i++ {
		if ctx.Err() != nil {
			window.addSample(false, 0)
			continue
		}
		rtt, err := connectRTT(ctx, addr, timeout)
		window.addSample(err == nil, rtt)
	}
	return window
}

func connectRTT(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error) {
	dialer := net.Dialer{Timeout: timeout}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, err
	}
	elapsed := time.Since(start)
	defer conn.Close()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if rtt, err := kernelRTT(tcpConn); err == nil && rtt > 0 {
			return rtt, nil
		}
	}
	return elapsed, nil
}
