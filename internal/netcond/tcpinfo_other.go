//go:build !linux

package netcond

import (
	"errors"
	"net"
	"time"
)

func kernelRTT(*net.TCPConn) (time.Duration, error) {
	return 0, errors.New("TCP_INFO not supported on this platform")
}
