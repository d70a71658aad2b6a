//go:build linux

package netcond

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// kernelRTT reads the smoothed RTT from TCP_INFO.
func kernelRTT(conn *net.TCPConn) (time.Duration, error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("syscall conn: %w", err)
	}

	var info *unix.TCPInfo
	var sockErr error
	if err := rawConn.Control(func(fd uintptr) {
		info, sockErr = unix.GetsockoptTCPInfo(int(fd), unix.IPPROTO_TCP, unix.TCP_INFO)
	}); err != nil {
		return 0, fmt.Errorf("control syscall: %w", err)
	}
	if sockErr != nil {
		return 0, fmt.Errorf("getsockopt TCP_INFO: %w", sockErr)
	}
	if info == nil {
		return 0, fmt.Errorf("getsockopt TCP_INFO: nil info")
	}
	// info.Rtt is in microseconds.
	return time.Duration(info.Rtt) * time.Microsecond, nil
}
