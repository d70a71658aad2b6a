package util

import (
	"net"
	"strconv"
)

func NetJoin(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// BoolValue dereferences an optional YAML flag, using fallback when unset.
func BoolValue(ptr *bool, fallback bool) bool {
	if ptr != nil {
		return *ptr
	}
	return fallback
}
