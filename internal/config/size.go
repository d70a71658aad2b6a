package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseSize parses a human-readable size string to bytes.
// Supports formats: "100", "500kb", "8mb", "1gb" (case insensitive).
// Units are decimal: kb=1000, mb=1000000, gb=1000000000.
func ParseSize(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}

	multiplier := int64(1)
	numStr := s
	switch {
	case strings.HasSuffix(s, "kb"):
		multiplier = 1_000
		numStr = s[:len(s)-2]
	case strings.HasSuffix(s, "mb"):
		multiplier = 1_000_000
		numStr = s[:len(s)-2]
	case strings.HasSuffix(s, "gb"):
		multiplier = 1_000_000_000
		numStr = s[:len(s)-2]
	}

	numStr = strings.TrimSpace(numStr)
	if numStr == "" {
		return 0, fmt.Errorf("invalid size value: %q", s)
	}

	value, err := strconv.ParseFloat(numStr, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("invalid size value: %q", s)
	}
	if value < 0 {
		return 0, fmt.Errorf("size cannot be negative: %q", s)
	}
	return int64(value * float64(multiplier)), nil
}
