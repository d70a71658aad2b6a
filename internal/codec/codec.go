// Package codec converts channel payloads between their base64 wire form and
// ordered float64 sample windows.
//
// Samples travel as consecutive 8-byte little-endian IEEE-754 doubles. The
// order of the decoded slice is the channel's time axis.
package codec

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const sampleSize = 8

var (
	// ErrDecode is returned for any payload that cannot be turned into samples.
	ErrDecode = errors.New("payload decode failed")
	// ErrPayloadLength indicates a decoded byte length that is not a multiple of 8.
	ErrPayloadLength = errors.New("payload length is not a multiple of 8")
)

// ByteOrder is the byte order shared by encoder and decoder.
var ByteOrder = binary.LittleEndian

// DecodeSamples decodes a base64 payload into samples.
func DecodeSamples(payload string) ([]float64, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(raw)%sampleSize != 0 {
		return nil, fmt.Errorf("%w: %w (%d bytes)", ErrDecode, ErrPayloadLength, len(raw))
	}
	samples := make([]float64, len(raw)/sampleSize)
	for i := range samples {
		bits := ByteOrder.Uint64(raw[i*sampleSize:])
		samples[i] = math.Float64frombits(bits)
	}
	return samples, nil
}

// EncodeSamples is the inverse of DecodeSamples.
func EncodeSamples(samples []float64) string {
	raw := make([]byte, len(samples)*sampleSize)
	for i, s := range samples {
		ByteOrder.PutUint64(raw[i*sampleSize:], math.Float64bits(s))
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// MidWindowFraction returns fracsec/timebase, or 0 when the timebase is unset.
func MidWindowFraction(fracsec, timebase uint64) float64 {
	if timebase == 0 {
		return 0
	}
	return float64(fracsec) / float64(timebase)
}
