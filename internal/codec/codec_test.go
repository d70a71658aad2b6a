package codec

import (
	"encoding/base64"
	"errors"
	"math"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	windows := [][]float64{
		{},
		{0},
		{1.5, -2.25, math.Pi, math.MaxFloat64, math.SmallestNonzeroFloat64, math.Inf(-1)},
	}
	ramp := make([]float64, 256)
	for i := range ramp {
		ramp[i] = math.Sin(float64(i) / 10)
	}
	windows = append(windows, ramp)

	for _, want := range windows {
		got, err := DecodeSamples(EncodeSamples(want))
		if err != nil {
			t.Fatalf("DecodeSamples: unexpected error: %v", err)
		}
		if len(got) != len(want) {
			t.Fatalf("len = %d, want %d", len(got), len(want))
		}
		for i := range want {
			if math.Float64bits(got[i]) != math.Float64bits(want[i]) {
				t.Fatalf("sample %d = %v, want %v", i, got[i], want[i])
			}
		}
	}
}

func TestDecodeNaNPreserved(t *testing.T) {
	got, err := DecodeSamples(EncodeSamples([]float64{math.NaN()}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !math.IsNaN(got[0]) {
		t.Fatalf("sample = %v, want NaN", got[0])
	}
}

func TestDecodeLittleEndian(t *testing.T) {
	// 1.0 is 0x3FF0000000000000.
	raw := []byte{0, 0, 0, 0, 0, 0, 0xf0, 0x3f}
	got, err := DecodeSamples(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != 1.0 {
		t.Fatalf("DecodeSamples = %v, want [1]", got)
	}
}

func TestDecodeRejectsPartialSample(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString(make([]byte, 7))
	got, err := DecodeSamples(payload)
	if err == nil {
		t.Fatalf("expected error for 7-byte payload, got %v", got)
	}
	if !errors.Is(err, ErrDecode) || !errors.Is(err, ErrPayloadLength) {
		t.Fatalf("error = %v, want ErrDecode and ErrPayloadLength", err)
	}
	if got != nil {
		t.Fatalf("samples = %v, want nil", got)
	}

	if _, err := DecodeSamples(base64.StdEncoding.EncodeToString(make([]byte, 17))); !errors.Is(err, ErrPayloadLength) {
		t.Fatalf("17-byte payload error = %v, want ErrPayloadLength", err)
	}
}

func TestDecodeRejectsBadBase64(t *testing.T) {
	_, err := DecodeSamples("not*base64!")
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("error = %v, want ErrDecode", err)
	}
	if errors.Is(err, ErrPayloadLength) {
		t.Fatalf("malformed base64 must not be reported as a length error")
	}
}

func TestMidWindowFraction(t *testing.T) {
	if got := MidWindowFraction(0, 0); got != 0 {
		t.Fatalf("MidWindowFraction(0, 0) = %v, want 0", got)
	}
	if got := MidWindowFraction(500000, 0); got != 0 {
		t.Fatalf("MidWindowFraction(500000, 0) = %v, want 0", got)
	}
	if got := MidWindowFraction(500000, 1000000); got != 0.5 {
		t.Fatalf("MidWindowFraction(500000, 1000000) = %v, want 0.5", got)
	}
	if got := MidWindowFraction(1, 3); math.Abs(got-1.0/3.0) > 1e-15 {
		t.Fatalf("MidWindowFraction(1, 3) = %v, want 1/3", got)
	}
}
