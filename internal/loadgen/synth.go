package loadgen

import (
	"math"

	"github.com/NodePath81/pmugateway/internal/codec"
	"github.com/NodePath81/pmugateway/internal/protocol"
)

// WindowSamples is the number of samples in one estimation window.
func WindowSamples(sig protocol.Signal) int {
	if sig.NominalFreq <= 0 {
		return 0
	}
	return sig.NCycles * sig.SampleRate / sig.NominalFreq
}

// Waveform returns n samples of amp*sin(2*pi*freq*i/fs + phase).
func Waveform(n int, fs, freq, amp, phase float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/fs+phase)
	}
	return out
}

// Synthesize builds channels 1..count. The payloads do not depend on the
// timestamp, so one set serves every frame of a run.
func Synthesize(sig protocol.Signal, s Signal, count int) []protocol.Channel {
	n := WindowSamples(sig)
	out := make([]protocol.Channel, 0, count)
	for ch := 1; ch <= count; ch++ {
		freq := s.BaseFrequency + s.FrequencyStep*float64(ch)
		samples := Waveform(n, float64(sig.SampleRate), freq, s.Amplitude, s.Phase)
		out = append(out, protocol.Channel{
			ChannelNumber: ch,
			Payload:       codec.EncodeSamples(samples),
		})
	}
	return out
}

// Advance moves ts forward by one frame period.
func Advance(ts protocol.Timestamp, frameRate int) protocol.Timestamp {
	if frameRate <= 0 || ts.Timebase == 0 {
		return ts
	}
	ts.FRACSEC += ts.Timebase / uint64(frameRate)
	for ts.FRACSEC >= ts.Timebase {
		ts.FRACSEC -= ts.Timebase
		ts.SOC++
	}
	return ts
}
