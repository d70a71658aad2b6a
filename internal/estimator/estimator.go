// Package estimator defines the contract between the gateway and a
// synchrophasor/ROCOF estimation engine, and ships a reference engine.
package estimator

import "errors"

var (
	// ErrNoEstimate is returned when a window produces no result.
	ErrNoEstimate = errors.New("estimator produced no result")
	// ErrInvalidConfig is returned by Configure for unusable parameters.
	ErrInvalidConfig = errors.New("invalid estimator configuration")
)

// Config carries every estimator parameter. Field names follow the
// estimation literature (P and Q are the e-IpDFT and i-IpDFT iteration counts).
type Config struct {
	NCycles     int
	SampleRate  int
	NominalFreq int

	FrameRate             int
	NBins                 int
	P                     int
	IterEIpDFT            int
	Q                     int
	InterferenceThreshold float64

	RocofThresholds [3]float64
	RocofLowPass    [3]float64
}

// WindowLength is the number of samples one estimate expects.
func (c Config) WindowLength() int {
	if c.NominalFreq == 0 {
		return 0
	}
	return c.NCycles * c.SampleRate / c.NominalFreq
}

// Result is one channel's estimate. The gateway treats it as opaque.
type Result struct {
	Amplitude    float64 `json:"amplitude"`
	Phase        float64 `json:"phase"`
	Frequency    float64 `json:"frequency"`
	ROCOF        float64 `json:"rocof"`
	Interference bool    `json:"interference"`
}

// Estimator is a single configured estimation engine. Implementations are not
// required to be safe for concurrent use; callers serialize access.
type Estimator interface {
	Configure(cfg Config) error
	Estimate(samples []float64, midWindowFraction float64) (*Result, error)
	Close() error
}

// Factory builds an unconfigured estimator.
type Factory func() Estimator
