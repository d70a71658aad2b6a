// Package stats summarises benchmark timings.
package stats

import (
	"errors"
	"math"
	"sort"
)

var (
	// ErrNoSamples is returned when a summary is requested over no values.
	ErrNoSamples = errors.New("no samples")
	// ErrInsufficientSamples is returned when the sample standard deviation
	// is requested over fewer than two values.
	ErrInsufficientSamples = errors.New("sample standard deviation needs at least two samples")
)

// Summary describes a set of values. StdDev is only meaningful when
// StdDevValid is set.
type Summary struct {
	Count       int
	Min         float64
	Max         float64
	Mean        float64
	Median      float64
	StdDev      float64
	StdDevValid bool
}

// Accumulator tracks count, mean and the sum of squared deviations with
// Welford's method.
type Accumulator struct {
	count int
	mean  float64
	m2    float64
	min   float64
	max   float64
}

func (a *Accumulator) Add(value float64) {
	if a.count == 0 || value < a.min {
		a.min = value
	}
	if a.count == 0 || value > a.max {
		a.max = value
	}
	a.count++
	delta := value - a.mean
	a.mean += delta / float64(a.count)
	delta2 := value - a.mean
	a.m2 += delta * delta2
}

func (a *Accumulator) Count() int {
	return a.count
}

func (a *Accumulator) Mean() float64 {
	return a.mean
}

// StdDev returns the sample (n-1) standard deviation.
func (a *Accumulator) StdDev() (float64, error) {
	if a.count < 2 {
		return 0, ErrInsufficientSamples
	}
	return math.Sqrt(a.m2 / float64(a.count-1)), nil
}

// Summarize computes min, max, mean, median and sample standard deviation.
// A single value yields a summary with StdDevValid unset.
func Summarize(values []float64) (Summary, error) {
	if len(values) == 0 {
		return Summary{}, ErrNoSamples
	}
	var acc Accumulator
	for _, v := range values {
		acc.Add(v)
	}
	median, err := Median(values)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{
		Count:  acc.count,
		Min:    acc.min,
		Max:    acc.max,
		Mean:   acc.mean,
		Median: median,
	}
	if sd, err := acc.StdDev(); err == nil {
		s.StdDev = sd
		s.StdDevValid = true
	}
	return s, nil
}

// StdDev returns the sample standard deviation of values.
func StdDev(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrNoSamples
	}
	var acc Accumulator
	for _, v := range values {
		acc.Add(v)
	}
	return acc.StdDev()
}

// Median returns the middle value, averaging the two middle values for an
// even count. values is not modified.
func Median(values []float64) (float64, error) {
	n := len(values)
	if n == 0 {
		return 0, ErrNoSamples
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2], nil
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2, nil
}

// PerRequestFPS converts elapsed milliseconds into frames per second.
// Non-positive durations are skipped.
func PerRequestFPS(elapsedMs []float64) []float64 {
	out := make([]float64, 0, len(elapsedMs))
	for _, ms := range elapsedMs {
		if ms > 0 {
			out = append(out, 1000/ms)
		}
	}
	return out
}

// FPS derives frames-per-second figures from a timing summary in
// milliseconds. Min, max, mean and median are reciprocals of the timing
// statistics, so the fastest request gives the maximum rate. The standard
// deviation is the sample deviation of the per-request rates.
func FPS(timing Summary, perRequest []float64) (Summary, error) {
	if timing.Count == 0 {
		return Summary{}, ErrNoSamples
	}
	out := Summary{
		Count:  timing.Count,
		Min:    reciprocalMs(timing.Max),
		Max:    reciprocalMs(timing.Min),
		Mean:   reciprocalMs(timing.Mean),
		Median: reciprocalMs(timing.Median),
	}
	if sd, err := StdDev(perRequest); err == nil {
		out.StdDev = sd
		out.StdDevValid = true
	}
	return out, nil
}

func reciprocalMs(ms float64) float64 {
	if ms <= 0 {
		return math.Inf(1)
	}
	return 1000 / ms
}
