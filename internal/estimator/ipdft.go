package estimator

import (
	"fmt"
	"math"
	"math/cmplx"
)

// IpDFT is the reference estimator: a Hann-windowed interpolated DFT with
// negative-image compensation (e-IpDFT) and a low-pass ROCOF stage. The
// ROCOF stage follows one signal, so each channel needs its own IpDFT.
type IpDFT struct {
	cfg        Config
	configured bool

	window  []float64
	twiddle []complex128

	prevFreq  float64
	havePrev  bool
	rocofTaps [2]float64
}

// New returns an unconfigured IpDFT estimator.
func New() Estimator {
	return &IpDFT{}
}

func (e *IpDFT) Configure(cfg Config) error {
	if cfg.NCycles <= 0 || cfg.SampleRate <= 0 || cfg.NominalFreq <= 0 {
		return fmt.Errorf("%w: signal parameters must be > 0", ErrInvalidConfig)
	}
	if cfg.FrameRate <= 0 {
		return fmt.Errorf("%w: frame_rate must be > 0", ErrInvalidConfig)
	}
	n := cfg.WindowLength()
	if n < 4 {
		return fmt.Errorf("%w: window of %d samples is too short", ErrInvalidConfig, n)
	}
	if cfg.NBins < 3 || cfg.NBins > n/2 {
		return fmt.Errorf("%w: number_of_dft_bins must be in 3..%d", ErrInvalidConfig, n/2)
	}
	if cfg.P < 0 || cfg.Q < 0 {
		return fmt.Errorf("%w: iteration counts must be >= 0", ErrInvalidConfig)
	}

	window := make([]float64, n)
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	twiddle := make([]complex128, n)
	for i := range twiddle {
		twiddle[i] = cmplx.Rect(1, -2*math.Pi*float64(i)/float64(n))
	}
	*e = IpDFT{cfg: cfg, configured: true, window: window, twiddle: twiddle}
	return nil
}

func (e *IpDFT) Close() error {
	*e = IpDFT{}
	return nil
}

func (e *IpDFT) Estimate(samples []float64, midWindowFraction float64) (*Result, error) {
	if !e.configured {
		return nil, fmt.Errorf("%w: not configured", ErrNoEstimate)
	}
	n := len(e.window)
	if len(samples) != n {
		return nil, fmt.Errorf("%w: window has %d samples, want %d", ErrNoEstimate, len(samples), n)
	}

	spectrum := e.dft(samples)
	k := peakBin(spectrum)
	if k <= 0 || k >= len(spectrum)-1 || cmplx.Abs(spectrum[k]) == 0 {
		return nil, fmt.Errorf("%w: no spectral peak", ErrNoEstimate)
	}

	lambda, amp, phase := e.enhanced(spectrum, k, n)

	interference := false
	if e.cfg.IterEIpDFT != 0 {
		lo, hi := e.binRange(k, len(spectrum))
		interference = residualRatio(spectrum[lo:hi], lo, lambda, amp, phase, n) > e.cfg.InterferenceThreshold
		for i := 0; interference && i < e.cfg.Q; i++ {
			cleaned, ok := removeInterferer(spectrum, k, lambda, amp, phase, n)
			if !ok {
				break
			}
			lambda, amp, phase = e.enhanced(cleaned, k, n)
		}
	}

	fs := float64(e.cfg.SampleRate)
	freq := lambda * fs / float64(n)
	// Reference the phase to the centre of the window, then to the frame time.
	phase += math.Pi * lambda * float64(n-1) / float64(n)
	phase -= 2 * math.Pi * float64(e.cfg.NominalFreq) * midWindowFraction
	phase = wrapPhase(phase)
	if !finite(amp, phase, freq) {
		return nil, fmt.Errorf("%w: non-finite estimate", ErrNoEstimate)
	}

	return &Result{
		Amplitude:    amp,
		Phase:        phase,
		Frequency:    freq,
		ROCOF:        e.rocof(freq),
		Interference: interference,
	}, nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// rocof differentiates successive frequency estimates and smooths them with
// the configured three-tap low-pass. Threshold 1 bounds the frequency
// deviation, threshold 2 rejects steps, threshold 3 is the noise floor.
func (e *IpDFT) rocof(freq float64) float64 {
	if !e.havePrev {
		e.prevFreq = freq
		e.havePrev = true
		return 0
	}
	th := e.cfg.RocofThresholds
	raw := (freq - e.prevFreq) * float64(e.cfg.FrameRate)
	e.prevFreq = freq
	if th[0] > 0 && math.Abs(freq-float64(e.cfg.NominalFreq)) > th[0] {
		raw = 0
	}
	if th[1] > 0 && math.Abs(raw) > th[1] {
		raw = e.rocofTaps[0]
	}
	lp := e.cfg.RocofLowPass
	out := lp[0]*raw + lp[1]*e.rocofTaps[0] + lp[2]*e.rocofTaps[1]
	e.rocofTaps[1] = e.rocofTaps[0]
	e.rocofTaps[0] = raw
	if math.Abs(out) < th[2] {
		return 0
	}
	return out
}

func (e *IpDFT) dft(samples []float64) []complex128 {
	n := len(samples)
	out := make([]complex128, n/2)
	for k := range out {
		var acc complex128
		for i, s := range samples {
			acc += complex(s*e.window[i], 0) * e.twiddle[(k*i)%n]
		}
		out[k] = acc
	}
	return out
}

func peakBin(spectrum []complex128) int {
	best := 0
	var bestMag float64
	for k := 1; k < len(spectrum); k++ {
		if m := cmplx.Abs(spectrum[k]); m > bestMag {
			best, bestMag = k, m
		}
	}
	return best
}

// interpolate applies the Hann two-point interpolation around bin k and
// returns the fractional bin, amplitude and phase of the positive tone.
func interpolate(spectrum []complex128, k, n int) (lambda, amp, phase float64) {
	mk := cmplx.Abs(spectrum[k])
	eps := 1.0
	if cmplx.Abs(spectrum[k-1]) > cmplx.Abs(spectrum[k+1]) {
		eps = -1.0
	}
	alpha := cmplx.Abs(spectrum[k+int(eps)]) / mk
	delta := eps * (2*alpha - 1) / (alpha + 1)
	lambda = float64(k) + delta
	kernel := hannKernel(-delta, n)
	amp = 2 * mk / cmplx.Abs(kernel)
	phase = cmplx.Phase(spectrum[k]) - cmplx.Phase(kernel)
	return lambda, amp, phase
}

// enhanced runs the interpolation and then P rounds of negative-image
// compensation, each starting from the given spectrum.
func (e *IpDFT) enhanced(spectrum []complex128, k, n int) (lambda, amp, phase float64) {
	lambda, amp, phase = interpolate(spectrum, k, n)
	for i := 0; i < e.cfg.P; i++ {
		corrected := make([]complex128, len(spectrum))
		copy(corrected, spectrum)
		for b := k - 1; b <= k+1; b++ {
			corrected[b] -= tone(amp, -phase, float64(b)+lambda, n)
		}
		lambda, amp, phase = interpolate(corrected, k, n)
	}
	return lambda, amp, phase
}

// removeInterferer fits the strongest tone left after subtracting the
// fundamental and returns the spectrum with that tone removed.
func removeInterferer(spectrum []complex128, k int, lambda, amp, phase float64, n int) ([]complex128, bool) {
	residual := make([]complex128, len(spectrum))
	for b := range spectrum {
		residual[b] = spectrum[b] - fundamental(b, lambda, amp, phase, n)
	}
	ki := 0
	var best float64
	for b := 1; b < len(residual)-1; b++ {
		if b >= k-1 && b <= k+1 {
			continue
		}
		if m := cmplx.Abs(residual[b]); m > best {
			ki, best = b, m
		}
	}
	if ki == 0 || best == 0 {
		return nil, false
	}
	li, ai, pi := interpolate(residual, ki, n)
	cleaned := make([]complex128, len(spectrum))
	for b := range spectrum {
		cleaned[b] = spectrum[b] - fundamental(b, li, ai, pi, n)
	}
	return cleaned, true
}

// fundamental is the contribution of a real tone, both images, to bin b.
func fundamental(b int, lambda, amp, phase float64, n int) complex128 {
	return tone(amp, phase, float64(b)-lambda, n) + tone(amp, -phase, float64(b)+lambda, n)
}

func tone(amp, phase, nu float64, n int) complex128 {
	return complex(amp/2, 0) * cmplx.Rect(1, phase) * hannKernel(nu, n)
}

// binRange is the NBins-wide slice of the spectrum centred on bin k.
func (e *IpDFT) binRange(k, size int) (int, int) {
	lo := k - e.cfg.NBins/2
	if lo < 0 {
		lo = 0
	}
	hi := lo + e.cfg.NBins
	if hi > size {
		hi = size
	}
	return lo, hi
}

// residualRatio is the energy left after removing the fitted tone, relative
// to the tone's own energy, over bins starting at offset.
func residualRatio(bins []complex128, offset int, lambda, amp, phase float64, n int) float64 {
	var residual, signal float64
	for i, x := range bins {
		model := fundamental(offset+i, lambda, amp, phase, n)
		diff := x - model
		residual += real(diff)*real(diff) + imag(diff)*imag(diff)
		signal += real(model)*real(model) + imag(model)*imag(model)
	}
	if signal == 0 {
		return 0
	}
	return residual / signal
}

// hannKernel is the DTFT of an N-point Hann window evaluated at nu bins.
func hannKernel(nu float64, n int) complex128 {
	return 0.5*dirichlet(nu, n) - 0.25*dirichlet(nu-1, n) - 0.25*dirichlet(nu+1, n)
}

func dirichlet(nu float64, n int) complex128 {
	den := math.Sin(math.Pi * nu / float64(n))
	var mag float64
	if math.Abs(den) < 1e-12 {
		mag = float64(n)
	} else {
		mag = math.Sin(math.Pi*nu) / den
	}
	return complex(mag, 0) * cmplx.Rect(1, -math.Pi*nu*float64(n-1)/float64(n))
}

func wrapPhase(p float64) float64 {
	p = math.Mod(p+math.Pi, 2*math.Pi)
	if p < 0 {
		p += 2 * math.Pi
	}
	return p - math.Pi
}
