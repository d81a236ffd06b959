// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"
	"math/cmplx"
	"strings"
	"sync"

	"reactor/internal/log"
	"reactor/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc defines the type for selecting an FFT window function.
type WindowFunc int

// Enum for available window functions.
const (
	BartlettHann WindowFunc = iota
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
)

// Decibel range mapped onto the 0..255 byte scale.
const (
	MinDecibels = -100.0
	MaxDecibels = -30.0
)

// Pre-allocated buffers for spectrum calculations.
type spectrumWorkspace struct {
	input     []float64    // Windowed input signal.
	fftOutput []complex128 // FFT complex results (fftSize/2 + 1).
	smoothed  []float64    // Temporally smoothed magnitudes, one per bin.
	window    []float64    // Pre-calculated window coefficients.
}

// Analyser converts blocks of time-domain samples into byte-scaled frequency
// magnitudes: windowed real FFT, magnitude normalised by the FFT size,
// exponential smoothing across calls, and a dB mapping of
// [MinDecibels, MaxDecibels] onto 0..255.
type Analyser struct {
	fftCalculator *fourier.FFT
	fftSize       int
	sampleRate    float64
	windowType    WindowFunc

	mu        sync.Mutex // Guards workspace; Compute may be called from several goroutines.
	workspace spectrumWorkspace
}

var _ SpectrumInfo = (*Analyser)(nil)

// NewAnalyser creates an analyser. fftSize must be a power of two.
func NewAnalyser(fftSize int, sampleRate float64, windowType WindowFunc) (*Analyser, error) {
	if !bitint.IsPowerOfTwo(fftSize) || fftSize < 2 {
		return nil, fmt.Errorf("fft size must be a power of 2, got %d", fftSize)
	}
	if sampleRate <= 0 || math.IsNaN(sampleRate) {
		return nil, fmt.Errorf("sample rate must be positive, got %f", sampleRate)
	}

	windowCoeffs := make([]float64, fftSize)
	applyWindow(windowCoeffs, windowType)

	log.Debugf("Analysis: Initializing Analyser (Size: %d, SampleRate: %.1f Hz, Window: %v)", fftSize, sampleRate, windowType)

	return &Analyser{
		fftCalculator: fourier.NewFFT(fftSize),
		fftSize:       fftSize,
		sampleRate:    sampleRate,
		windowType:    windowType,
		workspace: spectrumWorkspace{
			input:     make([]float64, fftSize),
			fftOutput: make([]complex128, fftSize/2+1),
			smoothed:  make([]float64, fftSize/2),
			window:    windowCoeffs,
		},
	}, nil
}

// Bins returns the number of magnitude bins produced (fftSize/2).
func (a *Analyser) Bins() int { return a.fftSize / 2 }

// Compute analyses the last fftSize samples of block and writes one byte per
// bin into dst, which must hold Bins() entries. Shorter blocks are
// zero-padded at the front. smoothing is the time constant in [0, 1).
func (a *Analyser) Compute(dst FrequencySnapshot, block []float32, smoothing float64) error {
	if len(dst) != a.Bins() {
		return fmt.Errorf("destination length %d does not match bin count %d", len(dst), a.Bins())
	}
	if !(smoothing >= 0) {
		smoothing = 0
	}
	if smoothing >= 1 {
		smoothing = 0.99
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ws := &a.workspace
	offset := len(block) - a.fftSize
	for i := range a.fftSize {
		j := offset + i
		if j < 0 {
			ws.input[i] = 0
			continue
		}
		ws.input[i] = float64(block[j]) * ws.window[i]
	}

	a.fftCalculator.Coefficients(ws.fftOutput, ws.input)

	const dbRange = MaxDecibels - MinDecibels
	scale := 1.0 / float64(a.fftSize)
	for i := range ws.smoothed {
		mag := cmplx.Abs(ws.fftOutput[i]) * scale
		if math.IsNaN(mag) || math.IsInf(mag, 0) {
			mag = 0
		}
		v := smoothing*ws.smoothed[i] + (1-smoothing)*mag
		ws.smoothed[i] = v

		if v <= 0 {
			dst[i] = 0
			continue
		}
		db := 20 * math.Log10(v)
		scaled := 255 * (db - MinDecibels) / dbRange
		switch {
		case scaled <= 0:
			dst[i] = 0
		case scaled >= 255:
			dst[i] = 255
		default:
			dst[i] = uint8(scaled)
		}
	}
	return nil
}

// Reset clears the smoothing history.
func (a *Analyser) Reset() {
	a.mu.Lock()
	clear(a.workspace.smoothed)
	a.mu.Unlock()
}

// BinFrequency returns the center frequency (Hz) for a given bin index.
func (a *Analyser) BinFrequency(binIndex int) float64 {
	if binIndex < 0 || binIndex >= a.Bins() {
		return 0.0
	}
	return float64(binIndex) * (a.sampleRate / float64(a.fftSize))
}

// FFTSize returns the configured FFT size (number of points).
func (a *Analyser) FFTSize() int { return a.fftSize }

// SampleRate returns the configured sample rate (Hz).
func (a *Analyser) SampleRate() float64 { return a.sampleRate }

// String returns the window function name.
func (w WindowFunc) String() string {
	switch w {
	case BartlettHann:
		return "BartlettHann"
	case Blackman:
		return "Blackman"
	case BlackmanNuttall:
		return "BlackmanNuttall"
	case Hann:
		return "Hann"
	case Hamming:
		return "Hamming"
	case Lanczos:
		return "Lanczos"
	case Nuttall:
		return "Nuttall"
	default:
		return fmt.Sprintf("WindowFunc(%d)", int(w))
	}
}

// ParseWindowFunc converts a string name (case-insensitive) to a WindowFunc
// enum, returns a known default (Hann) and an error if the name is unknown.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(name) {
	case "bartletthann":
		return BartlettHann, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "hann", "hanning", "":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "lanczos":
		return Lanczos, nil
	case "nuttall":
		return Nuttall, nil
	default:
		return Hann, fmt.Errorf("unknown FFT window function name: '%s'", name)
	}
}

// applyWindow fills coeffs with the selected window. Unknown types fall back
// to Hann.
func applyWindow(coeffs []float64, windowType WindowFunc) {
	// Window funcs scale in place, so start from ones.
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	switch windowType {
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Hann:
		window.Hann(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	default:
		log.Warnf("Analysis: Unknown window function type %d, defaulting to Hann", windowType)
		window.Hann(coeffs)
	}
}
