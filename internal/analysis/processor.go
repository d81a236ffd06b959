// SPDX-License-Identifier: MIT
package analysis

// FrequencySnapshot holds one unsigned 8-bit magnitude per frequency bin,
// captured at one instant. Snapshots are recreated every tick.
type FrequencySnapshot []uint8

// IsZero reports whether every bin is zero (or the snapshot is empty).
func (s FrequencySnapshot) IsZero() bool {
	for _, v := range s {
		if v != 0 {
			return false
		}
	}
	return true
}

// SpectrumProvider defines an interface for components that expose the
// byte-scaled spectrum of a live signal. Implementations must never block.
type SpectrumProvider interface {
	// Sample returns the most recent magnitudes. An all-zero snapshot means
	// the provider has not warmed up; an empty one means it is detached.
	Sample() FrequencySnapshot
}

// SpectrumInfo describes the frequency layout of a spectrum analyser.
type SpectrumInfo interface {
	BinFrequency(binIndex int) float64 // BinFrequency returns the center frequency (Hz) for a bin.
	FFTSize() int                      // FFTSize returns the number of points of the FFT.
	SampleRate() float64               // SampleRate returns the sample rate used for the analysis.
}
