// SPDX-License-Identifier: MIT
package analysis

import (
	"context"
	"math"
	"math/cmplx"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Offline tempo analysis parameters.
const (
	TempoMinBPM   = 60.0
	TempoMaxBPM   = 200.0
	tempoPriorBPM = 120.0 // Center of the log-normal tempo prior.
	onsetFFTSize  = 1024
	onsetHop      = 512
	onsetChunk    = 256 // Frames per parallel work unit.
)

// Tempo is the result of DetectTempo.
type Tempo struct {
	BPM        float64
	Confidence float64 // Normalised autocorrelation at the chosen lag, 0..1.
}

// BeatGuess is the result of GuessBeat: tempo plus the offset of the first
// beat from the start of the buffer.
type BeatGuess struct {
	BPM    float64
	Offset time.Duration
}

// Period returns the beat period, or 0 when BPM is unset.
func (b BeatGuess) Period() time.Duration {
	if b.BPM <= 0 {
		return 0
	}
	return time.Duration(float64(time.Minute) / b.BPM)
}

// OnsetEnvelope computes the half-wave rectified spectral flux of pcm, one
// value per onsetHop samples. Frames are transformed in parallel chunks.
func OnsetEnvelope(ctx context.Context, pcm []float32, sampleRate float64) ([]float64, error) {
	if len(pcm) == 0 {
		return nil, ErrNoAudio
	}
	if !(sampleRate > 0) {
		return nil, ErrBadRate
	}
	frames := (len(pcm) - onsetFFTSize) / onsetHop
	if frames < 2 {
		return nil, ErrTooShort
	}

	win := make([]float64, onsetFFTSize)
	for i := range win {
		win[i] = 1
	}
	window.Hann(win)

	flux := make([]float64, frames)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for start := 0; start < frames; start += onsetChunk {
		end := min(start+onsetChunk, frames)
		g.Go(func() error {
			return fluxChunk(ctx, pcm, win, flux, start, end)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return flux, nil
}

// fluxChunk fills flux[start:end]. Each chunk recomputes the frame before
// start so chunks are independent.
func fluxChunk(ctx context.Context, pcm []float32, win, flux []float64, start, end int) error {
	fft := fourier.NewFFT(onsetFFTSize)
	frame := make([]float64, onsetFFTSize)
	coeffs := make([]complex128, onsetFFTSize/2+1)
	prev := make([]float64, len(coeffs))
	cur := make([]float64, len(coeffs))

	magnitudes := func(idx int, dst []float64) {
		off := idx * onsetHop
		for j := range frame {
			frame[j] = float64(pcm[off+j]) * win[j]
		}
		fft.Coefficients(coeffs, frame)
		for j, c := range coeffs {
			dst[j] = cmplx.Abs(c)
		}
	}

	if start > 0 {
		magnitudes(start-1, prev)
	}
	for i := start; i < end; i++ {
		if (i-start)&63 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		magnitudes(i, cur)
		var f float64
		if i > 0 {
			for j := range cur {
				if d := cur[j] - prev[j]; d > 0 {
					f += d
				}
			}
		}
		flux[i] = f
		prev, cur = cur, prev
	}
	return nil
}

// DetectTempo estimates the tempo of pcm by autocorrelating its onset
// envelope over lags spanning TempoMinBPM..TempoMaxBPM, weighted towards
// tempoPriorBPM to resolve octave ambiguity.
func DetectTempo(ctx context.Context, pcm []float32, sampleRate float64) (Tempo, error) {
	env, err := OnsetEnvelope(ctx, pcm, sampleRate)
	if err != nil {
		return Tempo{}, &AnalysisError{Op: "detect tempo", Err: err}
	}
	t, _, err := tempoFromEnvelope(env, sampleRate/onsetHop)
	if err != nil {
		return Tempo{}, &AnalysisError{Op: "detect tempo", Err: err}
	}
	return t, nil
}

// GuessBeat estimates tempo and the phase of the beat grid: the offset in
// [0, period) whose grid positions collect the most onset energy.
func GuessBeat(ctx context.Context, pcm []float32, sampleRate float64) (BeatGuess, error) {
	env, err := OnsetEnvelope(ctx, pcm, sampleRate)
	if err != nil {
		return BeatGuess{}, &AnalysisError{Op: "guess beat", Err: err}
	}
	fps := sampleRate / onsetHop
	t, lag, err := tempoFromEnvelope(env, fps)
	if err != nil {
		return BeatGuess{}, &AnalysisError{Op: "guess beat", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return BeatGuess{}, &AnalysisError{Op: "guess beat", Err: err}
	}

	bestPhase, bestSum := 0, -1.0
	for phase := 0; phase < int(math.Ceil(lag)); phase++ {
		var sum float64
		for k := 0; ; k++ {
			idx := int(math.Round(float64(phase) + float64(k)*lag))
			if idx >= len(env) {
				break
			}
			sum += env[idx]
		}
		if sum > bestSum {
			bestSum, bestPhase = sum, phase
		}
	}

	// Frame times are window centers.
	center := float64(bestPhase*onsetHop+onsetFFTSize/2) / sampleRate
	offset := time.Duration(math.Mod(center, lag/fps) * float64(time.Second))
	return BeatGuess{BPM: t.BPM, Offset: offset}, nil
}

// tempoFromEnvelope returns the tempo and the (fractional) lag in frames.
func tempoFromEnvelope(env []float64, fps float64) (Tempo, float64, error) {
	n := len(env)
	minLag := int(fps * 60.0 / TempoMaxBPM)
	maxLag := int(math.Ceil(fps * 60.0 / TempoMinBPM))
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= n/2 {
		maxLag = n/2 - 1
	}
	if minLag >= maxLag {
		return Tempo{}, 0, ErrTooShort
	}

	var energy float64
	for _, v := range env {
		energy += v * v
	}
	if energy == 0 {
		return Tempo{}, 0, ErrNoAudio
	}
	energy /= float64(n)

	corr := make([]float64, maxLag+2)
	for lag := minLag - 1; lag <= maxLag+1; lag++ {
		if lag < 1 || lag >= n {
			continue
		}
		var c float64
		for i := 0; i+lag < n; i++ {
			c += env[i] * env[i+lag]
		}
		corr[lag] = c / float64(n-lag)
	}

	bestLag, bestScore := minLag, -1.0
	for lag := minLag; lag <= maxLag; lag++ {
		bpm := fps * 60 / float64(lag)
		score := corr[lag] * tempoPrior(bpm)
		if score > bestScore {
			bestScore, bestLag = score, lag
		}
	}

	// Parabolic interpolation around the peak.
	lag := float64(bestLag)
	if bestLag > 1 {
		a, b, c := corr[bestLag-1], corr[bestLag], corr[bestLag+1]
		if den := a - 2*b + c; den < 0 {
			if d := 0.5 * (a - c) / den; math.Abs(d) < 1 {
				lag += d
			}
		}
	}

	bpm := fps * 60 / lag
	for bpm < TempoMinBPM {
		bpm *= 2
	}
	for bpm > TempoMaxBPM {
		bpm /= 2
	}
	bpm = math.Round(bpm*10) / 10

	confidence := math.Min(1, math.Max(0, corr[bestLag]/energy))
	return Tempo{BPM: bpm, Confidence: confidence}, lag, nil
}

// tempoPrior is a log-normal weight centered on tempoPriorBPM, one octave
// wide.
func tempoPrior(bpm float64) float64 {
	x := math.Log2(bpm / tempoPriorBPM)
	return math.Exp(-0.5 * x * x)
}
