// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"

	"reactor/internal/log"
)

const (
	outputChannels = 2
	outputBytes    = 2 // 16-bit samples.
)

// ErrRateMismatch is returned when a track's sample rate differs from the
// rate the shared output context was opened with.
var ErrRateMismatch = errors.New("track sample rate differs from output rate")

var (
	globalOtoCtx  *oto.Context
	globalOtoRate int
	otoOnce       sync.Once
	otoInitErr    error
)

// initOto opens the process-wide output context on first use. oto allows a
// single context per process, so the first track decides the output rate.
func initOto(sampleRate int) (*oto.Context, error) {
	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: outputChannels,
			Format:       oto.FormatSignedInt16LE,
		}
		var ready chan struct{}
		globalOtoCtx, ready, otoInitErr = oto.NewContext(op)
		if otoInitErr == nil {
			<-ready
			globalOtoRate = sampleRate
		}
	})
	if otoInitErr != nil {
		return nil, otoInitErr
	}
	if sampleRate != globalOtoRate {
		return nil, fmt.Errorf("%w: %d Hz, output %d Hz", ErrRateMismatch, sampleRate, globalOtoRate)
	}
	return globalOtoCtx, nil
}

// OtoProbe returns a capability probe that opens the playback context.
func OtoProbe(sampleRate int) CapabilityProbe {
	return func() error {
		_, err := initOto(sampleRate)
		return err
	}
}

// pcmStream pulls float samples from a decoder, hands a mono copy of every
// block to onBlock and renders the block as interleaved 16-bit stereo.
type pcmStream struct {
	dec      pcmDecoder
	channels int
	onBlock  func([]float32)

	samples []float32
	mono    []float32
	pending error // Deferred EOF after a final partial block.
}

func newPCMStream(dec pcmDecoder, onBlock func([]float32)) *pcmStream {
	return &pcmStream{dec: dec, channels: max(dec.Channels(), 1), onBlock: onBlock}
}

// next decodes up to frames frames and returns them as mono.
func (s *pcmStream) next(frames int) ([]float32, error) {
	if s.pending != nil {
		return nil, s.pending
	}
	need := frames * s.channels
	if cap(s.samples) < need {
		s.samples = make([]float32, need)
		s.mono = make([]float32, frames)
	}
	n, err := s.dec.Read(s.samples[:need])
	n -= n % s.channels
	if n > 0 && err != nil {
		s.pending, err = err, nil
	}
	mono := downmix(s.mono[:n/s.channels], s.samples[:n], s.channels)
	if len(mono) > 0 && s.onBlock != nil {
		s.onBlock(mono)
	}
	return mono, err
}

// Read implements io.Reader for oto.
func (s *pcmStream) Read(p []byte) (int, error) {
	frameBytes := outputChannels * outputBytes
	frames := len(p) / frameBytes
	if frames == 0 {
		return 0, nil
	}
	mono, err := s.next(frames)
	if err != nil {
		return 0, err
	}
	n := len(mono) * s.channels
	written := 0
	for i := 0; i+s.channels <= n && written+frameBytes <= len(p); i += s.channels {
		for ch := range outputChannels {
			v := s.samples[i+min(ch, s.channels-1)]
			binary.LittleEndian.PutUint16(p[written:], uint16(toInt16(v)))
			written += outputBytes
		}
	}
	return written, nil
}

func toInt16(v float32) int16 {
	return int16(math.Max(-1, math.Min(1, float64(v))) * math.MaxInt16)
}

// Player plays a track through oto and taps the decoded samples as oto pulls
// them. It implements Buffered by decoding the file a second time.
type Player struct {
	path       string
	sampleRate float64

	file      *os.File
	stream    *pcmStream
	otoPlayer *oto.Player
	taps      tapSet

	mu       sync.Mutex
	paused   bool
	closed   atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
}

var _ Buffered = (*Player)(nil)

// OpenPlayer prepares path for playback. Playback starts with Play.
func OpenPlayer(path string) (*Player, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := newDecoder(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	ctx, err := initOto(dec.SampleRate())
	if err != nil {
		f.Close()
		return nil, &InitializationError{Source: path, Err: err}
	}

	p := &Player{
		path:       path,
		sampleRate: float64(dec.SampleRate()),
		file:       f,
		done:       make(chan struct{}),
		paused:     true,
	}
	p.stream = newPCMStream(dec, p.taps.deliver)
	p.otoPlayer = ctx.NewPlayer(&eofNotifier{r: p.stream, done: p.finish})
	return p, nil
}

// eofNotifier reports the end of the stream once.
type eofNotifier struct {
	r    io.Reader
	done func()
}

func (e *eofNotifier) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err != nil {
		e.done()
	}
	return n, err
}

func (p *Player) finish() {
	p.doneOnce.Do(func() { close(p.done) })
}

// ID returns the track path.
func (p *Player) ID() string          { return p.path }
func (p *Player) SampleRate() float64 { return p.sampleRate }
func (p *Player) Closed() bool        { return p.closed.Load() }

// Tap implements Source. Taps run on oto's reader goroutine.
func (p *Player) Tap(fn func([]float32)) (func(), error) {
	if p.Closed() {
		return nil, ErrSourceClosed
	}
	return p.taps.add(fn), nil
}

// Title returns the file name without extension.
func (p *Player) Title() string {
	base := filepath.Base(p.path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// Play starts or resumes playback.
func (p *Player) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed() || !p.paused {
		return
	}
	p.otoPlayer.Play()
	p.paused = false
}

// Pause halts playback.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed() || p.paused {
		return
	}
	p.otoPlayer.Pause()
	p.paused = true
}

// Playing reports whether audio is being produced.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.paused && !p.Closed() && p.otoPlayer.IsPlaying()
}

// SetVolume sets output volume in [0, 1].
func (p *Player) SetVolume(v float64) {
	p.otoPlayer.SetVolume(math.Max(0, math.Min(1, v)))
}

// Done is closed when the decoder reaches the end of the track.
func (p *Player) Done() <-chan struct{} { return p.done }

// Decode implements Buffered.
func (p *Player) Decode(ctx context.Context) ([]float32, error) {
	pcm, _, err := DecodeFile(ctx, p.path)
	return pcm, err
}

// Close stops playback and releases the file.
func (p *Player) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.mu.Lock()
	p.otoPlayer.Pause()
	p.paused = true
	p.mu.Unlock()

	if err := p.otoPlayer.Close(); err != nil {
		log.Warnf("Audio: Closing player for %q: %v", p.path, err)
	}
	p.finish()
	return p.file.Close()
}

// FileSource streams a decoded file to its taps at real-time pace without
// producing sound. It stands in for Player on hosts with no output device.
type FileSource struct {
	path       string
	sampleRate float64
	blockSize  int

	file   *os.File
	stream *pcmStream
	taps   tapSet
	closed atomic.Bool
}

var _ Buffered = (*FileSource)(nil)

// OpenFileSource opens path for paced streaming in blocks of blockSize frames.
func OpenFileSource(path string, blockSize int) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := newDecoder(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if blockSize <= 0 {
		blockSize = 512
	}
	s := &FileSource{
		path:       path,
		sampleRate: float64(dec.SampleRate()),
		blockSize:  blockSize,
		file:       f,
	}
	s.stream = newPCMStream(dec, s.taps.deliver)
	return s, nil
}

func (s *FileSource) ID() string          { return s.path }
func (s *FileSource) SampleRate() float64 { return s.sampleRate }
func (s *FileSource) Closed() bool        { return s.closed.Load() }

// Tap implements Source.
func (s *FileSource) Tap(fn func([]float32)) (func(), error) {
	if s.Closed() {
		return nil, ErrSourceClosed
	}
	return s.taps.add(fn), nil
}

// Run delivers blocks until the file ends, ctx is done or the source closes.
// It returns nil at end of file.
func (s *FileSource) Run(ctx context.Context) error {
	if s.sampleRate <= 0 {
		return ErrBadSampleRate
	}
	period := time.Duration(float64(s.blockSize) / s.sampleRate * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if s.Closed() {
			return ErrSourceClosed
		}
		if _, err := s.stream.next(s.blockSize); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Decode implements Buffered.
func (s *FileSource) Decode(ctx context.Context) ([]float32, error) {
	pcm, _, err := DecodeFile(ctx, s.path)
	return pcm, err
}

// Close releases the file.
func (s *FileSource) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.file.Close()
}
