// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/mewkiz/flac"
)

// ErrUnsupportedFormat is returned for files whose extension has no decoder.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// pcmDecoder is implemented by all format-specific decoders. Read fills dst
// with interleaved samples in [-1, 1] and returns io.EOF at the end.
type pcmDecoder interface {
	Read(dst []float32) (int, error)
	SampleRate() int
	Channels() int
}

// SupportedExtensions lists the file extensions DecodeFile understands.
var SupportedExtensions = []string{".mp3", ".wav", ".flac", ".ogg"}

// newDecoder detects format by file extension and returns the appropriate decoder.
func newDecoder(f *os.File) (pcmDecoder, error) {
	ext := strings.ToLower(filepath.Ext(f.Name()))
	switch ext {
	case ".mp3":
		return newMP3Decoder(f)
	case ".wav":
		return newWAVDecoder(f)
	case ".flac":
		return newFLACDecoder(f)
	case ".ogg":
		return newOGGDecoder(f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

// DecodeFile decodes a whole file to mono samples. It checks ctx between
// reads so long tracks can be abandoned.
func DecodeFile(ctx context.Context, path string) ([]float32, float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec, err := newDecoder(f)
	if err != nil {
		return nil, 0, err
	}
	channels := max(dec.Channels(), 1)

	chunk := make([]float32, 4096*channels)
	var mono []float32
	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		n, err := dec.Read(chunk)
		if n > 0 {
			start := len(mono)
			mono = append(mono, make([]float32, n/channels)...)
			downmix(mono[start:], chunk[:n-n%channels], channels)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
		}
	}
	if len(mono) == 0 {
		return nil, 0, fmt.Errorf("decoding %s: %w", filepath.Base(path), io.ErrUnexpectedEOF)
	}
	return mono, float64(dec.SampleRate()), nil
}

// --- MP3 decoder ---

// mp3Decoder converts go-mp3's 16-bit stereo byte stream.
type mp3Decoder struct {
	dec *mp3.Decoder
	raw []byte
}

func newMP3Decoder(f *os.File) (*mp3Decoder, error) {
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, err
	}
	return &mp3Decoder{dec: dec}, nil
}

func (d *mp3Decoder) Read(dst []float32) (int, error) {
	need := len(dst) * 2
	if cap(d.raw) < need {
		d.raw = make([]byte, need)
	}
	raw := d.raw[:need]
	n, err := io.ReadFull(d.dec, raw)
	samples := n / 2
	for i := range samples {
		dst[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32768
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return samples, err
}

func (d *mp3Decoder) SampleRate() int { return d.dec.SampleRate() }
func (d *mp3Decoder) Channels() int   { return 2 }

// --- WAV decoder ---

type wavDecoder struct {
	dec   *wav.Decoder
	buf   *audio.IntBuffer
	scale float32
}

func newWAVDecoder(f *os.File) (*wavDecoder, error) {
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file")
	}
	// FwdToPCM positions the reader at the start of PCM data.
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("reading WAV PCM data: %w", err)
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth < 8 || bitDepth > 32 {
		return nil, fmt.Errorf("unsupported WAV bit depth %d", bitDepth)
	}
	return &wavDecoder{
		dec:   dec,
		buf:   &audio.IntBuffer{Format: dec.Format(), SourceBitDepth: bitDepth},
		scale: 1 / float32(int64(1)<<(bitDepth-1)),
	}, nil
}

func (d *wavDecoder) Read(dst []float32) (int, error) {
	if cap(d.buf.Data) < len(dst) {
		d.buf.Data = make([]int, len(dst))
	}
	d.buf.Data = d.buf.Data[:len(dst)]
	n, err := d.dec.PCMBuffer(d.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	offset := 0
	if d.dec.BitDepth == 8 {
		offset = 128 // 8-bit WAV is unsigned.
	}
	for i := range n {
		dst[i] = float32(d.buf.Data[i]-offset) * d.scale
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (d *wavDecoder) SampleRate() int { return int(d.dec.SampleRate) }
func (d *wavDecoder) Channels() int   { return int(d.dec.NumChans) }

// --- FLAC decoder ---

type flacDecoder struct {
	stream   *flac.Stream
	pending  []float32 // Decoded frame samples not yet returned.
	channels int
	scale    float32
}

func newFLACDecoder(f *os.File) (*flacDecoder, error) {
	stream, err := flac.New(f)
	if err != nil {
		return nil, fmt.Errorf("decoding FLAC: %w", err)
	}
	bps := int(stream.Info.BitsPerSample)
	return &flacDecoder{
		stream:   stream,
		channels: int(stream.Info.NChannels),
		scale:    1 / float32(int64(1)<<(bps-1)),
	}, nil
}

func (d *flacDecoder) Read(dst []float32) (int, error) {
	if len(d.pending) == 0 {
		frame, err := d.stream.ParseNext()
		if err != nil {
			return 0, err
		}
		nSamples := len(frame.Subframes[0].Samples)
		d.pending = d.pending[:0]
		for i := range nSamples {
			for ch := range d.channels {
				d.pending = append(d.pending, float32(frame.Subframes[ch].Samples[i])*d.scale)
			}
		}
	}
	n := copy(dst, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *flacDecoder) SampleRate() int { return int(d.stream.Info.SampleRate) }
func (d *flacDecoder) Channels() int   { return d.channels }

// --- OGG Vorbis decoder ---

type oggDecoder struct {
	reader *oggvorbis.Reader
}

func newOGGDecoder(f *os.File) (*oggDecoder, error) {
	reader, err := oggvorbis.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("decoding OGG: %w", err)
	}
	return &oggDecoder{reader: reader}, nil
}

func (d *oggDecoder) Read(dst []float32) (int, error) { return d.reader.Read(dst) }
func (d *oggDecoder) SampleRate() int                 { return d.reader.SampleRate() }
func (d *oggDecoder) Channels() int                   { return d.reader.Channels() }
