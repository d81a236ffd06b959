// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"reactor/internal/config"
	"reactor/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gordonklaus/portaudio"
)

// defaultGateThreshold is ~0.1% of full scale.
const defaultGateThreshold = math.MaxInt32 / 1000

// DeviceSource captures a PortAudio input device and delivers mono blocks to
// its taps. A noise gate replaces blocks whose peak stays under the threshold
// with silence, and captured input can be recorded to WAV.
//
// PortAudio must be initialised (see Initialize) before NewDeviceSource.
type DeviceSource struct {
	cfg config.AudioConfig
	id  string

	inputDevice  *portaudio.DeviceInfo
	inputLatency time.Duration
	inputStream  *portaudio.Stream
	inputBuffer  []int32   // Interleaved copy of the callback buffer.
	mono         []float32 // Downmixed block handed to taps.

	gateEnabled   atomic.Bool
	gateThreshold atomic.Int32 // Absolute amplitude threshold (0-2147483647).

	taps   tapSet
	closed atomic.Bool

	// Recording state and buffers.
	isRecording int32      // Atomic flag checked on the audio thread.
	recMu       sync.Mutex // Guards the encoder against StopRecording.
	outputFile  *os.File
	wavEncoder  *wav.Encoder
	sampleBuf   *audio.IntBuffer // Reusable buffer for format conversion.
}

var _ Source = (*DeviceSource)(nil)

// NewDeviceSource resolves the configured input device.
func NewDeviceSource(cfg config.AudioConfig) (*DeviceSource, error) {
	inputDevice, err := InputDevice(cfg.InputDevice)
	if err != nil {
		return nil, &InitializationError{Source: fmt.Sprintf("device:%d", cfg.InputDevice), Err: err}
	}
	d := newDeviceSource(cfg, "device:"+inputDevice.Name)
	d.inputDevice = inputDevice
	if cfg.LowLatency {
		d.inputLatency = inputDevice.DefaultLowInputLatency
	} else {
		d.inputLatency = inputDevice.DefaultHighInputLatency
	}
	return d, nil
}

func newDeviceSource(cfg config.AudioConfig, id string) *DeviceSource {
	if cfg.InputChannels < 1 {
		cfg.InputChannels = 1
	}
	d := &DeviceSource{
		cfg:         cfg,
		id:          id,
		inputBuffer: make([]int32, cfg.FramesPerBuffer*cfg.InputChannels),
		mono:        make([]float32, cfg.FramesPerBuffer),
	}
	d.gateEnabled.Store(true)
	d.gateThreshold.Store(defaultGateThreshold)
	return d
}

func (d *DeviceSource) ID() string          { return d.id }
func (d *DeviceSource) SampleRate() float64 { return d.cfg.SampleRate }
func (d *DeviceSource) Closed() bool        { return d.closed.Load() }

// Tap implements Source.
func (d *DeviceSource) Tap(fn func([]float32)) (func(), error) {
	if d.Closed() {
		return nil, ErrSourceClosed
	}
	return d.taps.add(fn), nil
}

// Start opens and starts the input stream.
func (d *DeviceSource) Start() error {
	if d.Closed() {
		return ErrSourceClosed
	}
	if d.inputStream != nil {
		return nil
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: d.cfg.InputChannels,
			Device:   d.inputDevice,
			Latency:  d.inputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: d.cfg.FramesPerBuffer,
		SampleRate:      d.cfg.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, d.processInputStream)
	if err != nil {
		return err
	}
	d.inputStream = stream

	if err := d.inputStream.Start(); err != nil {
		d.inputStream.Close()
		d.inputStream = nil
		return err
	}
	log.Infof("Audio: Capturing from %s (%.0f Hz, %d ch, %d frames)", d.inputDevice.Name, d.cfg.SampleRate, d.cfg.InputChannels, d.cfg.FramesPerBuffer)
	return nil
}

// Stop stops and closes the input stream.
func (d *DeviceSource) Stop() error {
	if d.inputStream != nil {
		if err := d.inputStream.Stop(); err != nil {
			return err
		}

		if err := d.inputStream.Close(); err != nil {
			return err
		}

		d.inputStream = nil
	}

	return nil
}

// Close stops recording and capture and marks the source unusable.
func (d *DeviceSource) Close() error {
	if atomic.LoadInt32(&d.isRecording) == 1 {
		if err := d.StopRecording(); err != nil {
			return err
		}
	}
	d.closed.Store(true)
	return d.Stop()
}

// processInputStream is the PortAudio callback.
// Performance Critical:
// - Runs in a dedicated OS thread (LockOSThread)
// - Uses pre-allocated buffers only
func (d *DeviceSource) processInputStream(in []int32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	n := copy(d.inputBuffer, in)
	buffer := d.inputBuffer[:n]

	d.deliver(buffer)

	if atomic.LoadInt32(&d.isRecording) == 1 {
		d.writeRecording(buffer)
	}
}

// deliver downmixes buffer and hands it to taps; gated blocks become silence.
func (d *DeviceSource) deliver(buffer []int32) {
	channels := d.cfg.InputChannels
	frames := min(len(buffer)/channels, len(d.mono))
	mono := d.mono[:frames]

	if d.gateEnabled.Load() && peakAmplitude(buffer) <= d.gateThreshold.Load() {
		clear(mono)
	} else {
		const norm = 1.0 / float32(1<<31)
		for i := range frames {
			var sum float32
			for ch := range channels {
				sum += float32(buffer[i*channels+ch]) * norm
			}
			mono[i] = sum / float32(channels)
		}
	}
	d.taps.deliver(mono)
}

// peakAmplitude returns the largest absolute sample value.
// Branchless: abs via sign mask, max via the sign of the difference.
func peakAmplitude(buffer []int32) int32 {
	var maxAmplitude int32
	for _, sample := range buffer {
		mask := sample >> 31
		amplitude := (sample ^ mask) - mask
		diff := amplitude - maxAmplitude
		maxAmplitude += (diff & (diff >> 31)) ^ diff
	}
	return maxAmplitude
}

// EnableGate turns the noise gate on.
func (d *DeviceSource) EnableGate() { d.gateEnabled.Store(true) }

// DisableGate turns the noise gate off.
func (d *DeviceSource) DisableGate() { d.gateEnabled.Store(false) }

// SetGateThreshold adjusts the noise gate threshold.
// The value is in the range of 0.0-1.0 where 0=always open, 1=always closed.
func (d *DeviceSource) SetGateThreshold(threshold float64) {
	if threshold < 0.0 {
		threshold = 0.0
	}
	if threshold > 1.0 {
		threshold = 1.0
	}
	d.gateThreshold.Store(int32(threshold * float64(math.MaxInt32)))
}

// GateThreshold returns the current noise gate threshold in 0.0-1.0.
func (d *DeviceSource) GateThreshold() float64 {
	return float64(d.gateThreshold.Load()) / float64(math.MaxInt32)
}
