// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"os"
	"sync/atomic"

	"reactor/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// StartRecording writes captured input, interleaved and unprocessed by the
// gate, to a 32-bit WAV file.
func (d *DeviceSource) StartRecording(filename string) error {
	if atomic.LoadInt32(&d.isRecording) == 1 {
		return fmt.Errorf("already recording")
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	d.recMu.Lock()
	d.outputFile = file
	d.wavEncoder = wav.NewEncoder(file, int(d.cfg.SampleRate),
		32, d.cfg.InputChannels, 1)
	d.sampleBuf = &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: d.cfg.InputChannels,
			SampleRate:  int(d.cfg.SampleRate),
		},
		SourceBitDepth: 32,
		Data:           make([]int, d.cfg.FramesPerBuffer*d.cfg.InputChannels),
	}
	d.recMu.Unlock()

	atomic.StoreInt32(&d.isRecording, 1)
	log.Infof("Audio: Recording to %s", filename)

	return nil
}

// StopRecording finalises the WAV header and closes the file.
func (d *DeviceSource) StopRecording() error {
	if !atomic.CompareAndSwapInt32(&d.isRecording, 1, 0) {
		return nil
	}

	d.recMu.Lock()
	defer d.recMu.Unlock()

	if d.wavEncoder != nil {
		if err := d.wavEncoder.Close(); err != nil {
			return err
		}
		d.wavEncoder = nil
	}

	if d.outputFile != nil {
		if err := d.outputFile.Close(); err != nil {
			return err
		}
		d.outputFile = nil
	}

	return nil
}

// Recording reports whether captured input is being written.
func (d *DeviceSource) Recording() bool {
	return atomic.LoadInt32(&d.isRecording) == 1
}

// writeRecording encodes one callback buffer.
func (d *DeviceSource) writeRecording(buffer []int32) {
	d.recMu.Lock()
	defer d.recMu.Unlock()

	if d.wavEncoder == nil {
		return
	}
	if cap(d.sampleBuf.Data) < len(buffer) {
		d.sampleBuf.Data = make([]int, len(buffer))
	}
	d.sampleBuf.Data = d.sampleBuf.Data[:len(buffer)]
	for i, sample := range buffer {
		d.sampleBuf.Data[i] = int(sample)
	}

	if err := d.wavEncoder.Write(d.sampleBuf); err != nil {
		log.Errorfr("wav-write", log.DefaultInterval, "Audio: Error writing to WAV file: %v", err)
	}
}
