// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"reactor/internal/log"
	"reactor/internal/reaction"
)

// StateReader is the part of reaction.Store the publisher reads.
type StateReader interface {
	State() reaction.State
}

var _ StateReader = (*reaction.Store)(nil)

// UDPPublisher periodically reads the reaction state, packs it into a fixed
// binary format and sends it over UDP using a UDPSender. It runs in a
// separate goroutine managed by Start and Stop.
type UDPPublisher struct {
	sender   *UDPSender
	state    StateReader
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // Protects ticker and doneChan during Start/Stop.

	sequenceNum  uint32
	packetBuffer *bytes.Buffer // Reused for every packet.
}

// NewUDPPublisher creates a publisher. An interval <= 0 defaults to 16ms.
func NewUDPPublisher(interval time.Duration, sender *UDPSender, state StateReader) (*UDPPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("UDPPublisher: UDP sender cannot be nil")
	}
	if state == nil {
		return nil, fmt.Errorf("UDPPublisher: state reader cannot be nil")
	}

	if interval <= 0 {
		interval = 16 * time.Millisecond
		log.Warnf("UDPPublisher: Invalid interval provided, defaulting to %s", interval)
	}
	log.Infof("UDPPublisher: Initializing (Interval: %s, Packet: %d bytes)", interval, PacketSize)

	return &UDPPublisher{
		sender:       sender,
		state:        state,
		interval:     interval,
		packetBuffer: bytes.NewBuffer(make([]byte, 0, PacketSize)),
	}, nil
}

// Start begins the periodic publishing process. Calling Start while running
// is a no-op.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		log.Warnf("UDPPublisher: Start called but already running.")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Debugf("UDPPublisher: Publisher goroutine started (Interval: %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.buildAndSendPacket(time.Now())
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the publisher goroutine to terminate and waits for it to
// exit. It is safe to call Stop multiple times.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}

	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	log.Infof("UDPPublisher: Stopped after %d packets", p.sequenceNum)
	return nil
}

/*
UDP Packet Structure (BigEndian)

+-------------------------------------------------------------------------------+
| Field           | Data Type | Size (Bytes) | Description                        |
|-----------------|-----------|--------------|------------------------------------|
| Sequence Number | uint32    | 4            | Monotonically increasing           |
| Timestamp       | int64     | 8            | Nanoseconds since epoch            |
| Energy          | float32   | 4            | Reaction energy in [0,1]           |
| Flags           | uint8     | 1            | bit0 beat, bit1 active, bit2 music |
| Last Beat       | int64     | 8            | Nanoseconds since epoch, 0 if none |
+-------------------------------------------------------------------------------+
*/

// PacketSize is the encoded length of one packet.
const PacketSize = 4 + 8 + 4 + 1 + 8

// Flag bits of the packet's flags byte.
const (
	FlagBeat uint8 = 1 << iota
	FlagAudioActive
	FlagMusicPlaying
)

// ErrShortPacket is returned by ParsePacket for truncated input.
var ErrShortPacket = errors.New("udp packet too short")

// Packet is a decoded reaction packet.
type Packet struct {
	Sequence     uint32
	Time         time.Time
	Energy       float32
	Beat         bool
	AudioActive  bool
	MusicPlaying bool
	LastBeat     time.Time
}

// buildAndSendPacket packs the current state and sends it.
func (p *UDPPublisher) buildAndSendPacket(now time.Time) {
	st := p.state.State()
	p.sequenceNum++

	p.packetBuffer.Reset()
	if err := encodePacket(p.packetBuffer, p.sequenceNum, now, st); err != nil {
		log.Errorfr("udp-pack", log.DefaultInterval, "UDPPublisher: Error packing data into binary buffer: %v", err)
		return
	}

	packetBytes := p.packetBuffer.Bytes()
	if err := p.sender.Send(packetBytes); err == nil {
		log.Debugfr("udp-sent", log.DefaultInterval, "UDPPublisher: Sent packet %d (%d bytes)", p.sequenceNum, len(packetBytes))
	}
}

func encodePacket(buf *bytes.Buffer, seq uint32, now time.Time, st reaction.State) error {
	var flags uint8
	if st.BeatDetected {
		flags |= FlagBeat
	}
	if st.IsAudioActive {
		flags |= FlagAudioActive
	}
	if st.IsMusicPlaying {
		flags |= FlagMusicPlaying
	}
	var lastBeat int64
	if !st.LastBeatTime.IsZero() {
		lastBeat = st.LastBeatTime.UnixNano()
	}

	err := binary.Write(buf, binary.BigEndian, seq)
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, now.UnixNano())
	}
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, float32(st.Energy))
	}
	if err == nil {
		err = buf.WriteByte(flags)
	}
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, lastBeat)
	}
	return err
}

// ParsePacket decodes one packet as produced by the publisher.
func ParsePacket(b []byte) (Packet, error) {
	if len(b) < PacketSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(b))
	}
	be := binary.BigEndian
	pkt := Packet{
		Sequence: be.Uint32(b[0:4]),
		Time:     time.Unix(0, int64(be.Uint64(b[4:12]))),
		Energy:   math.Float32frombits(be.Uint32(b[12:16])),
	}
	flags := b[16]
	pkt.Beat = flags&FlagBeat != 0
	pkt.AudioActive = flags&FlagAudioActive != 0
	pkt.MusicPlaying = flags&FlagMusicPlaying != 0
	if ns := int64(be.Uint64(b[17:25])); ns != 0 {
		pkt.LastBeat = time.Unix(0, ns)
	}
	return pkt, nil
}

// Close stops the publisher goroutine.
func (p *UDPPublisher) Close() error {
	return p.Stop()
}

// Ensure UDPPublisher satisfies the io.Closer interface at compile time.
var _ interface{ Close() error } = (*UDPPublisher)(nil)
