// SPDX-License-Identifier: MIT
package transport

import (
	"sync/atomic"

	"reactor/internal/effects"
	"reactor/internal/log"
)

// LoggingTransport implements the Transport interface by logging frames at
// debug level, at most once per log.DefaultInterval.
type LoggingTransport struct {
	sent   atomic.Int64
	closed atomic.Bool
}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	log.Infof("Transport: Using LoggingTransport")
	return &LoggingTransport{}
}

// Send logs a summary of the received data.
func (lt *LoggingTransport) Send(data any) error {
	if lt.closed.Load() {
		return ErrClosed
	}
	n := lt.sent.Add(1)
	switch v := data.(type) {
	case effects.Frame:
		log.Debugfr("transport-logging", log.DefaultInterval,
			"LOG_TRANSPORT: frame %d energy=%.3f beat=%t tiles=%d glitches=%d veins=%d color=%s",
			n, v.Energy, v.Beat, v.Tiles, v.Glitches, v.Veins, v.Color.Hex)
	default:
		log.Debugfr("transport-logging", log.DefaultInterval, "LOG_TRANSPORT: Received (%T): %+v", data, data)
	}
	return nil
}

// Sent returns the number of payloads accepted.
func (lt *LoggingTransport) Sent() int64 { return lt.sent.Load() }

// Close marks the transport closed.
func (lt *LoggingTransport) Close() error {
	if lt.closed.CompareAndSwap(false, true) {
		log.Debugf("LOG_TRANSPORT: Close called after %d payloads", lt.sent.Load())
	}
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
