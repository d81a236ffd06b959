// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"fmt"

	"reactor/internal/effects"
	"reactor/internal/log"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport is closed")

// Transport defines a generic interface for sending frames or events to
// external renderers. Implementations should be thread-safe and must not
// block the caller for longer than a tick.
type Transport interface {
	Send(data any) error
	Close() error
}

// Fanout forwards every frame to each transport in order. A failing
// transport is logged and skipped; the others still receive the frame.
type Fanout []Transport

// Send delivers data to every transport and returns the first error.
func (f Fanout) Send(data any) error {
	var first error
	for _, t := range f {
		if err := t.Send(data); err != nil {
			log.Warnfr("transport-fanout", log.DefaultInterval, "Transport: %T send failed: %v", t, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Close closes every transport and joins their errors.
func (f Fanout) Close() error {
	var errs []error
	for _, t := range f {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FrameSink adapts a Transport to the frame callback the visualizer exposes.
// Send failures are logged, rate limited per transport type.
func FrameSink(t Transport) func(effects.Frame) {
	key := fmt.Sprintf("transport-sink-%T", t)
	return func(f effects.Frame) {
		if err := t.Send(f); err != nil {
			log.Warnfr(key, log.DefaultInterval, "Transport: %T frame send failed: %v", t, err)
		}
	}
}

var _ Transport = Fanout(nil)
