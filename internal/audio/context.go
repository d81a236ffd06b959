// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"reactor/internal/log"
)

// ContextState is the lifecycle state of the shared processing pipeline.
type ContextState int32

const (
	StateSuspended ContextState = iota
	StateRunning
	StateClosed
)

func (s ContextState) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	default:
		return "closed"
	}
}

// CapabilityProbe reports whether the platform can process audio. A nil
// error means capable.
type CapabilityProbe func() error

// Context models the shared processing pipeline. It starts Suspended; graphs
// may be built while suspended and Resume brings it to Running lazily, on the
// first start of analysis.
type Context struct {
	state atomic.Int32

	probe     CapabilityProbe
	probeOnce sync.Once
	probeErr  error
}

// NewContext returns a suspended context. A nil probe is treated as capable.
func NewContext(probe CapabilityProbe) *Context {
	return &Context{probe: probe}
}

// Check runs the capability probe once and caches its result.
func (c *Context) Check() error {
	if c.State() == StateClosed {
		return &InitializationError{Err: ErrContextClosed}
	}
	c.probeOnce.Do(func() {
		if c.probe == nil {
			return
		}
		if err := c.probe(); err != nil {
			c.probeErr = &InitializationError{Err: fmt.Errorf("%w: %w", ErrNoCapability, err)}
		}
	})
	return c.probeErr
}

// Resume moves a suspended context to Running. Resuming a running context is
// a no-op.
func (c *Context) Resume() error {
	if err := c.Check(); err != nil {
		return err
	}
	if c.state.CompareAndSwap(int32(StateSuspended), int32(StateRunning)) {
		log.Debugf("Audio: Context resumed")
	}
	if c.State() == StateClosed {
		return &InitializationError{Err: ErrContextClosed}
	}
	return nil
}

// Suspend moves a running context back to Suspended.
func (c *Context) Suspend() {
	c.state.CompareAndSwap(int32(StateRunning), int32(StateSuspended))
}

// Close marks the context closed. Further Resume calls fail.
func (c *Context) Close() error {
	c.state.Store(int32(StateClosed))
	return nil
}

// State returns the current lifecycle state.
func (c *Context) State() ContextState {
	return ContextState(c.state.Load())
}
