// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
)

// Causes wrapped by InitializationError.
var (
	ErrNoCapability  = errors.New("audio processing is not available on this platform")
	ErrSourceClosed  = errors.New("source is closed")
	ErrBadSampleRate = errors.New("source sample rate must be positive")
	ErrContextClosed = errors.New("audio context is closed")
	ErrNilSource     = errors.New("source is nil")
)

// InitializationError reports that an analysis graph could not be built for
// a source: the platform lacks audio capability or the source is unusable.
type InitializationError struct {
	Source string // Source ID, empty when unknown.
	Err    error
}

func (e *InitializationError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("audio initialization failed: %v", e.Err)
	}
	return fmt.Sprintf("audio initialization failed for %q: %v", e.Source, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }
