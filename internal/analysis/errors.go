// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"fmt"
)

// Sentinel causes wrapped by AnalysisError.
var (
	ErrNoAudio    = errors.New("no audio samples")
	ErrBadRate    = errors.New("sample rate must be positive")
	ErrTooShort   = errors.New("audio too short for tempo analysis")
	ErrNoDecoding = errors.New("source cannot be decoded into an offline buffer")
)

// AnalysisError is returned by the one-shot offline analyses when the audio
// cannot be decoded or does not support a tempo estimate.
type AnalysisError struct {
	Op  string // Operation that failed, e.g. "detect tempo".
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis: %s: %v", e.Op, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }
