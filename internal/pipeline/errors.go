// Package pipeline drives recordings through the download, transcription,
// and upload stages with bounded worker pools, durable per-stage
// checkpoints, and date-window batch processing with resume.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/convoscope/convoscope/internal/resilience"
	"github.com/convoscope/convoscope/internal/store"
	"github.com/convoscope/convoscope/pkg/provider/asr"
)

// ErrorKind classifies a stage failure for retry policy.
type ErrorKind string

const (
	// KindTransient covers timeouts, 5xx, rate limits, and transient DB
	// errors. The stage stays failed and is reset to pending by the failure
	// sweep until the retry budget runs out.
	KindTransient ErrorKind = "transient"

	// KindPermanent covers malformed input and non-auth 4xx. The recording
	// is parked as a failed item immediately.
	KindPermanent ErrorKind = "permanent"

	// KindCritical covers failures that must abort the current pass, like
	// a verified-deletion failure or disk exhaustion.
	KindCritical ErrorKind = "critical"
)

// StageError wraps a failure with the stage it occurred in and its kind.
type StageError struct {
	Stage store.Stage
	Kind  ErrorKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: %s stage: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Recoverable reports whether the failure should be retried on a later
// sweep rather than parking the recording.
func (e *StageError) Recoverable() bool { return e.Kind == KindTransient }

// Critical wraps err as a pass-aborting stage error.
func Critical(stage store.Stage, err error) *StageError {
	return &StageError{Stage: stage, Kind: KindCritical, Err: err}
}

// classify wraps a raw stage failure. Errors marked permanent by the retry
// helper and ASR invalid-input errors park immediately; everything else is
// assumed transient and left to the failure sweep.
func classify(stage store.Stage, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	kind := KindTransient
	switch {
	case resilience.IsPermanent(err) || errors.Is(err, asr.ErrInvalidInput):
		kind = KindPermanent
	case errors.Is(err, context.Canceled):
		// Shutdown mid-item: keep the stage retryable.
		kind = KindTransient
	}
	return &StageError{Stage: stage, Kind: kind, Err: err}
}
