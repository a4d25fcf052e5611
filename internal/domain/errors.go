package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy for the reply pipeline. Wrap with fmt.Errorf("...: %w") or
// PipelineError and test with errors.Is.
var (
	// ErrValidation marks a malformed webhook body.
	ErrValidation = errors.New("invalid webhook body")
	// ErrFetch marks a failure retrieving message content from the provider.
	ErrFetch = errors.New("content fetch failed")
	// ErrPersistence marks content that was fetched but is missing on disk.
	ErrPersistence = fmt.Errorf("content not persisted: %w", ErrFetch)
	// ErrClassification marks a classifier invocation or rendering failure.
	ErrClassification = errors.New("classification failed")
	// ErrForwarding marks a failed call to the answering service.
	ErrForwarding = errors.New("answer forwarding failed")
	// ErrDecode marks an answering-service response of the wrong shape.
	ErrDecode = errors.New("answer decode failed")
	// ErrStorage marks an object-store download failure.
	ErrStorage = errors.New("object storage failed")
	// ErrDelivery marks a non-200 response from the reply endpoint.
	ErrDelivery = errors.New("reply delivery failed")
)

// PipelineError attaches the failing stage and media id to an error.
type PipelineError struct {
	Stage   string // fetch | classify | publish | shelter
	MediaID string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.MediaID != "" {
		return fmt.Sprintf("%s %s: %s", e.Stage, e.MediaID, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewPipelineError wraps err with stage context. Returns nil for a nil err.
func NewPipelineError(stage, mediaID string, err error) error {
	if err == nil {
		return nil
	}
	return &PipelineError{Stage: stage, MediaID: mediaID, Err: err}
}
