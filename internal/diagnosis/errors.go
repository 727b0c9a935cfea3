package diagnosis

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindInputValidation   Kind = "input_validation"
	KindRateLimited       Kind = "rate_limited"
	KindUnavailable       Kind = "unavailable"
	KindFailed            Kind = "failed"
	KindMalformedResponse Kind = "malformed_response"
	KindPersistence       Kind = "persistence"
)

// Error is the single error type returned by the pipeline.
type Error struct {
	Kind Kind

	// Field names the offending input for KindInputValidation.
	Field string

	Err error

	// Analysis is set for KindPersistence: the model result was obtained
	// but could not be recorded.
	Analysis *Analysis
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindFailed for foreign errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindFailed
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
