// Package fault defines the error taxonomy shared across the analysis
// pipeline. Errors are classified so callers can map them to retry
// decisions and HTTP status codes without string matching.
package fault

import (
	"errors"
	"fmt"
)

// FormatError indicates a document could not be parsed: unsupported
// format, empty content, or structurally unreadable input.
type FormatError struct {
	Format string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("unparseable document: %s", e.Reason)
	}
	return fmt.Sprintf("unsupported document format %q: %s", e.Format, e.Reason)
}

// NewFormatError creates a FormatError for the given format.
func NewFormatError(format, reason string) error {
	return &FormatError{Format: format, Reason: reason}
}

// CapabilityError indicates an external capability call (embedding or
// structured extraction) failed or returned a schema-invalid response.
type CapabilityError struct {
	Capability string // "embedding" or "extraction"
	err        error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s capability: %v", e.Capability, e.err)
}

func (e *CapabilityError) Unwrap() error {
	return e.err
}

// NewCapabilityError wraps an error as a capability failure.
func NewCapabilityError(capability string, err error) error {
	return &CapabilityError{Capability: capability, err: err}
}

// OrderingError indicates a stage was requested before its predecessor
// stage produced a result.
type OrderingError struct {
	Stage       string
	Predecessor string
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("stage %q requires result of stage %q", e.Stage, e.Predecessor)
}

// ConcurrencyError indicates a stage is already running for the task.
// The caller may retry once the in-flight execution finishes.
type ConcurrencyError struct {
	TaskID string
	Stage  string
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("stage %q already running for task %s", e.Stage, e.TaskID)
}

// AmbiguousError indicates a classification could not be trusted: a
// similarity score outside [0,1] or an unrecognized change type from
// the extraction model. Never silently repaired.
type AmbiguousError struct {
	Reason string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous classification: %s", e.Reason)
}

// NewAmbiguousError creates an AmbiguousError with the given reason.
func NewAmbiguousError(format string, args ...any) error {
	return &AmbiguousError{Reason: fmt.Sprintf(format, args...)}
}

// IsFormat reports whether err is a FormatError.
func IsFormat(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// IsCapability reports whether err is a CapabilityError.
func IsCapability(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce)
}

// IsOrdering reports whether err is an OrderingError.
func IsOrdering(err error) bool {
	var oe *OrderingError
	return errors.As(err, &oe)
}

// IsConcurrency reports whether err is a ConcurrencyError.
func IsConcurrency(err error) bool {
	var ce *ConcurrencyError
	return errors.As(err, &ce)
}

// IsAmbiguous reports whether err is an AmbiguousError.
func IsAmbiguous(err error) bool {
	var ae *AmbiguousError
	return errors.As(err, &ae)
}
