package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers for the failure classes a stage can report. Stage code
// tags errors with exactly one marker via Wrap; everything untagged is
// treated as an internal fault.
var (
	ErrValidation          = errors.New("validation error")
	ErrExternalCall        = errors.New("external call failure")
	ErrResourceUnavailable = errors.New("resource unavailable")
	ErrCancelled           = errors.New("cancelled")
	ErrInternal            = errors.New("internal fault")
)

// Machine-readable codes persisted on failed jobs and returned by the API.
const (
	CodeValidation          = "validation_error"
	CodeExternalCall        = "external_call_failure"
	CodeResourceUnavailable = "resource_unavailable"
	CodeCancelled           = "cancelled"
	CodeInternal            = "internal_fault"
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrInternal
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// CauseCode maps a stage error to the code persisted on the failed job.
// Context cancellation counts as a user cancel even when untagged.
func CauseCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return CodeCancelled
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrResourceUnavailable):
		return CodeResourceUnavailable
	case errors.Is(err, ErrExternalCall), errors.Is(err, context.DeadlineExceeded):
		return CodeExternalCall
	default:
		return CodeInternal
	}
}

// UserMessage extracts a display message from a stage error, stripping the
// sentinel prefix so clients see the detail rather than the class name.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, marker := range []error{ErrValidation, ErrExternalCall, ErrResourceUnavailable, ErrCancelled, ErrInternal} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(msg, prefix))
		}
	}
	return msg
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
