package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCanceled       = errors.New("canceled")
	ErrCriticalPhase  = errors.New("critical phase failed")
	ErrOptionalPhase  = errors.New("optional phase failed")
	ErrPlugin         = errors.New("plugin failure")
	ErrPanic          = errors.New("unhandled panic")
	ErrInvalidState   = errors.New("invalid state transition")
	ErrAlreadyStarted = errors.New("already started")
	ErrConfiguration  = errors.New("configuration error")
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrPlugin
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Canceled tags a cancellation cause so it travels the failure channel while
// remaining distinguishable from a real failure.
func Canceled(stage, operation string, cause error) error {
	if cause == nil {
		cause = context.Canceled
	}
	return Wrap(ErrCanceled, stage, operation, "", cause)
}

// IsCanceled reports whether err represents cooperative cancellation rather
// than a failure.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Outcome classifies an error into the short labels used by logs, metrics and
// the run history.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "succeeded"
	case IsCanceled(err):
		return "canceled"
	default:
		return "failed"
	}
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
		return "pipeline failure"
	}
	return strings.Join(parts, ": ")
}
