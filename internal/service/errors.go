package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Session engine errors. The storage contract errors are re-exported so
// handlers only need this package.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrExamNotFound    = errors.New("exam not found")
	ErrForbidden       = errors.New("session belongs to another user")
	ErrValidation      = errors.New("validation failed")

	ErrSessionClosed = model.ErrSessionClosed
	ErrNotSubmitted  = model.ErrNotSubmitted
	ErrAlreadyGraded = model.ErrAlreadyGraded
	ErrForeignAnswer = model.ErrForeignAnswer
)

// AdmissionReason is why a start request was denied.
type AdmissionReason string

const (
	AdmissionTooEarly     AdmissionReason = "too_early"
	AdmissionTooLate      AdmissionReason = "too_late"
	AdmissionNotPublished AdmissionReason = "not_published"
	AdmissionNotEnrolled  AdmissionReason = "not_enrolled"
)

// LateReason refines AdmissionTooLate.
type LateReason string

const (
	LateMissed           LateReason = "missed"
	LateAlreadySubmitted LateReason = "already_submitted"
)

// AdmissionError denies a start request.
type AdmissionError struct {
	Reason AdmissionReason
	Late   LateReason
}

func (e *AdmissionError) Error() string {
	if e.Reason == AdmissionTooLate && e.Late != "" {
		return fmt.Sprintf("admission denied: %s (%s)", e.Reason, e.Late)
	}
	return fmt.Sprintf("admission denied: %s", e.Reason)
}

// ValidationError carries per-field messages and matches ErrValidation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// PersistenceError wraps a store failure. The session state is unchanged
// when it is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *PersistenceError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the call may succeed. Every engine
// transition is a compare-and-set, so a retry never applies twice.
func (e *PersistenceError) Retryable() bool {
	if errors.Is(e.Err, context.Canceled) {
		return false
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var safe interface{ SafeToRetry() bool }
	if errors.As(e.Err, &safe) && safe.SafeToRetry() {
		return true
	}
	var temp interface{ Temporary() bool }
	if errors.As(e.Err, &temp) && temp.Temporary() {
		return true
	}
	var timeout interface{ Timeout() bool }
	return errors.As(e.Err, &timeout) && timeout.Timeout()
}

// storeErr maps a store error onto the engine taxonomy. Contract errors pass
// through; anything else becomes a PersistenceError.
func storeErr(op string, err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrNotFound):
		if notFound != nil {
			return notFound
		}
		return err
	case errors.Is(err, model.ErrSessionClosed),
		errors.Is(err, model.ErrNotSubmitted),
		errors.Is(err, model.ErrAlreadyGraded),
		errors.Is(err, model.ErrForeignAnswer):
		return err
	case errors.Is(err, model.ErrUnknownQuestion):
		return newValidationError("question_id", "question does not belong to this exam")
	}
	return &PersistenceError{Op: op, Err: err}
}

func isNotFound(err error) bool { return errors.Is(err, model.ErrNotFound) }
