package model

import "errors"

// Storage contract errors. Store adapters return these so callers can
// distinguish a lost race or a closed session from an infrastructure failure.
var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSessionClosed is returned when a write needs an open session but
	// submitted_at is already set.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotSubmitted is returned when grading a session that is still open.
	ErrNotSubmitted = errors.New("session not submitted")

	// ErrAlreadyGraded is returned when grading a session a second time.
	ErrAlreadyGraded = errors.New("session already graded")

	// ErrUnknownQuestion is returned when an answer references a question
	// that does not belong to the session's exam.
	ErrUnknownQuestion = errors.New("unknown question")

	// ErrForeignAnswer is returned when a grade references an answer that
	// belongs to another session.
	ErrForeignAnswer = errors.New("answer does not belong to this session")
)
