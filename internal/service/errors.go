package service

import (
	"errors"
)

// ErrorKind classifies engine failures for the transport layer.
type ErrorKind string

const (
	KindInternal               ErrorKind = "INTERNAL"
	KindInvalidCredentials     ErrorKind = "INVALID_CREDENTIALS"
	KindWindowClosed           ErrorKind = "WINDOW_CLOSED"
	KindExamNotPublished       ErrorKind = "EXAM_NOT_PUBLISHED"
	KindSessionExpired         ErrorKind = "SESSION_EXPIRED"
	KindAlreadySubmitted       ErrorKind = "ALREADY_SUBMITTED"
	KindSessionNotFound        ErrorKind = "SESSION_NOT_FOUND"
	KindConcurrentModification ErrorKind = "CONCURRENT_MODIFICATION"
	KindDefinitionUnavailable  ErrorKind = "DEFINITION_UNAVAILABLE"
	KindQuestionNotInExam      ErrorKind = "QUESTION_NOT_IN_EXAM"
	KindSessionNotSubmitted    ErrorKind = "SESSION_NOT_SUBMITTED"
	KindInvalidAnswer          ErrorKind = "INVALID_ANSWER"
)

// Engine errors. Wrap with %w; classify with KindOf.
var (
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrWindowClosed           = errors.New("exam is outside its availability window")
	ErrExamNotPublished       = errors.New("exam is not published")
	ErrSessionExpired         = errors.New("session has expired")
	ErrAlreadySubmitted       = errors.New("session was already submitted")
	ErrSessionNotFound        = errors.New("session not found")
	ErrConcurrentModification = errors.New("session is being modified concurrently")
	ErrDefinitionUnavailable  = errors.New("exam definition is unavailable")
	ErrQuestionNotInExam      = errors.New("question does not belong to this exam")
	ErrSessionNotSubmitted    = errors.New("session has not been submitted")
	ErrInvalidAnswer          = errors.New("answer does not fit the question")

	errIllegalTransition = errors.New("illegal session status transition")
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvalidCredentials, KindInvalidCredentials},
	{ErrWindowClosed, KindWindowClosed},
	{ErrExamNotPublished, KindExamNotPublished},
	{ErrSessionExpired, KindSessionExpired},
	{ErrAlreadySubmitted, KindAlreadySubmitted},
	{ErrSessionNotFound, KindSessionNotFound},
	{ErrConcurrentModification, KindConcurrentModification},
	{ErrDefinitionUnavailable, KindDefinitionUnavailable},
	{ErrQuestionNotInExam, KindQuestionNotInExam},
	{ErrSessionNotSubmitted, KindSessionNotSubmitted},
	{ErrInvalidAnswer, KindInvalidAnswer},
}

// KindOf returns the ErrorKind of err, or KindInternal for anything unclassified.
func KindOf(err error) ErrorKind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// IsExpected reports whether err is a normal steady-state outcome rather than a fault.
func IsExpected(err error) bool {
	switch KindOf(err) {
	case KindSessionExpired, KindAlreadySubmitted:
		return true
	}
	return false
}
