package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrPeriodNotFound is returned when the requested period does not exist.
	ErrPeriodNotFound = errors.New("period not found")
	// ErrPeriodInactive is returned when the period's window does not contain now.
	ErrPeriodInactive = errors.New("period is not active")
	// ErrAlreadyCompleted is returned when a user re-joins a period they finished.
	ErrAlreadyCompleted = errors.New("session already completed for this period")
	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionNotActive is returned for operations on terminal sessions.
	ErrSessionNotActive = errors.New("session is not active")
	// ErrQuestionNotFound is returned for unknown or already-answered questions.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrRateLimitExceeded is returned when submissions arrive faster than the ceiling.
	ErrRateLimitExceeded = errors.New("submission rate limit exceeded")
	// ErrGenerationFailure is returned when the provider yields zero valid questions.
	ErrGenerationFailure = errors.New("question generation failed")
	// ErrCannotResume is returned when the resumability policy rejects a session.
	ErrCannotResume = errors.New("session cannot be resumed")
)

// PaymentRequiredError signals that joining needs an external payment flow
// before a session can be created. It carries the outstanding amount.
type PaymentRequiredError struct {
	Amount int64
}

func (e *PaymentRequiredError) Error() string {
	return fmt.Sprintf("entry fee payment required: %d", e.Amount)
}
