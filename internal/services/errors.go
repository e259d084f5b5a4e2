package services

import "errors"

// Errors surfaced to handlers, which map them to HTTP status codes.
var (
	ErrContestNotRunning    = errors.New("contest is not accepting submissions")
	ErrNotRegistered        = errors.New("user is not registered for the contest")
	ErrProblemNotInContest  = errors.New("problem is not part of the contest")
	ErrProblemImmutable     = errors.New("problem has submissions and can no longer be modified")
	ErrRegistrationClosed   = errors.New("contest registration is closed")
	ErrUsernameTaken        = errors.New("username is already taken")
	ErrInvalidCredentials   = errors.New("invalid username or password")
	ErrStorageNotConfigured = errors.New("object storage is not configured")
)

// ValidationError marks client input the service refused.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func validationErrorf(reason string) error {
	return &ValidationError{Reason: reason}
}
