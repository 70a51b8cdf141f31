package tokenization

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned before any I/O when the API key or base URL is missing.
	ErrNotConfigured = errors.New("tokenization client not configured")

	ErrMandateCreation  = errors.New("mandate creation failed")
	ErrTokenRequest     = errors.New("reveal token request failed")
	ErrCredentialReveal = errors.New("credential reveal failed")
)

// Stage names one step of the credential exchange.
type Stage string

const (
	StageMandateCreation  Stage = "mandate creation"
	StageTokenRequest     Stage = "reveal token request"
	StageCredentialReveal Stage = "credential reveal"
)

func (s Stage) sentinel() error {
	switch s {
	case StageMandateCreation:
		return ErrMandateCreation
	case StageTokenRequest:
		return ErrTokenRequest
	case StageCredentialReveal:
		return ErrCredentialReveal
	default:
		return nil
	}
}

// StageError reports which exchange step failed and what the service said.
// StatusCode is zero when the request never got a response.
type StageError struct {
	Stage      Stage
	Message    string
	StatusCode int
	Err        error
}

func (e *StageError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed (status %d): %s", e.Stage, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s failed: %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error { return e.Err }

// Is matches the sentinel of the failing stage, so callers can write
// errors.Is(err, ErrMandateCreation).
func (e *StageError) Is(target error) bool {
	return target != nil && target == e.Stage.sentinel()
}

func stageErr(stage Stage, status int, err error, format string, args ...any) *StageError {
	return &StageError{
		Stage:      stage,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: status,
		Err:        err,
	}
}
