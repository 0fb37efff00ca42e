package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrResultUnavailable matches any *RemoteError returned by FetchResult.
var ErrResultUnavailable = errors.New("result unavailable")

// SubmissionError reports a failed job submission. StatusCode is zero when
// no response was received.
type SubmissionError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("submit job: remote returned %d: %s", e.StatusCode, e.Message)
	}
	return "submit job: " + e.Message
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// RemoteError is a non-success response from the analysis service. Body
// holds the response exactly as received.
type RemoteError struct {
	Operation  string
	StatusCode int
	Status     string
	Message    string
	Body       []byte
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: remote returned %d: %s", e.Operation, e.StatusCode, e.Message)
}

// Is lets callers test result failures with errors.Is(err, ErrResultUnavailable).
func (e *RemoteError) Is(target error) bool {
	return target == ErrResultUnavailable && e.Operation == OpResult
}

// Operation names used in errors and metrics.
const (
	OpSubmit = "submit"
	OpStatus = "status"
	OpResult = "result"
	OpPing   = "ping"
)

// NotReady builds the error returned when a result is requested early.
func NotReady(status, message string) *RemoteError {
	if message == "" {
		message = "Job is still processing"
	}
	return &RemoteError{
		Operation:  OpResult,
		StatusCode: http.StatusBadRequest,
		Status:     status,
		Message:    message,
		Body:       []byte(fmt.Sprintf(`{"status":%q,"error":%q}`, status, message)),
	}
}
