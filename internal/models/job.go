package models

import "fmt"

// RemoteStatus is the status of a job on the remote analysis service.
type RemoteStatus int

const (
	RemoteSubmitted RemoteStatus = iota
	RemoteProcessing
	RemoteCompleted
	RemoteFailed
)

// String returns the string representation of the status.
func (s RemoteStatus) String() string {
	switch s {
	case RemoteSubmitted:
		return "submitted"
	case RemoteProcessing:
		return "processing"
	case RemoteCompleted:
		return "completed"
	case RemoteFailed:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// IsTerminal returns true for completed and failed jobs.
func (s RemoteStatus) IsTerminal() bool {
	return s == RemoteCompleted || s == RemoteFailed
}

// MarshalText encodes the status using its wire name.
func (s RemoteStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseRemoteStatus maps the status strings used by the analysis service.
// Unknown values are reported as processing so that polling continues.
func ParseRemoteStatus(v string) RemoteStatus {
	switch v {
	case "completed":
		return RemoteCompleted
	case "error", "failed":
		return RemoteFailed
	case "submitted", "queued":
		return RemoteSubmitted
	default:
		return RemoteProcessing
	}
}

// RemoteJob is one unit of work delegated to the analysis service.
type RemoteJob struct {
	JobID     string       `json:"jobId"`
	AudioPath string       `json:"audioPath"`
	TextPath  string       `json:"textPath,omitempty"`
	Status    RemoteStatus `json:"status"`
	Error     string       `json:"error,omitempty"`
}
