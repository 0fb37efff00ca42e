// Package remote defines the contract with the asynchronous analysis service:
// submit a job, poll its status, fetch its result.
package remote

import (
	"context"
	"encoding/json"

	"meeting-insight-service/internal/models"
)

// StatusReport is one observation of a remote job.
type StatusReport struct {
	Status models.RemoteStatus
	Error  string
}

// Client talks to an analysis service implementation.
type Client interface {
	// Submit starts a job for audioPath and returns the service-assigned job id.
	// textPath is optional. Failures are *SubmissionError.
	Submit(ctx context.Context, audioPath, textPath string) (string, error)

	// PollStatus reports the current status of jobId. A returned error is a
	// transport or protocol fault, not a job failure.
	PollStatus(ctx context.Context, jobId string) (StatusReport, error)

	// FetchResult returns the analysis of a completed job. Before completion
	// it fails with a *RemoteError carrying the service's own response.
	FetchResult(ctx context.Context, jobId string) (*models.AnalysisRecord, error)

	// StatusDocument returns the raw status body for proxying.
	StatusDocument(ctx context.Context, jobId string) (json.RawMessage, error)

	// Ping checks connectivity with the service.
	Ping(ctx context.Context) error
}
