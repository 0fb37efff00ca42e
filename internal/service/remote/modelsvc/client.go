// Package modelsvc implements remote.Client over the analysis service's HTTP API.
package modelsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"meeting-insight-service/internal/models"
	"meeting-insight-service/internal/observability/logging"
	"meeting-insight-service/internal/observability/metrics"
	"meeting-insight-service/internal/service/remote"
)

// Config holds client settings.
type Config struct {
	BaseURL        string
	SubmitTimeout  time.Duration
	RequestTimeout time.Duration
}

// DefaultConfig returns the reference timeouts.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://127.0.0.1:5000",
		SubmitTimeout:  60 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// Client is the HTTP analysis service client.
type Client struct {
	baseURL        string
	submitTimeout  time.Duration
	requestTimeout time.Duration
	httpClient     *http.Client
	metrics        *metrics.Metrics
	logger         zerolog.Logger
}

var _ remote.Client = (*Client)(nil)

// New creates a client for cfg.BaseURL.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = def.SubmitTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		submitTimeout:  cfg.SubmitTimeout,
		requestTimeout: cfg.RequestTimeout,
		httpClient:     &http.Client{},
		metrics:        metrics.DefaultMetrics,
		logger:         logging.WithComponent("modelsvc"),
	}
}

type processRequest struct {
	AudioPath    string `json:"audio_path"`
	TextFilePath string `json:"text_file_path,omitempty"`
}

type processResponse struct {
	Message string   `json:"message"`
	JobID   jobIdStr `json:"job_id"`
	Error   string   `json:"error"`
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

type resultResponse struct {
	Status            string                  `json:"status"`
	Error             string                  `json:"error"`
	Transcription     string                  `json:"transcription"`
	AlignedTranscript []models.AlignedSegment `json:"aligned_transcript"`
	Speakers          []string                `json:"speakers"`
	Analysis          *models.Analysis        `json:"analysis"`
}

// jobIdStr accepts job ids encoded as JSON strings or numbers.
type jobIdStr string

func (j *jobIdStr) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*j = jobIdStr(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("job_id is neither string nor number: %s", b)
	}
	*j = jobIdStr(n.String())
	return nil
}

// Submit posts the audio path to /api/process within the submit timeout.
func (c *Client) Submit(ctx context.Context, audioPath, textPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	body, _ := json.Marshal(processRequest{AudioPath: audioPath, TextFilePath: textPath})
	code, data, err := c.do(ctx, remote.OpSubmit, http.MethodPost, "/api/process", body)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("request timed out after %s", c.submitTimeout)
		}
		return "", &remote.SubmissionError{Message: msg, Err: err}
	}
	if !success(code) {
		return "", &remote.SubmissionError{StatusCode: code, Message: errorMessage(data, code)}
	}

	var resp processResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", &remote.SubmissionError{StatusCode: code, Message: "invalid response: " + err.Error(), Err: err}
	}
	if resp.JobID == "" {
		return "", &remote.SubmissionError{StatusCode: code, Message: "response missing job_id"}
	}

	c.logger.Info().Str("jobId", string(resp.JobID)).Str("audioPath", audioPath).Msg("Job submitted")
	return string(resp.JobID), nil
}

// PollStatus reads /api/status/:jobId.
func (c *Client) PollStatus(ctx context.Context, jobId string) (remote.StatusReport, error) {
	data, err := c.StatusDocument(ctx, jobId)
	if err != nil {
		return remote.StatusReport{}, err
	}
	var resp statusResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return remote.StatusReport{}, fmt.Errorf("decode status: %w", err)
	}
	return remote.StatusReport{
		Status: models.ParseRemoteStatus(resp.Status),
		Error:  resp.Error,
	}, nil
}

// StatusDocument returns the raw /api/status/:jobId body on success and a
// *remote.RemoteError otherwise.
func (c *Client) StatusDocument(ctx context.Context, jobId string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	code, data, err := c.do(ctx, remote.OpStatus, http.MethodGet, "/api/status/"+url.PathEscape(jobId), nil)
	if err != nil {
		return nil, err
	}
	if !success(code) {
		return nil, newRemoteError(remote.OpStatus, code, data)
	}
	return json.RawMessage(data), nil
}

// FetchResult reads /api/result/:jobId and converts it to an AnalysisRecord.
func (c *Client) FetchResult(ctx context.Context, jobId string) (*models.AnalysisRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	code, data, err := c.do(ctx, remote.OpResult, http.MethodGet, "/api/result/"+url.PathEscape(jobId), nil)
	if err != nil {
		return nil, err
	}
	if !success(code) {
		return nil, newRemoteError(remote.OpResult, code, data)
	}

	var resp resultResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if resp.Status != "" && resp.Status != "completed" {
		return nil, remote.NotReady(resp.Status, resp.Error)
	}
	if resp.Analysis == nil {
		return nil, fmt.Errorf("decode result: analysis missing")
	}

	return &models.AnalysisRecord{
		JobID:             jobId,
		CreatedAt:         time.Now().UTC(),
		TranscriptionText: resp.Transcription,
		AlignedSegments:   resp.AlignedTranscript,
		Speakers:          resp.Speakers,
		Analysis:          *resp.Analysis,
	}, nil
}

// Ping calls the service's /api/test endpoint.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	code, data, err := c.do(ctx, remote.OpPing, http.MethodGet, "/api/test", nil)
	if err != nil {
		return err
	}
	if !success(code) {
		return newRemoteError(remote.OpPing, code, data)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte) (int, []byte, error) {
	start := time.Now()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordRemote(op, err, time.Since(start).Seconds())
		return 0, nil, fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordRemote(op, err, time.Since(start).Seconds())
		return 0, nil, fmt.Errorf("read %s response: %w", op, err)
	}

	var statusErr error
	if !success(resp.StatusCode) {
		statusErr = fmt.Errorf("status %d", resp.StatusCode)
	}
	c.metrics.RecordRemote(op, statusErr, time.Since(start).Seconds())

	c.logger.Debug().
		Str("operation", op).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Remote call")
	return resp.StatusCode, data, nil
}

func success(code int) bool {
	return code >= 200 && code < 300
}

func newRemoteError(op string, code int, data []byte) *remote.RemoteError {
	var resp statusResponse
	_ = json.Unmarshal(data, &resp)
	return &remote.RemoteError{
		Operation:  op,
		StatusCode: code,
		Status:     resp.Status,
		Message:    errorMessage(data, code),
		Body:       data,
	}
}

// errorMessage extracts the "error" field of a JSON body, falling back to the
// raw body and then to the HTTP status text.
func errorMessage(data []byte, code int) string {
	var body struct {
		Error  string `json:"error"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Status != "" {
			return body.Status
		}
	}
	if s := strings.TrimSpace(string(data)); s != "" && len(s) < 512 {
		return s
	}
	return http.StatusText(code)
}
