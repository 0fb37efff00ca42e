// Package mock provides an in-process analysis service for development and
// tests without the model service. Jobs report processing for a configured
// number of polls and then complete with a canned analysis.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"meeting-insight-service/internal/models"
	"meeting-insight-service/internal/service/remote"
)

// Config controls simulated job behavior.
type Config struct {
	// PollsUntilDone is how many polls a job needs to reach a terminal status.
	PollsUntilDone int
	// FailWith makes jobs end in the error status with this message.
	FailWith string
	// CheckAudio rejects submissions whose audio file does not exist.
	CheckAudio bool
}

type job struct {
	audioPath string
	textPath  string
	polls     int
	status    models.RemoteStatus
	fetches   int
}

// Service is a simulated analysis service.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	jobs    map[string]*job
	counter int
	record  func(jobId string, usedText bool) *models.AnalysisRecord
}

var _ remote.Client = (*Service)(nil)

// New creates a simulated service.
func New(cfg Config) *Service {
	if cfg.PollsUntilDone <= 0 {
		cfg.PollsUntilDone = 1
	}
	return &Service{
		cfg:    cfg,
		jobs:   make(map[string]*job),
		record: SampleRecord,
	}
}

func (s *Service) Submit(ctx context.Context, audioPath, textPath string) (string, error) {
	if audioPath == "" {
		return "", &remote.SubmissionError{StatusCode: http.StatusBadRequest, Message: "Audio path is required"}
	}
	if s.cfg.CheckAudio {
		if _, err := os.Stat(audioPath); err != nil {
			return "", &remote.SubmissionError{StatusCode: http.StatusNotFound, Message: "Audio file not found: " + audioPath}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	jobId := fmt.Sprintf("mock-%d-%d", time.Now().Unix(), s.counter)
	s.jobs[jobId] = &job{audioPath: audioPath, textPath: textPath, status: models.RemoteProcessing}
	return jobId, nil
}

func (s *Service) PollStatus(ctx context.Context, jobId string) (remote.StatusReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobId]
	if !ok {
		return remote.StatusReport{}, notFound(remote.OpStatus)
	}
	if !j.status.IsTerminal() {
		j.polls++
		if j.polls >= s.cfg.PollsUntilDone {
			j.status = models.RemoteCompleted
			if s.cfg.FailWith != "" {
				j.status = models.RemoteFailed
			}
		}
	}
	rep := remote.StatusReport{Status: j.status}
	if j.status == models.RemoteFailed {
		rep.Error = s.cfg.FailWith
	}
	return rep, nil
}

func (s *Service) StatusDocument(ctx context.Context, jobId string) (json.RawMessage, error) {
	s.mu.Lock()
	j, ok := s.jobs[jobId]
	var doc map[string]string
	if ok {
		doc = map[string]string{"status": j.status.String()}
		if j.status == models.RemoteFailed {
			doc["error"] = s.cfg.FailWith
		}
	}
	s.mu.Unlock()

	if !ok {
		return nil, notFound(remote.OpStatus)
	}
	return json.Marshal(doc)
}

func (s *Service) FetchResult(ctx context.Context, jobId string) (*models.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobId]
	if !ok {
		return nil, notFound(remote.OpResult)
	}
	j.fetches++
	switch j.status {
	case models.RemoteCompleted:
		return s.record(jobId, j.textPath != ""), nil
	case models.RemoteFailed:
		return nil, remote.NotReady("error", s.cfg.FailWith)
	default:
		return nil, remote.NotReady(j.status.String(), "")
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return nil
}

// Fetches returns how many times the result of jobId was requested.
func (s *Service) Fetches(jobId string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobId]; ok {
		return j.fetches
	}
	return 0
}

// Submitted returns the audio and text paths a job was submitted with.
func (s *Service) Submitted(jobId string) (audioPath, textPath string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobId]
	if !ok {
		return "", "", false
	}
	return j.audioPath, j.textPath, true
}

func notFound(op string) *remote.RemoteError {
	return &remote.RemoteError{
		Operation:  op,
		StatusCode: http.StatusNotFound,
		Status:     "not_found",
		Message:    "Job not found",
		Body:       []byte(`{"status":"not_found","error":"Job not found"}`),
	}
}

// SampleRecord returns a two-speaker analysis used by the simulated service.
func SampleRecord(jobId string, usedText bool) *models.AnalysisRecord {
	summary := "The team reviewed the release plan and agreed to ship on Friday."
	rec := &models.AnalysisRecord{
		JobID:             jobId,
		CreatedAt:         time.Date(2024, 6, 10, 9, 30, 0, 0, time.UTC),
		TranscriptionText: "Let's review the release plan. I think Friday works. Agreed, Friday it is.",
		AlignedSegments: []models.AlignedSegment{
			{Speaker: "SPEAKER_00", Start: 0, End: 4.2, Text: "Let's review the release plan."},
			{Speaker: "SPEAKER_01", Start: 4.8, End: 7.5, Text: "I think Friday works."},
			{Speaker: "SPEAKER_00", Start: 125, End: 128.4, Text: "Agreed, Friday it is."},
		},
		Speakers: []string{"SPEAKER_00", "SPEAKER_01"},
		Analysis: models.Analysis{
			Summary:   &summary,
			Topic:     "Release planning",
			Sentiment: &models.Sentiment{Overall: "positive", Description: "constructive and aligned", Score: 0.72},
			Participation: map[string]float64{
				"SPEAKER_00": 0.69,
				"SPEAKER_01": 0.31,
			},
			SpeakerStats: map[string]models.SpeakerStat{
				"SPEAKER_00": {SpeakingTime: 7.6, Segments: 2, Words: 9},
				"SPEAKER_01": {SpeakingTime: 2.7, Segments: 1, Words: 4},
			},
			SpeakerDialogues: map[string][]models.DialogueLine{
				"SPEAKER_00": {
					{Text: "Let's review the release plan.", StartTime: 0, EndTime: 4.2},
					{Text: "Agreed, Friday it is.", StartTime: 125, EndTime: 128.4},
				},
				"SPEAKER_01": {
					{Text: "I think Friday works.", StartTime: 4.8, EndTime: 7.5},
				},
			},
			UsedAdditionalText: usedText,
		},
	}
	if usedText {
		rec.Analysis.AdditionalTextInfo = &models.AdditionalTextInfo{
			Used:    true,
			Message: "This summary was enriched with the uploaded text document.",
		}
	}
	return rec
}
