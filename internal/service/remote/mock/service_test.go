package mock

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"meeting-insight-service/internal/models"
	"meeting-insight-service/internal/service/remote"
)

func TestService_CompletesAfterPolls(t *testing.T) {
	s := New(Config{PollsUntilDone: 2})
	ctx := context.Background()

	jobId, err := s.Submit(ctx, "a.mp3", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.FetchResult(ctx, jobId); !errors.Is(err, remote.ErrResultUnavailable) {
		t.Errorf("expected ErrResultUnavailable before completion, got %v", err)
	}

	rep, _ := s.PollStatus(ctx, jobId)
	if rep.Status != models.RemoteProcessing {
		t.Errorf("expected processing after first poll, got %v", rep.Status)
	}
	rep, _ = s.PollStatus(ctx, jobId)
	if rep.Status != models.RemoteCompleted {
		t.Errorf("expected completed after second poll, got %v", rep.Status)
	}

	rec, err := s.FetchResult(ctx, jobId)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.JobID != jobId {
		t.Errorf("expected record for %s, got %s", jobId, rec.JobID)
	}
	if s.Fetches(jobId) != 2 {
		t.Errorf("expected 2 fetches, got %d", s.Fetches(jobId))
	}
}

func TestService_FailWith(t *testing.T) {
	s := New(Config{FailWith: "transcription failed"})
	ctx := context.Background()

	jobId, _ := s.Submit(ctx, "a.mp3", "")
	rep, _ := s.PollStatus(ctx, jobId)

	if rep.Status != models.RemoteFailed {
		t.Fatalf("expected failed, got %v", rep.Status)
	}
	if rep.Error != "transcription failed" {
		t.Errorf("expected failure message, got %q", rep.Error)
	}

	doc, err := s.StatusDocument(ctx, jobId)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]string
	json.Unmarshal(doc, &body)
	if body["status"] != "error" || body["error"] != "transcription failed" {
		t.Errorf("unexpected status document %s", doc)
	}
}

func TestService_UnknownJob(t *testing.T) {
	s := New(Config{})

	_, err := s.PollStatus(context.Background(), "nope")
	var remoteErr *remote.RemoteError
	if !errors.As(err, &remoteErr) || remoteErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 RemoteError, got %v", err)
	}
}

func TestService_CheckAudio(t *testing.T) {
	s := New(Config{CheckAudio: true})

	_, err := s.Submit(context.Background(), filepath.Join(t.TempDir(), "missing.mp3"), "")
	var subErr *remote.SubmissionError
	if !errors.As(err, &subErr) || subErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 SubmissionError, got %v", err)
	}

	audio := filepath.Join(t.TempDir(), "a.mp3")
	os.WriteFile(audio, []byte("ID3"), 0o644)
	if _, err := s.Submit(context.Background(), audio, ""); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSampleRecord_UsedText(t *testing.T) {
	rec := SampleRecord("j", true)
	if !rec.Analysis.UsedAdditionalText || rec.Analysis.AdditionalTextInfo == nil {
		t.Error("expected additional text info when text was used")
	}
	if SampleRecord("j", false).Analysis.AdditionalTextInfo != nil {
		t.Error("expected no additional text info")
	}
}
