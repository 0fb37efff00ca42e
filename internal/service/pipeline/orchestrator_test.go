package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"meeting-insight-service/internal/models"
	"meeting-insight-service/internal/service/records"
	"meeting-insight-service/internal/service/remote"
	"meeting-insight-service/internal/service/remote/mock"
)

type recorder struct {
	mu       sync.Mutex
	events   []models.ProgressEvent
	terminal chan models.ProgressEvent
}

func newRecorder() *recorder {
	return &recorder{terminal: make(chan models.ProgressEvent, 8)}
}

func (r *recorder) Publish(ev models.ProgressEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if ev.Status.IsTerminal() {
		r.terminal <- ev
	}
}

func (r *recorder) statuses() []models.EventStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventStatus, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Status
	}
	return out
}

func (r *recorder) count(status models.EventStatus) int {
	n := 0
	for _, s := range r.statuses() {
		if s == status {
			n++
		}
	}
	return n
}

func (r *recorder) waitTerminal(t *testing.T) models.ProgressEvent {
	t.Helper()
	select {
	case ev := <-r.terminal:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatalf("no terminal event, got %v", r.statuses())
		return models.ProgressEvent{}
	}
}

type fakeExtractor struct {
	err   error
	calls int
}

func (f *fakeExtractor) ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(audioPath, []byte("ID3 audio"), 0o644)
}

// flakyClient fails the first n status polls with a transport error.
type flakyClient struct {
	*mock.Service
	mu       sync.Mutex
	failures int
	polls    int
}

func (c *flakyClient) PollStatus(ctx context.Context, jobId string) (remote.StatusReport, error) {
	c.mu.Lock()
	c.polls++
	fail := c.polls <= c.failures
	c.mu.Unlock()
	if fail {
		return remote.StatusReport{}, errors.New("connection refused")
	}
	return c.Service.PollStatus(ctx, jobId)
}

// repeatingClient always reports completed without tracking polls.
type repeatingClient struct {
	*mock.Service
}

func (c *repeatingClient) PollStatus(ctx context.Context, jobId string) (remote.StatusReport, error) {
	return remote.StatusReport{Status: models.RemoteCompleted}, nil
}

type rejectingClient struct {
	*mock.Service
}

func (c *rejectingClient) Submit(ctx context.Context, audioPath, textPath string) (string, error) {
	return "", &remote.SubmissionError{StatusCode: 500, Message: "Whisper model is not loaded"}
}

// unfetchableClient reports completion but cannot deliver the result.
type unfetchableClient struct {
	*mock.Service
}

func (c *unfetchableClient) FetchResult(ctx context.Context, jobId string) (*models.AnalysisRecord, error) {
	return nil, &remote.RemoteError{Operation: remote.OpResult, StatusCode: 404, Message: "Result not found"}
}

type failingStore struct {
	mu    sync.Mutex
	saves int
}

func (s *failingStore) Save(rec *models.AnalysisRecord) (string, error) {
	s.mu.Lock()
	s.saves++
	s.mu.Unlock()
	return "", errors.New("disk full")
}

type harness struct {
	orch      *Orchestrator
	events    *recorder
	extractor *fakeExtractor
	store     *records.Store
	uploadDir string
	audioDir  string
}

func newHarness(t *testing.T, client remote.Client, cfg Config) *harness {
	t.Helper()
	root := t.TempDir()
	h := &harness{
		events:    newRecorder(),
		extractor: &fakeExtractor{},
		uploadDir: filepath.Join(root, "uploads"),
		audioDir:  filepath.Join(root, "audio"),
	}
	analysisDir := filepath.Join(root, "meeting_analyses")
	for _, dir := range []string{h.uploadDir, h.audioDir, analysisDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	h.store = records.NewStore(analysisDir, nil)

	cfg.UploadDir = h.uploadDir
	cfg.AudioDir = h.audioDir
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	h.orch = New(cfg, h.extractor, client, h.store, h.events)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.orch.Shutdown(ctx)
	})
	return h
}

func (h *harness) asset(t *testing.T, name string, kind models.AssetKind, content string) *models.UploadedAsset {
	t.Helper()
	path := filepath.Join(h.uploadDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return &models.UploadedAsset{
		ID:         "asset-" + name,
		StoredName: name,
		StoredPath: path,
		Kind:       kind,
		SizeBytes:  int64(len(content)),
		CreatedAt:  time.Now(),
	}
}

func equalStatuses(a, b []models.EventStatus) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOrchestrator_Scenario(t *testing.T) {
	svc := mock.New(mock.Config{PollsUntilDone: 1})
	h := newHarness(t, svc, Config{})
	ctx := context.Background()

	video := h.asset(t, "1718000000000-1.mp4", models.AssetVideo, "ten seconds of video")
	up, err := h.orch.OnUploadComplete(ctx, video, nil)
	if err != nil {
		t.Fatalf("upload phase failed: %v", err)
	}
	if up.AudioURL != "/audio/1718000000000-1.mp3" {
		t.Errorf("expected /audio/1718000000000-1.mp3, got %s", up.AudioURL)
	}
	if up.VideoURL != "/uploads/1718000000000-1.mp4" {
		t.Errorf("expected /uploads/1718000000000-1.mp4, got %s", up.VideoURL)
	}
	info, err := os.Stat(up.AudioPath)
	if err != nil || info.Size() == 0 {
		t.Fatalf("expected non-empty audio file at %s", up.AudioPath)
	}

	jobId, err := h.orch.OnProcessRequested(ctx, up.AudioURL, "")
	if err != nil {
		t.Fatalf("process phase failed: %v", err)
	}
	if jobId == "" {
		t.Fatal("expected job id")
	}

	ev := h.events.waitTerminal(t)
	if ev.Status != models.EventCompleted {
		t.Fatalf("expected completed, got %v (%s)", ev.Status, ev.Message)
	}
	if ev.JobID != jobId {
		t.Errorf("expected job id %s, got %s", jobId, ev.JobID)
	}
	if ev.ReportFile != records.FileName(jobId) {
		t.Errorf("expected report %s, got %s", records.FileName(jobId), ev.ReportFile)
	}

	expected := []models.EventStatus{
		models.EventStarted,
		models.EventAudioExtracted,
		models.EventModelProcessing,
		models.EventModelStarted,
		models.EventCompleted,
	}
	if got := h.events.statuses(); !equalStatuses(got, expected) {
		t.Errorf("expected events %v, got %v", expected, got)
	}

	rec, err := h.store.LoadByJob(jobId)
	if err != nil {
		t.Fatalf("expected stored record: %v", err)
	}
	if len(rec.AlignedSegments) == 0 {
		t.Error("expected aligned segments in stored record")
	}

	if got := svc.Fetches(jobId); got != 1 {
		t.Errorf("expected 1 fetch, got %d", got)
	}
	if got := h.orch.ActivePollers(); len(got) != 0 {
		t.Errorf("expected no active pollers, got %v", got)
	}

	job, ok := h.orch.Job(jobId)
	if !ok {
		t.Fatal("expected job in listing")
	}
	if job.State != StateCompleted {
		t.Errorf("expected COMPLETED, got %v", job.State)
	}
	if job.RemoteStatus != models.RemoteCompleted {
		t.Errorf("expected remote completed, got %v", job.RemoteStatus)
	}
}

func TestOrchestrator_TextFileAnnounced(t *testing.T) {
	svc := mock.New(mock.Config{PollsUntilDone: 1})
	h := newHarness(t, svc, Config{})
	ctx := context.Background()

	video := h.asset(t, "v.mp4", models.AssetVideo, "video")
	text := h.asset(t, "notes.txt", models.AssetSupplementaryText, "")

	up, err := h.orch.OnUploadComplete(ctx, video, text)
	if err != nil {
		t.Fatalf("upload phase failed: %v", err)
	}
	if up.TextURL != "/uploads/notes.txt" {
		t.Errorf("expected /uploads/notes.txt, got %s", up.TextURL)
	}

	expected := []models.EventStatus{models.EventStarted, models.EventInfo, models.EventAudioExtracted}
	if got := h.events.statuses(); !equalStatuses(got, expected) {
		t.Errorf("expected events %v, got %v", expected, got)
	}

	jobId, err := h.orch.OnProcessRequested(ctx, up.AudioURL, up.TextURL)
	if err != nil {
		t.Fatalf("process phase failed: %v", err)
	}
	_, textPath, ok := svc.Submitted(jobId)
	if !ok {
		t.Fatal("expected submitted job")
	}
	if textPath != text.StoredPath {
		t.Errorf("expected text path %s, got %s", text.StoredPath, textPath)
	}
	if ev := h.events.waitTerminal(t); ev.Status != models.EventCompleted {
		t.Errorf("expected completed, got %v", ev.Status)
	}
}

func TestOrchestrator_ExtractionFailure(t *testing.T) {
	h := newHarness(t, mock.New(mock.Config{}), Config{})
	h.extractor.err = errors.New("ffmpeg exited with status 1: Invalid data found when processing input")

	video := h.asset(t, "broken.mp4", models.AssetVideo, "garbage")
	if _, err := h.orch.OnUploadComplete(context.Background(), video, nil); err == nil {
		t.Fatal("expected extraction error")
	}

	ev := h.events.waitTerminal(t)
	if ev.Status != models.EventError {
		t.Fatalf("expected error event, got %v", ev.Status)
	}
	if !strings.Contains(ev.Message, "Invalid data found") {
		t.Errorf("expected tool message in event, got %q", ev.Message)
	}

	jobs := h.orch.Jobs()
	if len(jobs) != 1 || jobs[0].State != StateFailed {
		t.Errorf("expected one FAILED pipeline, got %+v", jobs)
	}
	if h.events.count(models.EventAudioExtracted) != 0 {
		t.Error("expected no audioExtracted event")
	}
}

func TestOrchestrator_RemoteFailure(t *testing.T) {
	svc := mock.New(mock.Config{PollsUntilDone: 2, FailWith: "CUDA out of memory"})
	h := newHarness(t, svc, Config{})
	ctx := context.Background()

	up, err := h.orch.OnUploadComplete(ctx, h.asset(t, "v.mp4", models.AssetVideo, "video"), nil)
	if err != nil {
		t.Fatal(err)
	}
	jobId, err := h.orch.OnProcessRequested(ctx, up.AudioURL, "")
	if err != nil {
		t.Fatal(err)
	}

	ev := h.events.waitTerminal(t)
	if ev.Status != models.EventError {
		t.Fatalf("expected error, got %v", ev.Status)
	}
	if ev.Message != "Model error: CUDA out of memory" {
		t.Errorf("unexpected message %q", ev.Message)
	}

	time.Sleep(50 * time.Millisecond)
	if n := h.events.count(models.EventError) + h.events.count(models.EventCompleted); n != 1 {
		t.Errorf("expected exactly one terminal event, got %d", n)
	}
	if svc.Fetches(jobId) != 0 {
		t.Error("expected no result fetch for failed job")
	}
}

func TestOrchestrator_TransportErrorsAreRetried(t *testing.T) {
	client := &flakyClient{Service: mock.New(mock.Config{PollsUntilDone: 1}), failures: 3}
	h := newHarness(t, client, Config{})
	ctx := context.Background()

	up, err := h.orch.OnUploadComplete(ctx, h.asset(t, "v.mp4", models.AssetVideo, "video"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.OnProcessRequested(ctx, up.AudioURL, ""); err != nil {
		t.Fatal(err)
	}

	if ev := h.events.waitTerminal(t); ev.Status != models.EventCompleted {
		t.Fatalf("expected completed after transient errors, got %v (%s)", ev.Status, ev.Message)
	}
	client.mu.Lock()
	polls := client.polls
	client.mu.Unlock()
	if polls != 4 {
		t.Errorf("expected 4 polls, got %d", polls)
	}
}

func TestOrchestrator_RepeatedCompletedPollIsIgnored(t *testing.T) {
	svc := mock.New(mock.Config{PollsUntilDone: 1})
	client := &repeatingClient{Service: svc}
	h := newHarness(t, client, Config{PollInterval: time.Hour})
	ctx := context.Background()

	up, err := h.orch.OnUploadComplete(ctx, h.asset(t, "v.mp4", models.AssetVideo, "video"), nil)
	if err != nil {
		t.Fatal(err)
	}
	jobId, err := h.orch.OnProcessRequested(ctx, up.AudioURL, "")
	if err != nil {
		t.Fatal(err)
	}
	// Mark the mock job completed so its result can be fetched.
	if _, err := svc.PollStatus(ctx, jobId); err != nil {
		t.Fatal(err)
	}

	h.orch.mu.Lock()
	p := h.orch.jobs[jobId]
	h.orch.mu.Unlock()

	logger := h.orch.logger
	if !h.orch.checkOnce(ctx, jobId, p, logger) {
		t.Error("expected first completed poll to end polling")
	}
	if !h.orch.checkOnce(ctx, jobId, p, logger) {
		t.Error("expected second completed poll to end polling")
	}

	if n := h.events.count(models.EventCompleted); n != 1 {
		t.Errorf("expected 1 completed event, got %d", n)
	}
	if n := svc.Fetches(jobId); n != 1 {
		t.Errorf("expected 1 fetch, got %d", n)
	}
}

func TestOrchestrator_PollLimit(t *testing.T) {
	svc := mock.New(mock.Config{PollsUntilDone: 1000})
	h := newHarness(t, svc, Config{PollMaxAttempts: 3})
	ctx := context.Background()

	up, err := h.orch.OnUploadComplete(ctx, h.asset(t, "v.mp4", models.AssetVideo, "video"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.OnProcessRequested(ctx, up.AudioURL, ""); err != nil {
		t.Fatal(err)
	}

	ev := h.events.waitTerminal(t)
	if ev.Status != models.EventError {
		t.Fatalf("expected error, got %v", ev.Status)
	}
	if !strings.Contains(ev.Message, "3 status checks") {
		t.Errorf("unexpected message %q", ev.Message)
	}
}

func TestOrchestrator_ProcessRequestErrors(t *testing.T) {
	h := newHarness(t, mock.New(mock.Config{}), Config{})
	ctx := context.Background()

	if _, err := h.orch.OnProcessRequested(ctx, "", ""); !errors.Is(err, ErrAudioPathRequired) {
		t.Errorf("expected ErrAudioPathRequired, got %v", err)
	}
	if _, err := h.orch.OnProcessRequested(ctx, "/audio/missing.mp3", ""); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("expected ErrAssetNotFound, got %v", err)
	}
	if _, err := h.orch.OnProcessRequested(ctx, "/audio/../../etc/passwd", ""); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("expected ErrAssetNotFound for traversal, got %v", err)
	}
	if len(h.events.statuses()) != 0 {
		t.Errorf("expected no events, got %v", h.events.statuses())
	}
}

func TestOrchestrator_SubmissionFailure(t *testing.T) {
	client := &rejectingClient{Service: mock.New(mock.Config{})}
	h := newHarness(t, client, Config{})
	ctx := context.Background()

	up, err := h.orch.OnUploadComplete(ctx, h.asset(t, "v.mp4", models.AssetVideo, "video"), nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = h.orch.OnProcessRequested(ctx, up.AudioURL, "")
	var serr *remote.SubmissionError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}

	ev := h.events.waitTerminal(t)
	if ev.Status != models.EventError {
		t.Fatalf("expected error event, got %v", ev.Status)
	}
	if ev.Message != "Model service error: Whisper model is not loaded" {
		t.Errorf("unexpected message %q", ev.Message)
	}
	if n := h.events.count(models.EventModelStarted); n != 0 {
		t.Errorf("expected no modelStarted event, got %d", n)
	}
}

func TestOrchestrator_ProcessWithoutUploadPhase(t *testing.T) {
	svc := mock.New(mock.Config{PollsUntilDone: 1})
	h := newHarness(t, svc, Config{})

	if err := os.WriteFile(filepath.Join(h.audioDir, "earlier.mp3"), []byte("ID3"), 0o644); err != nil {
		t.Fatal(err)
	}

	jobId, err := h.orch.OnProcessRequested(context.Background(), "/audio/earlier.mp3", "")
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if ev := h.events.waitTerminal(t); ev.Status != models.EventCompleted {
		t.Errorf("expected completed, got %v", ev.Status)
	}
	if job, ok := h.orch.Job(jobId); !ok || job.AssetID != "earlier" {
		t.Errorf("expected adopted pipeline for earlier, got %+v", job)
	}
}

func TestOrchestrator_ShutdownStopsPollers(t *testing.T) {
	svc := mock.New(mock.Config{PollsUntilDone: 1})
	h := newHarness(t, svc, Config{PollInterval: time.Hour})
	ctx := context.Background()

	up, err := h.orch.OnUploadComplete(ctx, h.asset(t, "v.mp4", models.AssetVideo, "video"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.OnProcessRequested(ctx, up.AudioURL, ""); err != nil {
		t.Fatal(err)
	}
	if n := len(h.orch.ActivePollers()); n != 1 {
		t.Fatalf("expected 1 active poller, got %d", n)
	}

	sctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := h.orch.Shutdown(sctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if n := len(h.orch.ActivePollers()); n != 0 {
		t.Errorf("expected no active pollers, got %d", n)
	}

	if _, err := h.orch.OnUploadComplete(ctx, h.asset(t, "w.mp4", models.AssetVideo, "video"), nil); !errors.Is(err, ErrShutdown) {
		t.Errorf("expected ErrShutdown, got %v", err)
	}
}

func runToTerminal(t *testing.T, h *harness) (string, models.ProgressEvent) {
	t.Helper()
	ctx := context.Background()
	up, err := h.orch.OnUploadComplete(ctx, h.asset(t, "v.mp4", models.AssetVideo, "video"), nil)
	if err != nil {
		t.Fatal(err)
	}
	jobId, err := h.orch.OnProcessRequested(ctx, up.AudioURL, "")
	if err != nil {
		t.Fatal(err)
	}
	return jobId, h.events.waitTerminal(t)
}

func TestOrchestrator_CompletionFailures(t *testing.T) {
	tests := []struct {
		name    string
		client  func() remote.Client
		store   func() RecordStore
		message string
	}{
		{
			name:    "result cannot be fetched",
			client:  func() remote.Client { return &unfetchableClient{Service: mock.New(mock.Config{PollsUntilDone: 1})} },
			message: "Result could not be retrieved",
		},
		{
			name:    "result cannot be stored",
			client:  func() remote.Client { return mock.New(mock.Config{PollsUntilDone: 1}) },
			store:   func() RecordStore { return &failingStore{} },
			message: "Result could not be stored",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.client(), Config{})
			if tt.store != nil {
				h.orch.store = tt.store()
			}

			jobId, ev := runToTerminal(t, h)
			if ev.Status != models.EventError {
				t.Fatalf("expected error event, got %v", ev.Status)
			}
			if !strings.HasPrefix(ev.Message, tt.message) {
				t.Errorf("expected message starting with %q, got %q", tt.message, ev.Message)
			}

			time.Sleep(50 * time.Millisecond)
			if n := h.events.count(models.EventError); n != 1 {
				t.Errorf("expected 1 error event, got %d", n)
			}
			if n := h.events.count(models.EventCompleted); n != 0 {
				t.Errorf("expected no completed event, got %d", n)
			}
			if n := len(h.orch.ActivePollers()); n != 0 {
				t.Errorf("expected no active pollers, got %d", n)
			}
			job, ok := h.orch.Job(jobId)
			if !ok || job.State != StateFailed {
				t.Errorf("expected FAILED job, got %+v", job)
			}
			if job.ReportFile != "" {
				t.Errorf("expected no report file, got %s", job.ReportFile)
			}
		})
	}
}

func TestOrchestrator_IncompleteResultFailsJob(t *testing.T) {
	client := &incompleteClient{Service: mock.New(mock.Config{PollsUntilDone: 1})}
	h := newHarness(t, client, Config{})

	_, ev := runToTerminal(t, h)
	if ev.Status != models.EventError {
		t.Fatalf("expected error for an incomplete record, got %v", ev.Status)
	}
	if !strings.Contains(ev.Message, "speaker_stats") {
		t.Errorf("expected missing fields in message, got %q", ev.Message)
	}
}

// incompleteClient returns a result without speaker data.
type incompleteClient struct {
	*mock.Service
}

func (c *incompleteClient) FetchResult(ctx context.Context, jobId string) (*models.AnalysisRecord, error) {
	rec, err := c.Service.FetchResult(ctx, jobId)
	if err != nil {
		return nil, err
	}
	rec.Analysis.SpeakerStats = nil
	rec.Analysis.SpeakerDialogues = nil
	return rec, nil
}

func TestOrchestrator_ClaimPipelineOnce(t *testing.T) {
	h := newHarness(t, mock.New(mock.Config{}), Config{})

	up, err := h.orch.OnUploadComplete(context.Background(), h.asset(t, "v.mp4", models.AssetVideo, "video"), nil)
	if err != nil {
		t.Fatal(err)
	}
	audioFile := filepath.Join(h.audioDir, filepath.Base(up.AudioPath))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
		busy    int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := h.orch.claimPipeline(audioFile)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && p.State() == StateSubmitting:
				claimed++
			case errors.Is(err, ErrJobInProgress):
				busy++
			default:
				t.Errorf("unexpected claim result %v, %v", p, err)
			}
		}()
	}
	wg.Wait()

	if claimed != 1 {
		t.Errorf("expected exactly 1 claim, got %d", claimed)
	}
	if busy != 7 {
		t.Errorf("expected 7 in-progress rejections, got %d", busy)
	}
}
