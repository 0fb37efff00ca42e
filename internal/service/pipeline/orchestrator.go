package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"meeting-insight-service/internal/models"
	"meeting-insight-service/internal/observability/logging"
	"meeting-insight-service/internal/observability/metrics"
	"meeting-insight-service/internal/service/remote"
)

var (
	// ErrAssetNotFound is returned when a process request names audio that does not exist.
	ErrAssetNotFound = errors.New("audio file not found")
	// ErrAudioPathRequired is returned when a process request carries no audio path.
	ErrAudioPathRequired = errors.New("audio path is required")
	// ErrShutdown is returned once the orchestrator has been shut down.
	ErrShutdown = errors.New("orchestrator is shut down")
	// ErrJobInProgress is returned when the audio is already being extracted or processed.
	ErrJobInProgress = errors.New("audio is already being processed")
)

// URL prefixes under which stored files are served.
const (
	UploadURLPrefix = "/uploads/"
	AudioURLPrefix  = "/audio/"
)

// Extractor produces an audio file from a video file.
type Extractor interface {
	ExtractAudio(ctx context.Context, videoPath, audioPath string) error
}

// RecordStore persists completed analysis records.
type RecordStore interface {
	Save(rec *models.AnalysisRecord) (string, error)
}

// Publisher receives progress events.
type Publisher interface {
	Publish(ev models.ProgressEvent)
}

// Config holds orchestrator settings.
type Config struct {
	UploadDir string
	AudioDir  string
	AudioExt  string

	PollInterval       time.Duration
	PollRequestTimeout time.Duration
	// PollMaxAttempts stops polling after this many ticks. Zero means no limit.
	PollMaxAttempts int
}

// DefaultConfig returns the default orchestrator settings.
func DefaultConfig() Config {
	return Config{
		UploadDir:          "uploads",
		AudioDir:           "audio",
		AudioExt:           ".mp3",
		PollInterval:       10 * time.Second,
		PollRequestTimeout: 30 * time.Second,
	}
}

// Pipeline is one upload on its way to an analysis record.
type Pipeline struct {
	*Lifecycle

	Video     *models.UploadedAsset
	Text      *models.UploadedAsset
	AudioPath string
	TextPath  string

	mu         sync.Mutex
	jobId      string
	reportFile string
	submitted  time.Time
}

func (p *Pipeline) setJob(jobId string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobId = jobId
	p.submitted = time.Now()
}

func (p *Pipeline) job() (string, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobId, p.submitted
}

func (p *Pipeline) setReport(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reportFile = name
}

// Upload is the outcome of a completed upload phase.
type Upload struct {
	AssetID   string
	VideoURL  string
	AudioURL  string
	AudioPath string
	TextURL   string
}

// JobInfo is a snapshot of one pipeline for listings.
type JobInfo struct {
	AssetID      string              `json:"assetId"`
	JobID        string              `json:"jobId,omitempty"`
	State        State               `json:"state"`
	RemoteStatus models.RemoteStatus `json:"remoteStatus"`
	AudioPath    string              `json:"audioPath"`
	ReportFile   string              `json:"reportFile,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// Orchestrator owns every pipeline and the status poller of every job.
type Orchestrator struct {
	cfg       Config
	extractor Extractor
	remote    remote.Client
	store     RecordStore
	events    Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	pipelines []*Pipeline
	byAudio   map[string]*Pipeline
	jobs      map[string]*Pipeline
	pollers   map[string]context.CancelFunc
	closed    bool
}

// New creates an orchestrator.
func New(cfg Config, extractor Extractor, client remote.Client, store RecordStore, events Publisher) *Orchestrator {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollRequestTimeout <= 0 {
		cfg.PollRequestTimeout = def.PollRequestTimeout
	}
	if cfg.AudioExt == "" {
		cfg.AudioExt = def.AudioExt
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:       cfg,
		extractor: extractor,
		remote:    client,
		store:     store,
		events:    events,
		metrics:   metrics.DefaultMetrics,
		logger:    logging.WithComponent("orchestrator"),
		ctx:       ctx,
		cancel:    cancel,
		byAudio:   make(map[string]*Pipeline),
		jobs:      make(map[string]*Pipeline),
		pollers:   make(map[string]context.CancelFunc),
	}
}

// OnUploadComplete runs the upload phase: extracts audio from the stored
// video. On failure the pipeline is FAILED, an error event is broadcast and
// the extraction error is returned.
func (o *Orchestrator) OnUploadComplete(ctx context.Context, video, text *models.UploadedAsset) (*Upload, error) {
	if video == nil {
		return nil, fmt.Errorf("upload complete: video asset is required")
	}

	p := &Pipeline{
		Lifecycle: NewLifecycle(video.ID),
		Video:     video,
		Text:      text,
		AudioPath: filepath.Join(o.cfg.AudioDir, audioName(video.StoredName, o.cfg.AudioExt)),
	}
	if text != nil {
		p.TextPath = text.StoredPath
	}
	if err := o.register(p); err != nil {
		return nil, err
	}

	logger := logging.WithAsset("orchestrator", video.ID)

	if err := p.Transition(StateExtracting); err != nil {
		return nil, err
	}
	o.publish(models.ProgressEvent{
		Status:  models.EventStarted,
		Message: "Video uploaded, audio extraction begins...",
		AssetID: video.ID,
	})
	if text != nil {
		o.publish(models.ProgressEvent{
			Status:  models.EventInfo,
			Message: "Text file uploaded, will be used for summary enhancement",
			AssetID: video.ID,
		})
	}

	logger.Info().
		Str("video", video.StoredPath).
		Str("audio", p.AudioPath).
		Bool("hasText", text != nil).
		Msg("Extracting audio")

	if err := o.extractor.ExtractAudio(ctx, video.StoredPath, p.AudioPath); err != nil {
		logger.Error().Err(err).Msg("Audio extraction failed")
		o.fail(p, "extraction", "Error during processing: "+err.Error())
		return nil, err
	}

	if err := p.Transition(StateExtracted); err != nil {
		return nil, err
	}

	up := &Upload{
		AssetID:   video.ID,
		VideoURL:  UploadURLPrefix + video.StoredName,
		AudioURL:  AudioURLPrefix + filepath.Base(p.AudioPath),
		AudioPath: p.AudioPath,
	}
	if text != nil {
		up.TextURL = UploadURLPrefix + text.StoredName
	}

	o.publish(models.ProgressEvent{
		Status:    models.EventAudioExtracted,
		Message:   "Audio extracted, sending to the analysis model...",
		AssetID:   video.ID,
		AudioPath: up.AudioURL,
		VideoPath: up.VideoURL,
	})
	logger.Info().Str("audio", p.AudioPath).Msg("Audio extracted")

	return up, nil
}

// OnProcessRequested runs the process phase: submits the extracted audio to
// the analysis service and starts polling. It returns as soon as the job is
// accepted.
func (o *Orchestrator) OnProcessRequested(ctx context.Context, audioPath, textPath string) (string, error) {
	if strings.TrimSpace(audioPath) == "" {
		return "", ErrAudioPathRequired
	}

	audioFile := filepath.Join(o.cfg.AudioDir, filepath.Base(audioPath))
	if info, err := os.Stat(audioFile); err != nil || info.IsDir() {
		return "", ErrAssetNotFound
	}

	textFile := ""
	if textPath != "" {
		candidate := filepath.Join(o.cfg.UploadDir, filepath.Base(textPath))
		if _, err := os.Stat(candidate); err == nil {
			textFile = candidate
		} else {
			o.logger.Warn().Str("textPath", textPath).Msg("Text file not found, submitting without it")
		}
	}

	p, err := o.claimPipeline(audioFile)
	if err != nil {
		return "", err
	}
	if textFile != "" {
		p.TextPath = textFile
	}

	o.publish(models.ProgressEvent{
		Status:  models.EventModelProcessing,
		Message: "Model processing begins...",
		AssetID: p.AssetId(),
	})

	jobId, err := o.remote.Submit(ctx, audioFile, p.TextPath)
	if err != nil {
		o.logger.Error().Err(err).Str("audio", audioFile).Msg("Job submission failed")
		o.fail(p, "submit", "Model service error: "+submitMessage(err))
		return "", err
	}

	if err := p.Transition(StatePolling); err != nil {
		return "", err
	}
	p.setJob(jobId)

	o.mu.Lock()
	o.jobs[jobId] = p
	o.mu.Unlock()

	o.metrics.RecordJobStart()
	o.publish(models.ProgressEvent{
		Status:  models.EventModelStarted,
		Message: "Model processing started, this may take a few minutes...",
		JobID:   jobId,
		AssetID: p.AssetId(),
	})
	logger := logging.WithJob("orchestrator", jobId)
	logger.Info().
		Str("audio", audioFile).
		Str("text", p.TextPath).
		Msg("Job submitted")

	o.startPoller(jobId, p)
	return jobId, nil
}

// Jobs returns a snapshot of every pipeline, newest first.
func (o *Orchestrator) Jobs() []JobInfo {
	o.mu.Lock()
	pipelines := make([]*Pipeline, len(o.pipelines))
	copy(pipelines, o.pipelines)
	o.mu.Unlock()

	out := make([]JobInfo, 0, len(pipelines))
	for i := len(pipelines) - 1; i >= 0; i-- {
		p := pipelines[i]
		jobId, _ := p.job()
		p.mu.Lock()
		report := p.reportFile
		p.mu.Unlock()
		out = append(out, JobInfo{
			AssetID:      p.AssetId(),
			JobID:        jobId,
			State:        p.State(),
			RemoteStatus: p.RemoteStatus(),
			AudioPath:    p.AudioPath,
			ReportFile:   report,
			Error:        p.Err(),
		})
	}
	return out
}

// Job returns the snapshot of jobId.
func (o *Orchestrator) Job(jobId string) (JobInfo, bool) {
	for _, j := range o.Jobs() {
		if j.JobID == jobId {
			return j, true
		}
	}
	return JobInfo{}, false
}

// ActivePollers returns the ids of jobs still being polled.
func (o *Orchestrator) ActivePollers() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.pollers))
	for id := range o.pollers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown stops every poller and waits for them to exit.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	for id, cancel := range o.pollers {
		cancel()
		delete(o.pollers, id)
	}
	o.mu.Unlock()
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info().Msg("Orchestrator stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) register(p *Pipeline) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrShutdown
	}
	o.pipelines = append(o.pipelines, p)
	o.byAudio[filepath.Base(p.AudioPath)] = p
	return nil
}

// claimPipeline returns the pipeline waiting on audioFile, already moved to
// SUBMITTING. The check and the transition happen under o.mu, so of two
// concurrent requests for the same audio only one gets the pipeline; the other
// gets ErrJobInProgress. Audio that has no waiting pipeline, such as a file
// extracted before a restart or one already processed, gets a new pipeline.
func (o *Orchestrator) claimPipeline(audioFile string) (*Pipeline, error) {
	base := filepath.Base(audioFile)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrShutdown
	}

	if p, ok := o.byAudio[base]; ok && !p.State().IsTerminal() {
		if p.State() != StateExtracted {
			return nil, ErrJobInProgress
		}
		if err := p.Transition(StateSubmitting); err != nil {
			return nil, err
		}
		return p, nil
	}

	assetId := strings.TrimSuffix(base, filepath.Ext(base))
	p := &Pipeline{
		Lifecycle: NewLifecycle(assetId),
		AudioPath: audioFile,
	}
	for _, st := range []State{StateExtracting, StateExtracted, StateSubmitting} {
		_ = p.Transition(st)
	}
	o.pipelines = append(o.pipelines, p)
	o.byAudio[base] = p
	return p, nil
}

func (o *Orchestrator) startPoller(jobId string, p *Pipeline) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(o.ctx)
	o.pollers[jobId] = cancel
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		o.poll(ctx, jobId, p)
	}()
}

// stopPoller removes and cancels the poller of jobId in one step. Only the
// caller that gets true may finish the job.
func (o *Orchestrator) stopPoller(jobId string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.pollers[jobId]
	if !ok {
		return false
	}
	delete(o.pollers, jobId)
	cancel()
	return true
}

func (o *Orchestrator) poll(ctx context.Context, jobId string, p *Pipeline) {
	logger := logging.WithJob("orchestrator", jobId)
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("Poller stopped")
			return
		case <-ticker.C:
		}

		attempts++
		if o.checkOnce(ctx, jobId, p, logger) {
			return
		}
		if o.cfg.PollMaxAttempts > 0 && attempts >= o.cfg.PollMaxAttempts {
			if o.stopPoller(jobId) {
				logger.Warn().Int("attempts", attempts).Msg("Poll limit reached")
				o.finishFailed(jobId, p, fmt.Sprintf("Model error: no result after %d status checks", attempts))
			}
			return
		}
	}
}

// checkOnce polls the remote status once and returns true when polling is over.
func (o *Orchestrator) checkOnce(ctx context.Context, jobId string, p *Pipeline, logger zerolog.Logger) bool {
	reqCtx, cancel := context.WithTimeout(ctx, o.cfg.PollRequestTimeout)
	report, err := o.remote.PollStatus(reqCtx, jobId)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		o.metrics.RecordPoll("transport_error")
		logger.Warn().Err(err).Msg("Status check failed, retrying on next tick")
		return false
	}
	o.metrics.RecordPoll(report.Status.String())
	p.Advance(report.Status)

	switch report.Status {
	case models.RemoteCompleted:
		if o.stopPoller(jobId) {
			o.finishCompleted(jobId, p)
		}
		return true
	case models.RemoteFailed:
		if o.stopPoller(jobId) {
			msg := report.Error
			if msg == "" {
				msg = "Unknown error"
			}
			o.finishFailed(jobId, p, "Model error: "+msg)
		}
		return true
	default:
		logger.Debug().Str("status", report.Status.String()).Msg("Job still running")
		return false
	}
}

func (o *Orchestrator) finishCompleted(jobId string, p *Pipeline) {
	logger := logging.WithJob("orchestrator", jobId)

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.PollRequestTimeout)
	defer cancel()

	rec, err := o.remote.FetchResult(ctx, jobId)
	if err != nil {
		logger.Error().Err(err).Msg("Fetching result failed")
		o.finishFailed(jobId, p, "Result could not be retrieved: "+err.Error())
		return
	}
	if rec.JobID == "" {
		rec.JobID = jobId
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	name, err := o.store.Save(rec)
	if err != nil {
		logger.Error().Err(err).Msg("Storing result failed")
		o.finishFailed(jobId, p, "Result could not be stored: "+err.Error())
		return
	}
	p.setReport(name)

	if err := p.Transition(StateCompleted); err != nil {
		logger.Warn().Err(err).Msg("Unexpected state on completion")
		return
	}

	_, submitted := p.job()
	o.metrics.RecordJobEnd(true, time.Since(submitted).Seconds())
	o.publish(models.ProgressEvent{
		Status:     models.EventCompleted,
		Message:    "Processing completed!",
		JobID:      jobId,
		AssetID:    p.AssetId(),
		ReportFile: name,
	})
	logger.Info().Str("report", name).Msg("Job completed")
}

func (o *Orchestrator) finishFailed(jobId string, p *Pipeline, message string) {
	if !p.Fail(message) {
		return
	}
	_, submitted := p.job()
	o.metrics.RecordJobEnd(false, time.Since(submitted).Seconds())
	o.publish(models.ProgressEvent{
		Status:  models.EventError,
		Message: message,
		JobID:   jobId,
		AssetID: p.AssetId(),
	})
	logger := logging.WithJob("orchestrator", jobId)
	logger.Warn().Str("reason", message).Msg("Job failed")
}

// fail ends a pipeline that never reached polling.
func (o *Orchestrator) fail(p *Pipeline, stage, message string) {
	if !p.Fail(message) {
		return
	}
	o.metrics.RecordJobFailure(stage)
	o.publish(models.ProgressEvent{
		Status:  models.EventError,
		Message: message,
		AssetID: p.AssetId(),
	})
}

func (o *Orchestrator) publish(ev models.ProgressEvent) {
	if o.events == nil {
		return
	}
	o.events.Publish(ev)
}

func audioName(storedName, ext string) string {
	return strings.TrimSuffix(storedName, filepath.Ext(storedName)) + ext
}

func submitMessage(err error) string {
	var serr *remote.SubmissionError
	if errors.As(err, &serr) {
		return serr.Message
	}
	return err.Error()
}
