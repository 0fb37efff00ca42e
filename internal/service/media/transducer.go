// Package media wraps ffmpeg as a black-box video to audio transducer.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"meeting-insight-service/internal/models"
	"meeting-insight-service/internal/observability/logging"
	"meeting-insight-service/internal/observability/metrics"
)

// Config holds transducer settings.
type Config struct {
	FFmpegPath string
	Codec      string
	Quality    int
	Timeout    time.Duration
}

// DefaultConfig returns the reference encoding: MP3 via libmp3lame at VBR quality 3.
func DefaultConfig() Config {
	return Config{
		FFmpegPath: "ffmpeg",
		Codec:      "libmp3lame",
		Quality:    3,
	}
}

// ExtractionError reports a failed transduction. No audio was produced.
type ExtractionError struct {
	Stage    string
	Message  string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("audio extraction %s: %s (exit=%d)", e.Stage, e.Message, e.ExitCode)
	}
	return fmt.Sprintf("audio extraction %s: %s", e.Stage, e.Message)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for tests.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		return res, err
	}
	return res, nil
}

// Transducer converts video files to audio files.
type Transducer struct {
	cfg      Config
	runner   commandRunner
	lookPath func(string) (string, error)
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewTransducer creates a transducer backed by the ffmpeg binary.
func NewTransducer(cfg Config) *Transducer {
	def := DefaultConfig()
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = def.FFmpegPath
	}
	if cfg.Codec == "" {
		cfg.Codec = def.Codec
	}
	return &Transducer{
		cfg:      cfg,
		runner:   &execRunner{},
		lookPath: exec.LookPath,
		metrics:  metrics.DefaultMetrics,
		logger:   logging.WithComponent("media"),
	}
}

// Available reports whether the ffmpeg binary can be found.
func (t *Transducer) Available() bool {
	_, err := t.lookPath(t.cfg.FFmpegPath)
	return err == nil
}

// Task describes the extraction of videoPath into audioPath with the configured codec.
func (t *Transducer) Task(videoPath, audioPath string) models.ExtractionTask {
	return models.ExtractionTask{
		SourcePath: videoPath,
		DestPath:   audioPath,
		Codec:      t.cfg.Codec,
		Quality:    t.cfg.Quality,
	}
}

// ExtractAudio writes the audio track of videoPath to audioPath, discarding video.
// The result is written under a temporary name and renamed into place, so
// audioPath exists only after a successful run.
func (t *Transducer) ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	start := time.Now()
	err := t.extract(ctx, t.Task(videoPath, audioPath))
	t.metrics.RecordExtraction(err, time.Since(start).Seconds())
	return err
}

func (t *Transducer) extract(ctx context.Context, task models.ExtractionTask) error {
	info, err := os.Stat(task.SourcePath)
	if err != nil {
		return &ExtractionError{Stage: "input", Message: "video file is not readable", Err: err}
	}
	if info.IsDir() {
		return &ExtractionError{Stage: "input", Message: "video path is a directory"}
	}
	if dir, err := os.Stat(filepath.Dir(task.DestPath)); err != nil || !dir.IsDir() {
		return &ExtractionError{Stage: "output", Message: "audio directory does not exist", Err: err}
	}

	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	partial := filepath.Join(filepath.Dir(task.DestPath), ".partial-"+filepath.Base(task.DestPath))
	defer os.Remove(partial)

	args := buildFFmpegArgs(task, partial)
	t.logger.Debug().
		Str("source", task.SourcePath).
		Str("dest", task.DestPath).
		Strs("args", args).
		Msg("Running ffmpeg")

	res, err := t.runner.Run(ctx, t.cfg.FFmpegPath, args...)
	if err != nil {
		msg := lastLine(res.Stderr)
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			msg = "timed out after " + t.cfg.Timeout.String()
		case errors.Is(err, exec.ErrNotFound):
			msg = "ffmpeg not found: " + t.cfg.FFmpegPath
		case msg == "":
			msg = err.Error()
		}
		t.logger.Warn().Err(err).Int("exitCode", res.ExitCode).Str("stderr", lastLine(res.Stderr)).Msg("ffmpeg failed")
		return &ExtractionError{Stage: "encode", Message: msg, Stderr: res.Stderr, ExitCode: res.ExitCode, Err: err}
	}

	out, err := os.Stat(partial)
	if err != nil || out.Size() == 0 {
		return &ExtractionError{Stage: "encode", Message: "ffmpeg produced no audio", Stderr: res.Stderr, Err: err}
	}
	if err := os.Rename(partial, task.DestPath); err != nil {
		return &ExtractionError{Stage: "output", Message: "could not move audio into place", Err: err}
	}

	t.logger.Info().
		Str("dest", task.DestPath).
		Int64("bytes", out.Size()).
		Msg("Audio extracted")
	return nil
}

func buildFFmpegArgs(task models.ExtractionTask, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", task.SourcePath,
		"-vn",
		"-acodec", task.Codec,
		"-q:a", strconv.Itoa(task.Quality),
		outPath,
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
