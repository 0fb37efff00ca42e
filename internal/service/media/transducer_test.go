package media

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"meeting-insight-service/internal/models"
)

type fakeRunner struct {
	name   string
	args   []string
	output []byte
	result commandResult
	err    error
	block  bool
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	f.name = name
	f.args = args
	if f.block {
		<-ctx.Done()
		return commandResult{ExitCode: -1}, ctx.Err()
	}
	if f.output != nil {
		if err := os.WriteFile(args[len(args)-1], f.output, 0o644); err != nil {
			return commandResult{}, err
		}
	}
	return f.result, f.err
}

func newTestTransducer(r commandRunner, timeout time.Duration) *Transducer {
	tr := NewTransducer(Config{Quality: 3, Timeout: timeout})
	tr.runner = r
	return tr
}

func writeVideo(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "meeting.mp4")
	if err := os.WriteFile(p, []byte("not really a video"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestBuildFFmpegArgs(t *testing.T) {
	task := models.ExtractionTask{SourcePath: "in.mp4", DestPath: "out.mp3", Codec: "libmp3lame", Quality: 3}
	args := buildFFmpegArgs(task, "out.mp3")
	joined := strings.Join(args, " ")

	for _, want := range []string{"-i in.mp4", "-vn", "-acodec libmp3lame", "-q:a 3"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected args to contain %q, got %s", want, joined)
		}
	}
	if args[len(args)-1] != "out.mp3" {
		t.Errorf("expected output path last, got %s", args[len(args)-1])
	}
}

func TestExtractAudio_Success(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir)
	audio := filepath.Join(dir, "meeting.mp3")

	runner := &fakeRunner{output: []byte("ID3 audio")}
	tr := newTestTransducer(runner, 0)

	if err := tr.ExtractAudio(context.Background(), video, audio); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(audio)
	if err != nil {
		t.Fatalf("expected audio file: %v", err)
	}
	if string(data) != "ID3 audio" {
		t.Errorf("unexpected audio content %q", data)
	}
	if runner.name != "ffmpeg" {
		t.Errorf("expected ffmpeg to be invoked, got %s", runner.name)
	}
	if _, err := os.Stat(filepath.Join(dir, ".partial-meeting.mp3")); !os.IsNotExist(err) {
		t.Error("expected partial file to be gone")
	}
}

func TestExtractAudio_EncodeFailureLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir)
	audio := filepath.Join(dir, "meeting.mp3")

	runner := &fakeRunner{
		output: []byte("half"),
		result: commandResult{Stderr: "Input #0\nInvalid data found when processing input", ExitCode: 1},
		err:    errors.New("exit status 1"),
	}
	tr := newTestTransducer(runner, 0)

	err := tr.ExtractAudio(context.Background(), video, audio)

	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if extErr.Message != "Invalid data found when processing input" {
		t.Errorf("expected tool message, got %q", extErr.Message)
	}
	if extErr.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", extErr.ExitCode)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() != "meeting.mp4" {
			t.Errorf("unexpected file left behind: %s", e.Name())
		}
	}
}

func TestExtractAudio_EmptyOutput(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir)

	tr := newTestTransducer(&fakeRunner{output: []byte{}}, 0)

	err := tr.ExtractAudio(context.Background(), video, filepath.Join(dir, "meeting.mp3"))
	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
}

func TestExtractAudio_MissingInput(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	tr := newTestTransducer(runner, 0)

	err := tr.ExtractAudio(context.Background(), filepath.Join(dir, "nope.mp4"), filepath.Join(dir, "nope.mp3"))

	var extErr *ExtractionError
	if !errors.As(err, &extErr) || extErr.Stage != "input" {
		t.Fatalf("expected input ExtractionError, got %v", err)
	}
	if runner.name != "" {
		t.Error("expected ffmpeg not to run for missing input")
	}
}

func TestExtractAudio_MissingOutputDir(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir)
	tr := newTestTransducer(&fakeRunner{}, 0)

	err := tr.ExtractAudio(context.Background(), video, filepath.Join(dir, "missing", "a.mp3"))

	var extErr *ExtractionError
	if !errors.As(err, &extErr) || extErr.Stage != "output" {
		t.Fatalf("expected output ExtractionError, got %v", err)
	}
}

func TestExtractAudio_Timeout(t *testing.T) {
	dir := t.TempDir()
	video := writeVideo(t, dir)
	tr := newTestTransducer(&fakeRunner{block: true}, 20*time.Millisecond)

	err := tr.ExtractAudio(context.Background(), video, filepath.Join(dir, "meeting.mp3"))

	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if !strings.Contains(extErr.Message, "timed out") {
		t.Errorf("expected timeout message, got %q", extErr.Message)
	}
}

func TestAvailable(t *testing.T) {
	tr := NewTransducer(Config{})
	tr.lookPath = func(string) (string, error) { return "", exec.ErrNotFound }
	if tr.Available() {
		t.Error("expected ffmpeg to be unavailable")
	}
	tr.lookPath = func(p string) (string, error) { return "/usr/bin/" + p, nil }
	if !tr.Available() {
		t.Error("expected ffmpeg to be available")
	}
}
