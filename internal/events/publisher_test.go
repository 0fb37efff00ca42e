package events

import (
	"context"
	"testing"
	"time"

	"meeting-insight-service/internal/models"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writer != nil {
				t.Error("expected nil writer when disabled")
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	p := New(&Config{
		Enabled:   false,
		Brokers:   []string{"localhost:9092"},
		Topic:     "test.progress",
		Principal: "test-principal",
	})

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topic != "test.progress" {
		t.Errorf("expected topic 'test.progress', got %s", p.topic)
	}
}

func TestNew_Enabled(t *testing.T) {
	p := New(&Config{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "test.progress"})
	defer p.Close()

	if !p.enabled {
		t.Error("expected publisher to be enabled")
	}
	if p.writer == nil || p.writer.Topic != "test.progress" {
		t.Error("expected writer bound to the configured topic")
	}
}

func TestPublisher_Publish_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})

	err := p.Publish(context.Background(), "job-1", "info", map[string]string{"message": "hello"})
	if err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_Publish_InvalidJSON(t *testing.T) {
	p := New(&Config{Enabled: false})

	err := p.Publish(context.Background(), "job-1", "info", make(chan int))
	if err == nil {
		t.Error("expected error for unmarshalable event")
	}
}

func TestPublisher_PublishProgress_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false, Topic: "test.progress"})

	ev := models.ProgressEvent{Status: models.EventModelStarted, JobID: "1700000000", Message: "started"}
	if err := p.PublishProgress(context.Background(), ev); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestPublisher_Mirror_StopsOnClose(t *testing.T) {
	p := New(&Config{Enabled: false})
	events := make(chan models.ProgressEvent, 3)
	events <- models.ProgressEvent{Status: models.EventStarted, AssetID: "a-1"}
	events <- models.ProgressEvent{Status: models.EventCompleted, JobID: "j-1"}
	close(events)

	done := make(chan struct{})
	go func() {
		p.Mirror(context.Background(), events)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("mirror did not stop after channel close")
	}
}

func TestPublisher_Mirror_StopsOnContext(t *testing.T) {
	p := New(&Config{Enabled: false})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		p.Mirror(ctx, make(chan models.ProgressEvent))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("mirror did not stop after cancel")
	}
}

func TestPublisher_Close_NoWriter(t *testing.T) {
	p := &Publisher{}
	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing publisher without writer, got %v", err)
	}
}
