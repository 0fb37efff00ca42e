package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"meeting-insight-service/internal/config"
	"meeting-insight-service/internal/events"
	"meeting-insight-service/internal/observability/logging"
	"meeting-insight-service/internal/schema"
	"meeting-insight-service/internal/service/assistant"
	"meeting-insight-service/internal/service/broadcast"
	"meeting-insight-service/internal/service/intake"
	"meeting-insight-service/internal/service/media"
	"meeting-insight-service/internal/service/pipeline"
	"meeting-insight-service/internal/service/records"
	"meeting-insight-service/internal/service/remote"
	"meeting-insight-service/internal/service/remote/mock"
	"meeting-insight-service/internal/service/remote/modelsvc"
	"meeting-insight-service/internal/service/report"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Broadcaster  *broadcast.Broadcaster
	Publisher    *events.Publisher
	Intake       *intake.Intake
	Transducer   *media.Transducer
	Remote       remote.Client
	Store        *records.Store
	Catalog      *records.Catalog
	Orchestrator *pipeline.Orchestrator
	Renderer     *report.Renderer
	// Assistant is nil when no API key is configured.
	Assistant *assistant.Assistant

	cancel context.CancelFunc
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration) *Application {
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
		Service:    cfg.Service.Name,
	})

	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}

	a.Broadcaster = broadcast.New(broadcast.DefaultBuffer)
	a.Publisher = events.New(&events.Config{
		Enabled:   cfg.Kafka.Enabled,
		Brokers:   cfg.Kafka.Brokers,
		Topic:     cfg.Kafka.Topic,
		Principal: cfg.Kafka.Principal,
	})
	a.Intake = intake.New(intake.Config{
		UploadDir:    cfg.Storage.UploadDir,
		MaxFileBytes: cfg.Storage.MaxUploadBytes,
	})
	a.Transducer = media.NewTransducer(media.Config{
		FFmpegPath: cfg.Media.FFmpegPath,
		Codec:      cfg.Media.AudioCodec,
		Quality:    cfg.Media.AudioQuality,
		Timeout:    cfg.Media.ExtractTimeout,
	})
	a.Remote = newRemote(cfg.Remote)
	a.Store = records.NewStore(cfg.Storage.AnalysisDir, schema.New())
	a.Catalog = records.NewCatalog(cfg.Storage.AnalysisDir)
	a.Renderer = report.New()
	a.Orchestrator = pipeline.New(pipeline.Config{
		UploadDir:          cfg.Storage.UploadDir,
		AudioDir:           cfg.Storage.AudioDir,
		AudioExt:           cfg.Media.AudioExt,
		PollInterval:       cfg.Remote.PollInterval,
		PollRequestTimeout: cfg.Remote.PollRequestTimeout,
		PollMaxAttempts:    cfg.Remote.PollMaxAttempts,
	}, a.Transducer, a.Remote, a.Store, a.Broadcaster)

	a.Logger.Info().
		Str("remoteProvider", cfg.Remote.Provider).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("Meeting insight service application created")
	return a
}

func newRemote(cfg config.RemoteConfig) remote.Client {
	if strings.EqualFold(cfg.Provider, "mock") {
		return mock.New(mock.Config{PollsUntilDone: 2, CheckAudio: true})
	}
	return modelsvc.New(modelsvc.Config{
		BaseURL:        cfg.BaseURL,
		SubmitTimeout:  cfg.SubmitTimeout,
		RequestTimeout: cfg.PollRequestTimeout,
	})
}

// Start creates the storage directories and starts the background workers:
// the Kafka progress mirror and the record catalog watcher.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	for _, dir := range []string{a.Cfg.Storage.UploadDir, a.Cfg.Storage.AudioDir, a.Cfg.Storage.AnalysisDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	if !a.Transducer.Available() {
		startLogger.Warn().Str("ffmpeg", a.Cfg.Media.FFmpegPath).Msg("ffmpeg not found, uploads will fail")
	}

	if a.Cfg.Assistant.APIKey != "" {
		asst, err := assistant.New(context.Background(), assistant.Config{
			APIKey:          a.Cfg.Assistant.APIKey,
			Model:           a.Cfg.Assistant.Model,
			MaxOutputTokens: a.Cfg.Assistant.MaxOutputTokens,
		})
		if err != nil {
			startLogger.Warn().Err(err).Msg("Assistant unavailable")
		} else {
			a.Assistant = asst
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	progress, dispose := a.Broadcaster.Subscribe()
	go func() {
		defer dispose()
		a.Publisher.Mirror(ctx, progress)
	}()

	go func() {
		if err := a.Catalog.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			startLogger.Warn().Err(err).Msg("Record catalog watcher stopped, listing will rescan")
		}
	}()

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Str("uploadDir", a.Cfg.Storage.UploadDir).
		Str("audioDir", a.Cfg.Storage.AudioDir).
		Str("analysisDir", a.Cfg.Storage.AnalysisDir).
		Msg("Meeting insight service starting")

	return nil
}

// Ready reports whether the service can accept work.
func (a *Application) Ready() error {
	for _, dir := range []string{a.Cfg.Storage.UploadDir, a.Cfg.Storage.AudioDir, a.Cfg.Storage.AnalysisDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return fmt.Errorf("storage directory %s unavailable", dir)
		}
	}
	return nil
}

// Shutdown stops pollers and background workers.
func (a *Application) Shutdown(ctx context.Context) {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	if err := a.Orchestrator.Shutdown(ctx); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Pollers did not stop in time")
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.Broadcaster.Close()
	_ = a.Publisher.Close()

	shutdownLogger.Info().Msg("Meeting insight service shutting down")
}
