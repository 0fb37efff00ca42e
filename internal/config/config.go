// Package config loads service configuration from the environment and an optional YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration is the full service configuration.
type Configuration struct {
	Service       ServiceConfig       `yaml:"service"`
	Storage       StorageConfig       `yaml:"storage"`
	Media         MediaConfig         `yaml:"media"`
	Remote        RemoteConfig        `yaml:"remote"`
	Assistant     AssistantConfig     `yaml:"assistant"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServiceConfig struct {
	Name        string `yaml:"name"`
	Principal   string `yaml:"principal"`
	HTTPPort    string `yaml:"http_port"`
	GRPCPort    string `yaml:"grpc_port"`
	GRPCEnabled bool   `yaml:"grpc_enabled"`
	Env         string `yaml:"env"`
}

type StorageConfig struct {
	UploadDir      string `yaml:"upload_dir"`
	AudioDir       string `yaml:"audio_dir"`
	AnalysisDir    string `yaml:"analysis_dir"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

type MediaConfig struct {
	FFmpegPath     string        `yaml:"ffmpeg_path"`
	AudioCodec     string        `yaml:"audio_codec"`
	AudioQuality   int           `yaml:"audio_quality"`
	AudioExt       string        `yaml:"audio_ext"`
	ExtractTimeout time.Duration `yaml:"extract_timeout"`
}

// RemoteConfig configures the analysis service client.
// PollMaxAttempts of zero polls until the job is terminal.
type RemoteConfig struct {
	Provider           string        `yaml:"provider"`
	BaseURL            string        `yaml:"base_url"`
	SubmitTimeout      time.Duration `yaml:"submit_timeout"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	PollRequestTimeout time.Duration `yaml:"poll_request_timeout"`
	PollMaxAttempts    int           `yaml:"poll_max_attempts"`
}

type AssistantConfig struct {
	APIKey          string `yaml:"api_key"`
	Model           string `yaml:"model"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
}

type KafkaConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Brokers   []string `yaml:"brokers"`
	Topic     string   `yaml:"topic"`
	Principal string   `yaml:"principal"`
}

type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the built-in configuration.
func Default() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			Name:      "meeting-insight-service",
			Principal: "svc-meeting-insight",
			HTTPPort:  "3000",
			GRPCPort:  "50051",
		},
		Storage: StorageConfig{
			UploadDir:      "uploads",
			AudioDir:       "audio",
			AnalysisDir:    "meeting_analyses",
			MaxUploadBytes: 500 * 1024 * 1024,
		},
		Media: MediaConfig{
			FFmpegPath:     "ffmpeg",
			AudioCodec:     "libmp3lame",
			AudioQuality:   3,
			AudioExt:       ".mp3",
			ExtractTimeout: 30 * time.Minute,
		},
		Remote: RemoteConfig{
			Provider:           "http",
			BaseURL:            "http://127.0.0.1:5000",
			SubmitTimeout:      60 * time.Second,
			PollInterval:       10 * time.Second,
			PollRequestTimeout: 30 * time.Second,
		},
		Assistant: AssistantConfig{
			Model:           "gemini-2.0-flash",
			MaxOutputTokens: 1000,
		},
		Kafka: KafkaConfig{
			Topic: "meeting.progress",
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsAddr: ":9090",
		},
	}
}

// Load builds the configuration from defaults and environment variables.
// If CONFIG_FILE is set and readable, its values sit between the two.
func Load() *Configuration {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if cfg, err := LoadFile(path); err == nil {
			return cfg
		}
	}
	cfg := Default()
	applyEnv(cfg)
	return cfg
}

// LoadFile reads a YAML file over the defaults and then applies environment overrides.
func LoadFile(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Configuration) {
	s := &cfg.Service
	s.Name = envOrDefault("SERVICE_NAME", s.Name)
	s.Principal = envOrDefault("SERVICE_PRINCIPAL", s.Principal)
	s.HTTPPort = envOrDefault("HTTP_PORT", envOrDefault("PORT", s.HTTPPort))
	s.GRPCPort = envOrDefault("GRPC_PORT", s.GRPCPort)
	s.GRPCEnabled = envOrDefaultBool("GRPC_ENABLED", s.GRPCEnabled)
	s.Env = envOrDefault("ENV", s.Env)

	st := &cfg.Storage
	st.UploadDir = envOrDefault("UPLOAD_DIR", st.UploadDir)
	st.AudioDir = envOrDefault("AUDIO_DIR", st.AudioDir)
	st.AnalysisDir = envOrDefault("ANALYSIS_DIR", st.AnalysisDir)
	st.MaxUploadBytes = envOrDefaultInt64("MAX_UPLOAD_BYTES", st.MaxUploadBytes)

	m := &cfg.Media
	m.FFmpegPath = envOrDefault("FFMPEG_PATH", m.FFmpegPath)
	m.AudioCodec = envOrDefault("AUDIO_CODEC", m.AudioCodec)
	m.AudioQuality = envOrDefaultInt("AUDIO_QUALITY", m.AudioQuality)
	m.AudioExt = envOrDefault("AUDIO_EXT", m.AudioExt)
	m.ExtractTimeout = envOrDefaultDuration("EXTRACT_TIMEOUT", m.ExtractTimeout)

	r := &cfg.Remote
	r.Provider = envOrDefault("MODEL_PROVIDER", r.Provider)
	r.BaseURL = strings.TrimRight(envOrDefault("MODEL_SERVICE_URL", r.BaseURL), "/")
	r.SubmitTimeout = envOrDefaultDuration("MODEL_SUBMIT_TIMEOUT", r.SubmitTimeout)
	r.PollInterval = envOrDefaultDuration("MODEL_POLL_INTERVAL", r.PollInterval)
	r.PollRequestTimeout = envOrDefaultDuration("MODEL_POLL_REQUEST_TIMEOUT", r.PollRequestTimeout)
	r.PollMaxAttempts = envOrDefaultInt("MODEL_POLL_MAX_ATTEMPTS", r.PollMaxAttempts)

	a := &cfg.Assistant
	a.APIKey = envOrDefault("GEMINI_API_KEY", a.APIKey)
	a.Model = envOrDefault("GEMINI_MODEL", a.Model)
	a.MaxOutputTokens = envOrDefaultInt("GEMINI_MAX_OUTPUT_TOKENS", a.MaxOutputTokens)

	k := &cfg.Kafka
	k.Enabled = envOrDefaultBool("KAFKA_ENABLED", k.Enabled)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		k.Brokers = splitList(brokers)
	}
	k.Topic = envOrDefault("KAFKA_TOPIC_PROGRESS", k.Topic)
	k.Principal = envOrDefault("KAFKA_PRINCIPAL", k.Principal)
	if k.Principal == "" {
		k.Principal = s.Principal
	}

	o := &cfg.Observability
	o.LogLevel = envOrDefault("LOG_LEVEL", o.LogLevel)
	o.LogFormat = envOrDefault("LOG_FORMAT", o.LogFormat)
	o.MetricsAddr = envOrDefault("METRICS_ADDR", o.MetricsAddr)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
