// Package assistant answers meeting questions through the Gemini API.
// Calls are stateless: the caller supplies the whole conversation each time.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"meeting-insight-service/internal/observability/logging"
	"meeting-insight-service/internal/observability/metrics"
)

var (
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = errors.New("assistant is not configured")
	// ErrEmptyMessage is returned for a blank message.
	ErrEmptyMessage = errors.New("message is required")
	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("empty response from model")
)

// Config holds assistant settings.
type Config struct {
	APIKey          string
	Model           string
	MaxOutputTokens int
}

// Message is one turn of the caller supplied history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator produces model output for a conversation.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Assistant struct {
	gen       Generator
	model     string
	maxTokens int
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// New creates an assistant backed by the Gemini API.
func New(ctx context.Context, cfg Config) (*Assistant, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return NewWithGenerator(client.Models, cfg), nil
}

// NewWithGenerator creates an assistant on top of gen.
func NewWithGenerator(gen Generator, cfg Config) *Assistant {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 1000
	}
	return &Assistant{
		gen:       gen,
		model:     cfg.Model,
		maxTokens: cfg.MaxOutputTokens,
		metrics:   metrics.DefaultMetrics,
		logger:    logging.WithComponent("assistant"),
	}
}

// Model returns the model name used for replies.
func (a *Assistant) Model() string {
	return a.model
}

// Chat sends message after history and returns the model's reply.
func (a *Assistant) Chat(ctx context.Context, message string, history []Message) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}

	reply, err := a.chat(ctx, message, history)
	a.metrics.RecordChat(err)
	if err != nil {
		a.logger.Error().Err(err).Int("history", len(history)).Msg("Chat request failed")
	}
	return reply, err
}

func (a *Assistant) chat(ctx context.Context, message string, history []Message) (string, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		contents = append(contents, &genai.Content{
			Role:  roleFor(m.Role),
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	contents = append(contents, &genai.Content{
		Role:  "user",
		Parts: []*genai.Part{{Text: message}},
	})

	result, err := a.gen.GenerateContent(ctx, a.model, contents, &genai.GenerateContentConfig{
		MaxOutputTokens: int32(a.maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}
	var text strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}
	if text.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return text.String(), nil
}

// roleFor maps history roles: user stays user, anything else is the model.
func roleFor(role string) string {
	if role == "user" {
		return "user"
	}
	return "model"
}
