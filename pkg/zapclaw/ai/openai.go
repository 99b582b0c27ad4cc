// Package ai wraps the OpenAI-compatible backend used for voice-note
// transcription and conversation summaries.
package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// ErrEmptyCompletion is returned when the backend answers without choices.
var ErrEmptyCompletion = errors.New("completion returned no choices")

// Config configures the backend client.
type Config struct {
	APIKey  string
	BaseURL string

	// TranscriptionModel defaults to whisper-1.
	TranscriptionModel string

	// Language is an optional ISO-639-1 hint for transcription ("pt").
	Language string
}

// Client talks to the OpenAI API (or any compatible endpoint).
type Client struct {
	client *openai.Client
	cfg    Config
	logger *slog.Logger
}

// New creates a backend client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = openai.Whisper1
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		logger: logger.With("component", "ai"),
	}
}

// Transcribe converts audio to text. filename only tells the API the
// container format ("M1.ogg").
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("no audio provided")
	}
	if filename == "" {
		filename = "audio.ogg"
	}

	start := time.Now()
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.cfg.TranscriptionModel,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
		Language: c.cfg.Language,
	})
	if err != nil {
		return "", fmt.Errorf("transcribing audio: %w", err)
	}

	c.logger.Debug("audio transcribed",
		"model", c.cfg.TranscriptionModel,
		"bytes", len(audio),
		"chars", len(resp.Text),
		"duration", time.Since(start))

	return strings.TrimSpace(resp.Text), nil
}

// Complete sends prompt as a single user message and returns the reply text.
func (c *Client) Complete(ctx context.Context, model, prompt string) (string, error) {
	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("creating chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	c.logger.Debug("completion finished",
		"model", model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"duration", time.Since(start))

	return resp.Choices[0].Message.Content, nil
}
