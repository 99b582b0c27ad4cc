// Package config defines and loads the zapclaw configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/channels/whatsapp"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/scheduler"
)

// DefaultPrompt is the summarization instruction used when none is configured.
const DefaultPrompt = "Faça um resumo das seguintes mensagens, deixando claro o que foi dito e os participantes da conversa. " +
	"Abuse do bom humor para descrever o que foi dito, e deixe claro caso algum participante tenha deixado de responder a alguma questão:"

// Config is the root configuration.
type Config struct {
	// Name identifies this instance in logs.
	Name string `yaml:"name"`

	// Timezone for day boundaries and rendered times (IANA name).
	// Empty uses the host's local time.
	Timezone string `yaml:"timezone"`

	// Groups are the allow-listed group ids (e.g. "1203...@g.us").
	Groups []string `yaml:"groups"`

	// Operator is the phone number allowed to use "!ler".
	Operator string `yaml:"operator"`

	// Prompt is the summarization instruction.
	Prompt string `yaml:"prompt"`

	OpenAI   OpenAIConfig    `yaml:"openai"`
	Media    MediaConfig     `yaml:"media"`
	WhatsApp whatsapp.Config `yaml:"whatsapp"`
	Schedule ScheduleConfig  `yaml:"schedule"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// OpenAIConfig configures the AI backend.
type OpenAIConfig struct {
	APIKey             string        `yaml:"api_key"`
	BaseURL            string        `yaml:"base_url"`
	Model              string        `yaml:"model"`
	TranscriptionModel string        `yaml:"transcription_model"`
	Language           string        `yaml:"language"`
	Timeout            time.Duration `yaml:"timeout"`
}

// MediaConfig configures voice-note storage.
type MediaConfig struct {
	Dir           string `yaml:"dir"`
	MaxFileSizeMB int    `yaml:"max_file_size_mb"`

	// RetentionDays deletes stored audio older than this. 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`
}

// ScheduleConfig configures periodic jobs.
type ScheduleConfig struct {
	// DailySummary posts a summary to every allow-listed group
	// (cron expression, empty disables).
	DailySummary string `yaml:"daily_summary"`

	// Purge is when old audio is removed (only with media.retention_days > 0).
	Purge string `yaml:"purge"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Name:   "zapclaw",
		Prompt: DefaultPrompt,
		OpenAI: OpenAIConfig{
			Model:              "gpt-4o-mini",
			TranscriptionModel: "whisper-1",
			Timeout:            2 * time.Minute,
		},
		Media: MediaConfig{
			Dir:           ".",
			MaxFileSizeMB: 32,
		},
		WhatsApp: whatsapp.DefaultConfig(),
		Schedule: ScheduleConfig{
			Purge: "@daily",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Location returns the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks that required values are present and expressions parse.
func (c *Config) Validate() error {
	var errs []error

	if c.OpenAI.APIKey == "" || IsEnvReference(c.OpenAI.APIKey) {
		errs = append(errs, errors.New("openai.api_key is required (set OPENAI_API_KEY or run 'zapclaw config set-key')"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Schedule.DailySummary != "" {
		if err := scheduler.Validate(c.Schedule.DailySummary); err != nil {
			errs = append(errs, fmt.Errorf("schedule.daily_summary: %w", err))
		}
	}
	if c.Media.RetentionDays > 0 {
		if err := scheduler.Validate(c.Schedule.Purge); err != nil {
			errs = append(errs, fmt.Errorf("schedule.purge: %w", err))
		}
	}
	if c.Media.RetentionDays < 0 {
		errs = append(errs, errors.New("media.retention_days must not be negative"))
	}

	return errors.Join(errs...)
}

// CleanGroups trims group ids and drops blanks.
func (c *Config) CleanGroups() {
	out := c.Groups[:0]
	for _, g := range c.Groups {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	c.Groups = out
}

// MaskSecret hides all but the last four characters of a secret.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if IsEnvReference(s) {
		return s
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:3] + "****" + s[len(s)-4:]
}
