// Package router is the dispatch engine: it classifies every inbound
// message, keeps the group history current, stores voice notes and answers
// the "!ler" and "!resumo" commands.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/channels"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/history"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/media"
)

// Reply prefixes.
const (
	TranscriptPrefix = "🗣️ "
	SummaryPrefix    = "📋 Resumo:\n"
)

// ErrNoHistory is returned by SummarizeGroup when there is nothing to
// summarize for the current day.
var ErrNoHistory = errors.New("no messages to summarize for today")

// Gateway is the messaging side: media download and replies.
type Gateway interface {
	DownloadMedia(ctx context.Context, msg *channels.IncomingMessage) ([]byte, string, error)
	Send(ctx context.Context, to string, msg *channels.OutgoingMessage) error
}

// Backend is the AI side: transcription and text completion.
type Backend interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// BlobStore persists audio payloads keyed by message id and extension.
type BlobStore interface {
	Write(ctx context.Context, key media.Key, data []byte) error
	Read(ctx context.Context, key media.Key) ([]byte, bool, error)
}

// Config holds router settings.
type Config struct {
	// Groups are the allow-listed group ids.
	Groups []string

	// Operator is the phone number allowed to use "!ler".
	Operator string

	// Prompt is prepended to the transcript sent for summarization.
	Prompt string

	// Model is the completion model.
	Model string

	// CallTimeout bounds every backend and gateway call. Default 2m.
	CallTimeout time.Duration

	// Location is the timezone used for day boundaries and rendered times.
	// nil means time.Local.
	Location *time.Location
}

// Option customizes a Router.
type Option func(*Router)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// Router handles inbound messages one at a time.
type Router struct {
	cfg     Config
	rules   Rules
	history *history.Store
	blobs   BlobStore
	gateway Gateway
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a router. The history store is owned by the caller so tests
// and the scheduler can share it.
func New(cfg Config, store *history.Store, blobs BlobStore, gw Gateway, backend Backend, logger *slog.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	r := &Router{
		cfg:     cfg,
		rules:   NewRules(cfg.Groups, cfg.Operator),
		history: store,
		blobs:   blobs,
		gateway: gw,
		backend: backend,
		logger:  logger.With("component", "router"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rules returns the classification policy in use.
func (r *Router) Rules() Rules { return r.rules }

// Run consumes messages in arrival order until ctx is cancelled or the
// channel is closed.
func (r *Router) Run(ctx context.Context, in <-chan *channels.IncomingMessage) {
	r.logger.Info("router started", "groups", len(r.rules.groups), "operator_set", r.rules.operator != "")
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				r.logger.Info("inbound channel closed, router stopping")
				return
			}
			r.Dispatch(ctx, msg)
		}
	}
}

// Dispatch processes one message to completion: day rollover, history
// capture, voice capture, then the two commands. Failures are logged and
// never escape.
func (r *Router) Dispatch(ctx context.Context, msg *channels.IncomingMessage) {
	if msg == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic while handling message",
				"msg_id", msg.ID, "panic", rec, "stack", string(debug.Stack()))
		}
	}()

	now := r.now().In(r.cfg.Location)
	plan := Classify(msg, r.rules)
	log := r.logger.With("chat", msg.ChatID, "from", msg.From, "msg_id", msg.ID)
	log.Debug("message received", "type", msg.Type, "plan", plan.String())

	// 1 + 2. Rollover and capture happen under one lock.
	if plan.Has(CaptureText) {
		if err := r.history.Record(now.Day(), msg.ChatID, r.entryFor(msg, now)); err != nil {
			log.Warn("failed to record message", "error", err)
		}
	} else {
		r.history.ResetIfNewDay(now.Day())
	}

	if plan.Has(CaptureVoice) {
		r.captureVoice(ctx, log, msg)
	}
	if plan.Has(Transcribe) {
		r.transcribe(ctx, log, msg)
	}
	if plan.Has(Summarize) {
		if err := r.summarize(ctx, msg.ChatID, msg, now, r.cutoff(msg, now)); err != nil {
			if errors.Is(err, ErrNoHistory) {
				log.Info("no messages to summarize for today")
			} else {
				log.Error("summary failed", "error", err)
			}
		}
	}
}

func (r *Router) entryFor(msg *channels.IncomingMessage, now time.Time) history.Entry {
	body := msg.Content
	if msg.Type == channels.MessageImage {
		body = history.ImagePlaceholder
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return history.Entry{
		Sender:    channels.ResolveName(msg.FromName, userPart(msg.From)),
		Body:      body,
		Timestamp: ts,
	}
}

func (r *Router) captureVoice(ctx context.Context, log *slog.Logger, msg *channels.IncomingMessage) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	data, mimeType, err := r.gateway.DownloadMedia(callCtx, msg)
	if err != nil {
		log.Warn("failed to download voice message", "error", err)
		return
	}
	if msg.Media.MimeType != "" {
		mimeType = msg.Media.MimeType
	}

	key := media.KeyFor(msg.ID, mimeType)
	if err := r.blobs.Write(callCtx, key, data); err != nil {
		log.Warn("failed to save voice file", "file", key.Filename(), "error", err)
		return
	}
	log.Info("voice file saved", "file", key.Filename(), "size", len(data))
}

func (r *Router) transcribe(ctx context.Context, log *slog.Logger, msg *channels.IncomingMessage) {
	log.Info("transcription requested", "quoted_id", msg.Quoted.ID)

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	key := media.KeyFor(msg.Quoted.ID, msg.Quoted.MimeType)
	audio, ok, err := r.blobs.Read(callCtx, key)
	if err != nil {
		log.Error("failed to read voice file", "file", key.Filename(), "error", err)
		return
	}
	if !ok {
		log.Info("voice file not found for transcription", "file", key.Filename())
		return
	}

	text, err := r.backend.Transcribe(callCtx, audio, key.Filename())
	if err != nil {
		log.Error("transcription failed", "file", key.Filename(), "error", err)
		return
	}
	log.Debug("audio transcribed", "chars", len(text))

	if err := r.gateway.Send(callCtx, msg.ChatID, replyTo(msg, TranscriptPrefix+text)); err != nil {
		log.Error("failed to send transcription", "error", err)
	}
}

// SummarizeGroup summarizes today's history of groupID and posts it to the
// group without threading. Used by the scheduled daily summary.
func (r *Router) SummarizeGroup(ctx context.Context, groupID string) error {
	if !r.rules.Allowed(groupID) {
		return fmt.Errorf("group %s is not allow-listed", groupID)
	}
	now := r.now().In(r.cfg.Location)
	r.history.ResetIfNewDay(now.Day())
	return r.summarize(ctx, groupID, nil, now, now)
}

// cutoff is the exclusive upper bound of the summary window: the trigger
// message itself and anything stamped after it stay out.
func (r *Router) cutoff(msg *channels.IncomingMessage, now time.Time) time.Time {
	if msg.Timestamp.IsZero() || msg.Timestamp.After(now) {
		return now
	}
	return msg.Timestamp
}

// summarize covers the day of now, up to until (exclusive).
func (r *Router) summarize(ctx context.Context, groupID string, trigger *channels.IncomingMessage, now, until time.Time) error {
	start, end := history.DayWindow(now)
	if until.Before(end) {
		end = until
	}

	entries := r.history.EntriesForDay(groupID, start, end)
	if len(entries) == 0 {
		return ErrNoHistory
	}

	prompt := r.cfg.Prompt + "\n" + r.renderTranscript(entries)

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	r.logger.Info("generating summary", "chat", groupID, "messages", len(entries))
	summary, err := r.backend.Complete(callCtx, r.cfg.Model, prompt)
	if err != nil {
		return fmt.Errorf("generating summary: %w", err)
	}

	out := &channels.OutgoingMessage{Content: SummaryPrefix + summary}
	if trigger != nil {
		out = replyTo(trigger, out.Content)
	}
	if err := r.gateway.Send(callCtx, groupID, out); err != nil {
		return fmt.Errorf("sending summary: %w", err)
	}
	return nil
}

// renderTranscript renders one "HH:MM:SS - sender: body" line per entry.
func (r *Router) renderTranscript(entries []history.Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s - %s: %s", e.Timestamp.In(r.cfg.Location).Format("15:04:05"), e.Sender, e.Body)
	}
	return b.String()
}

func replyTo(msg *channels.IncomingMessage, content string) *channels.OutgoingMessage {
	return &channels.OutgoingMessage{
		Content:          content,
		ReplyTo:          msg.ID,
		ReplyParticipant: msg.FromJID,
		QuotedContent:    msg.Content,
	}
}
