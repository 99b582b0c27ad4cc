// Package whatsapp connects zapclaw to WhatsApp Web through whatsmeow.
//
// The session lives in a SQLite database. Without one, Connect starts QR
// pairing in the background and streams codes to SubscribeQR listeners.
// Inbound events are converted to channels.IncomingMessage and delivered on
// Receive; Send posts text replies threaded to the message they answer.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/channels"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Config holds WhatsApp channel configuration.
type Config struct {
	// SessionDir holds whatsapp.db unless DatabasePath is set.
	SessionDir string `yaml:"session_dir"`

	DatabasePath string `yaml:"database_path"`

	// IgnoreOwnMessages drops messages sent by the linked account. Off by
	// default so the operator can issue commands from the bot's own phone.
	IgnoreOwnMessages bool `yaml:"ignore_own_messages"`

	MaxMediaSizeMB int `yaml:"max_media_size_mb"`

	// ReconnectBackoff is multiplied by the attempt number, capped at 5m.
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`

	// MaxReconnectAttempts bounds one reconnect cycle (0 = unlimited).
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	Watchdog WatchdogConfig `yaml:"watchdog"`
}

// DefaultConfig returns the channel defaults.
func DefaultConfig() Config {
	return Config{
		SessionDir:           "./",
		MaxMediaSizeMB:       32,
		ReconnectBackoff:     5 * time.Second,
		MaxReconnectAttempts: 10,
		Watchdog:             DefaultWatchdogConfig(),
	}
}

// WhatsApp is the whatsmeow-backed channel.
type WhatsApp struct {
	cfg    Config
	logger *slog.Logger
	client *whatsmeow.Client

	inboxMu     sync.RWMutex
	inbox       chan *channels.IncomingMessage
	inboxClosed bool

	qr qrBroker

	stateMu sync.Mutex
	state   ConnectionState
	hooks   []func(StateChange)

	connected atomic.Bool
	activity  atomic.Int64 // unix nanos of the last inbound traffic
	errors    atomic.Int64
	attempts  atomic.Int32
	retrying  atomic.Bool
	watching  atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a disconnected channel.
func New(cfg Config, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 5 * time.Second
	}
	if cfg.MaxMediaSizeMB <= 0 {
		cfg.MaxMediaSizeMB = 32
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WhatsApp{
		cfg:    cfg,
		logger: logger.With("component", "whatsapp"),
		inbox:  make(chan *channels.IncomingMessage, 256),
		state:  StateDisconnected,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Name returns "whatsapp".
func (w *WhatsApp) Name() string { return "whatsapp" }

// Connect opens the session store and connects. Without a linked device it
// returns immediately and pairs in the background; watch SubscribeQR.
func (w *WhatsApp) Connect(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.transition(StateConnecting, "connect")

	device, err := w.openDevice(w.ctx)
	if err != nil {
		w.transition(StateDisconnected, "session_error")
		return err
	}

	store.SetOSInfo("zapclaw", [3]uint32{1, 0, 0})
	w.client = whatsmeow.NewClient(device, waLog.Noop)
	w.client.AddEventHandler(w.handleEvent)
	w.client.EnableAutoReconnect = true

	if w.client.Store.ID == nil {
		w.logger.Info("whatsapp: no linked device, waiting for QR pairing")
		go func() {
			if err := w.pair(w.ctx); err != nil {
				w.logger.Warn("whatsapp: pairing ended", "error", err)
			}
		}()
		return nil
	}

	if err := w.client.Connect(); err != nil {
		w.transition(StateDisconnected, "connect_failed")
		return fmt.Errorf("connecting: %w", err)
	}
	w.logger.Info("whatsapp: session resumed", "jid", w.ownJID())
	w.startWatchdog(w.ctx)
	return nil
}

// Disconnect closes the socket and the Receive channel. Safe to call twice.
func (w *WhatsApp) Disconnect() error {
	w.cancel()
	if w.client != nil {
		w.client.Disconnect()
	}
	w.inboxMu.Lock()
	if !w.inboxClosed {
		w.inboxClosed = true
		close(w.inbox)
	}
	w.inboxMu.Unlock()
	w.transition(StateDisconnected, "shutdown")
	return nil
}

// Logout unlinks the device. When the server call fails the local session
// is deleted anyway.
func (w *WhatsApp) Logout(ctx context.Context) error {
	if w.client == nil {
		return nil
	}
	if err := w.client.Logout(ctx); err != nil {
		w.logger.Warn("whatsapp: logout request failed, deleting local session", "error", err)
		w.client.Disconnect()
		if err := w.client.Store.Delete(ctx); err != nil {
			return fmt.Errorf("deleting session: %w", err)
		}
	}
	w.transition(StateLoggedOut, "logout")
	return nil
}

// Send posts msg to the chat identified by to.
func (w *WhatsApp) Send(ctx context.Context, to string, msg *channels.OutgoingMessage) error {
	if !w.connected.Load() || w.client == nil {
		return channels.ErrChannelDisconnected
	}
	jid, err := parseJID(to)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	out := buildTextMessage(msg.Content, msg.ReplyTo, msg.ReplyParticipant, msg.QuotedContent)
	if _, err := w.client.SendMessage(ctx, jid, out); err != nil {
		w.errors.Add(1)
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// Receive delivers inbound messages until Disconnect.
func (w *WhatsApp) Receive() <-chan *channels.IncomingMessage {
	return w.inbox
}

// IsConnected reports whether the socket is up and logged in.
func (w *WhatsApp) IsConnected() bool {
	return w.connected.Load()
}

// NeedsQR reports whether the session still has to be paired.
func (w *WhatsApp) NeedsQR() bool {
	return w.client != nil && w.client.Store.ID == nil
}

// DownloadMedia fetches and decrypts the payload of msg.
func (w *WhatsApp) DownloadMedia(ctx context.Context, msg *channels.IncomingMessage) ([]byte, string, error) {
	if msg.Media == nil {
		return nil, "", channels.ErrNoMedia
	}
	if w.client == nil {
		return nil, "", channels.ErrChannelDisconnected
	}
	if limit := uint64(w.cfg.MaxMediaSizeMB) << 20; msg.Media.FileSize > limit {
		return nil, "", fmt.Errorf("%w: %d bytes", channels.ErrMediaTooLarge, msg.Media.FileSize)
	}
	return w.downloadMediaFromInfo(ctx, msg.Media)
}

func (w *WhatsApp) ownJID() string {
	if w.client != nil && w.client.Store.ID != nil {
		return w.client.Store.ID.String()
	}
	return ""
}

// deliver queues msg for Receive. When the consumer lags it blocks the
// event goroutine until there is room or the channel shuts down.
func (w *WhatsApp) deliver(msg *channels.IncomingMessage) {
	w.inboxMu.RLock()
	defer w.inboxMu.RUnlock()
	if w.inboxClosed {
		return
	}
	select {
	case w.inbox <- msg:
		return
	default:
	}

	w.logger.Warn("whatsapp: inbox full, waiting for the router", "chat", msg.ChatID, "msg_id", msg.ID)
	select {
	case w.inbox <- msg:
	case <-w.ctx.Done():
		w.logger.Warn("whatsapp: shutting down, message dropped", "chat", msg.ChatID, "msg_id", msg.ID)
	}
}

func (w *WhatsApp) touch() {
	w.activity.Store(time.Now().UnixNano())
}

func (w *WhatsApp) lastActivity() time.Time {
	if n := w.activity.Load(); n != 0 {
		return time.Unix(0, n)
	}
	return time.Time{}
}
