package whatsapp

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow/types"
)

// WatchdogConfig tunes the half-open connection detector.
type WatchdogConfig struct {
	Enabled bool `yaml:"enabled"`

	// Interval is how often the connection is inspected.
	Interval time.Duration `yaml:"interval"`

	// SilenceLimit is how long without inbound traffic before the socket
	// is double-checked.
	SilenceLimit time.Duration `yaml:"silence_limit"`

	// ForceReconnectAfter reconnects a socket that still claims to be up
	// after this much silence. 0 disables.
	ForceReconnectAfter time.Duration `yaml:"force_reconnect_after"`

	// KeepAlive sends a presence update at this cadence. 0 disables.
	KeepAlive time.Duration `yaml:"keep_alive"`
}

// DefaultWatchdogConfig returns the watchdog defaults.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		Enabled:             true,
		Interval:            30 * time.Second,
		SilenceLimit:        5 * time.Minute,
		ForceReconnectAfter: 30 * time.Minute,
		KeepAlive:           2 * time.Minute,
	}
}

// startWatchdog runs the detector until ctx ends. Only the first call per
// channel starts it.
func (w *WhatsApp) startWatchdog(ctx context.Context) {
	cfg := w.cfg.Watchdog
	if !cfg.Enabled || !w.watching.CompareAndSwap(false, true) {
		return
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.SilenceLimit <= 0 {
		cfg.SilenceLimit = 5 * time.Minute
	}
	w.touch()
	go w.watch(ctx, cfg)
}

func (w *WhatsApp) watch(ctx context.Context, cfg WatchdogConfig) {
	defer w.watching.Store(false)

	check := time.NewTicker(cfg.Interval)
	defer check.Stop()

	var keepAlive <-chan time.Time
	if cfg.KeepAlive > 0 {
		t := time.NewTicker(cfg.KeepAlive)
		defer t.Stop()
		keepAlive = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive:
			w.sendKeepAlive(ctx)
		case now := <-check.C:
			if reason := w.diagnose(cfg, now); reason != "" {
				w.logger.Warn("whatsapp: connection looks dead", "reason", reason,
					"silent_for", now.Sub(w.lastActivity()).Round(time.Second))
				go w.reconnect(reason)
			}
		}
	}
}

// diagnose returns a reconnect reason when a connected socket has gone
// quiet for too long, or "" when it looks healthy.
func (w *WhatsApp) diagnose(cfg WatchdogConfig, now time.Time) string {
	if w.State() != StateConnected {
		return ""
	}
	silent := now.Sub(w.lastActivity())
	if silent <= cfg.SilenceLimit {
		return ""
	}
	if w.client != nil && !w.client.IsConnected() {
		return "socket_closed"
	}
	if cfg.ForceReconnectAfter > 0 && silent > cfg.ForceReconnectAfter {
		return "silent_too_long"
	}
	return ""
}

func (w *WhatsApp) sendKeepAlive(ctx context.Context) {
	if !w.connected.Load() || w.client == nil {
		return
	}
	if err := w.client.SendPresence(ctx, types.PresenceAvailable); err != nil {
		w.logger.Debug("whatsapp: keep-alive presence failed", "error", err)
		return
	}
	w.touch()
}
