package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3" // database/sql driver used by sqlstore.
)

// QREvent is one step of the pairing flow.
type QREvent struct {
	// Type is "code", "success", "timeout" or "error".
	Type string `json:"type"`
	// Code is the payload to render as a QR code (Type == "code").
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// qrBroker fans pairing events out to subscribers. The latest code is
// replayed to late subscribers until pairing moves on.
type qrBroker struct {
	mu      sync.Mutex
	subs    map[chan QREvent]struct{}
	pending *QREvent
}

func (b *qrBroker) subscribe() (chan QREvent, func()) {
	ch := make(chan QREvent, 8)

	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[chan QREvent]struct{})
	}
	b.subs[ch] = struct{}{}
	if b.pending != nil {
		ch <- *b.pending
	}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
}

func (b *qrBroker) publish(evt QREvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = nil
	if evt.Type == "code" {
		b.pending = &evt
	}
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// SubscribeQR returns a channel of pairing events and a function that
// unsubscribes and closes it.
func (w *WhatsApp) SubscribeQR() (chan QREvent, func()) {
	return w.qr.subscribe()
}

func (w *WhatsApp) databasePath() string {
	if w.cfg.DatabasePath != "" {
		return w.cfg.DatabasePath
	}
	dir := w.cfg.SessionDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "whatsapp.db")
}

// openDevice opens the session database and returns the stored device, or
// a fresh one to pair.
func (w *WhatsApp) openDevice(ctx context.Context) (*store.Device, error) {
	path := w.databasePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating session dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL", path)
	container, err := sqlstore.New(ctx, "sqlite3", dsn, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading device: %w", err)
	}
	w.logger.Debug("whatsapp: session store ready", "path", path)
	return device, nil
}

// pair connects an unlinked client and forwards QR codes until the phone
// scans one, the codes run out or ctx ends.
func (w *WhatsApp) pair(ctx context.Context) error {
	codes, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("requesting QR channel: %w", err)
	}
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting for pairing: %w", err)
	}
	w.transition(StateWaitingQR, "pairing")

	shown := 0
	for {
		var item whatsmeow.QRChannelItem
		select {
		case <-ctx.Done():
			return ctx.Err()
		case got, ok := <-codes:
			if !ok {
				return errors.New("pairing channel closed")
			}
			item = got
		}

		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			shown++
			w.logger.Info("whatsapp: scan the QR code to link this device", "code_number", shown)
			w.qr.publish(QREvent{
				Type:    "code",
				Code:    item.Code,
				Message: "Escaneie o QR code com o WhatsApp para vincular o dispositivo",
			})
		case whatsmeow.QRChannelSuccess.Event:
			w.qr.publish(QREvent{Type: "success", Message: "WhatsApp vinculado"})
			w.startWatchdog(ctx)
			return nil
		case whatsmeow.QRChannelTimeout.Event:
			w.transition(StateDisconnected, "qr_timeout")
			w.qr.publish(QREvent{Type: "timeout", Message: "QR code expirou"})
			return errors.New("QR codes expired without a scan")
		default:
			if item.Error != nil {
				w.transition(StateDisconnected, "pairing_error")
				w.qr.publish(QREvent{Type: "error", Message: item.Error.Error()})
				return fmt.Errorf("pairing: %w", item.Error)
			}
			w.logger.Debug("whatsapp: pairing event", "event", item.Event)
		}
	}
}
