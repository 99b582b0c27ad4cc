package whatsapp

import (
	"slices"
	"time"
)

// ConnectionState is the lifecycle state of the channel.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateWaitingQR    ConnectionState = "waiting_qr"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateLoggedOut    ConnectionState = "logged_out"
	StateBanned       ConnectionState = "banned"
)

const maxReconnectBackoff = 5 * time.Minute

// StateChange describes one transition.
type StateChange struct {
	From   ConnectionState
	To     ConnectionState
	Reason string
	At     time.Time
}

// OnStateChange registers fn to run on every transition. Hooks run on the
// event goroutine and must not block.
func (w *WhatsApp) OnStateChange(fn func(StateChange)) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	w.hooks = append(w.hooks, fn)
}

// State returns the current lifecycle state.
func (w *WhatsApp) State() ConnectionState {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return w.state
}

// transition moves to state to and runs the hooks when it changed.
func (w *WhatsApp) transition(to ConnectionState, reason string) {
	w.stateMu.Lock()
	from := w.state
	w.state = to
	hooks := slices.Clone(w.hooks)
	w.stateMu.Unlock()

	w.connected.Store(to == StateConnected)
	if from == to {
		return
	}

	change := StateChange{From: from, To: to, Reason: reason, At: time.Now()}
	w.logger.Debug("whatsapp: state changed", "from", from, "to", to, "reason", reason)
	for _, fn := range hooks {
		w.runHook(fn, change)
	}
}

func (w *WhatsApp) runHook(fn func(StateChange), change StateChange) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Warn("whatsapp: state hook panicked", "panic", r)
		}
	}()
	fn(change)
}

// reconnect drops the socket and dials again with linear backoff. Only one
// cycle runs at a time; the Connected event completes it.
func (w *WhatsApp) reconnect(reason string) {
	if !w.retrying.CompareAndSwap(false, true) {
		return
	}
	defer w.retrying.Store(false)

	w.transition(StateReconnecting, reason)
	for {
		attempt := int(w.attempts.Add(1))
		if w.cfg.MaxReconnectAttempts > 0 && attempt > w.cfg.MaxReconnectAttempts {
			w.logger.Error("whatsapp: giving up reconnecting", "attempts", attempt-1)
			w.transition(StateDisconnected, "reconnect_exhausted")
			return
		}

		delay := reconnectDelay(w.cfg.ReconnectBackoff, attempt)
		w.logger.Info("whatsapp: reconnecting", "attempt", attempt, "in", delay, "reason", reason)
		select {
		case <-time.After(delay):
		case <-w.ctx.Done():
			return
		}

		if w.client == nil {
			return
		}
		if w.client.IsConnected() {
			w.client.Disconnect()
		}
		if err := w.client.Connect(); err != nil {
			w.errors.Add(1)
			w.logger.Warn("whatsapp: reconnect failed", "attempt", attempt, "error", err)
			continue
		}
		return
	}
}

// reconnectDelay is base times attempt, capped at maxReconnectBackoff.
func reconnectDelay(base time.Duration, attempt int) time.Duration {
	return min(base*time.Duration(attempt), maxReconnectBackoff)
}
