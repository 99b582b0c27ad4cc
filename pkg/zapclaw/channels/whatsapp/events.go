package whatsapp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/channels"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// keepAliveFailures is how many consecutive keep-alive timeouts mark the
// socket as half-open.
const keepAliveFailures = 3

// handleEvent receives every whatsmeow event.
func (w *WhatsApp) handleEvent(raw any) {
	switch evt := raw.(type) {
	case *events.Message:
		w.handleMessage(evt)

	case *events.Connected:
		w.attempts.Store(0)
		w.errors.Store(0)
		w.touch()
		w.transition(StateConnected, "connected")
		w.logger.Info("whatsapp: connected", "jid", w.ownJID())

	case *events.Disconnected:
		// whatsmeow redials on its own (EnableAutoReconnect).
		if w.ctx.Err() == nil {
			w.transition(StateReconnecting, "socket_closed")
		}

	case *events.StreamReplaced:
		w.logger.Error("whatsapp: another client took over this session")
		w.transition(StateDisconnected, "stream_replaced")

	case *events.LoggedOut:
		w.logger.Error("whatsapp: device unlinked by the server", "reason", evt.Reason.String())
		w.transition(StateLoggedOut, "logged_out")
		go func() {
			if err := w.pair(w.ctx); err != nil {
				w.logger.Warn("whatsapp: re-pairing ended", "error", err)
			}
		}()

	case *events.TemporaryBan:
		w.logger.Error("whatsapp: temporarily banned", "code", evt.Code, "expires_in", evt.Expire)
		w.transition(StateBanned, "temporary_ban")

	case *events.KeepAliveTimeout:
		w.errors.Add(1)
		w.logger.Warn("whatsapp: keep-alive timeout", "failures", evt.ErrorCount)
		if evt.ErrorCount >= keepAliveFailures && w.State() == StateConnected {
			go w.reconnect("keepalive_timeout")
		}

	case *events.KeepAliveRestored:
		w.errors.Store(0)
		w.touch()

	case *events.ConnectFailure:
		permanent := evt.PermanentDisconnectDescription()
		w.logger.Error("whatsapp: connect failure", "reason", evt.Reason.String(), "permanent", permanent)
		w.transition(StateDisconnected, "connect_failure")
		if permanent == "" && w.ctx.Err() == nil {
			go w.reconnect("connect_failure")
		}

	case *events.PairSuccess:
		w.logger.Info("whatsapp: device linked", "jid", evt.ID, "platform", evt.Platform)
	}
}

// handleMessage converts and queues one inbound message.
func (w *WhatsApp) handleMessage(evt *events.Message) {
	w.touch()

	if evt.Info.IsFromMe && w.cfg.IgnoreOwnMessages {
		return
	}
	if evt.Info.Chat.Server == types.BroadcastServer {
		return
	}
	w.deliver(w.convertMessage(evt))
}

// convertMessage maps a whatsmeow event to an IncomingMessage.
func (w *WhatsApp) convertMessage(evt *events.Message) *channels.IncomingMessage {
	info := evt.Info
	msg := &channels.IncomingMessage{
		ID:        string(info.ID),
		From:      w.phoneJID(info.Sender),
		FromJID:   info.Sender.String(),
		FromName:  channels.ResolveName(w.senderName(info), info.Sender.User),
		ChatID:    w.phoneJID(info.Chat),
		IsGroup:   info.IsGroup,
		Timestamp: info.Timestamp,
	}
	msg.Type, msg.Content, msg.Media = decodeContent(evt.Message)
	if q := quotedFrom(evt.Message); q != nil {
		msg.ReplyTo = q.ID
		msg.Quoted = q
	}
	return msg
}

// phoneJID maps a LID to the phone-number JID when the store knows it.
func (w *WhatsApp) phoneJID(jid types.JID) string {
	if jid.Server == types.HiddenUserServer && w.client != nil {
		if alt, err := w.client.Store.GetAltJID(w.ctx, jid); err == nil && !alt.IsEmpty() {
			return alt.ToNonAD().String()
		}
	}
	return jid.ToNonAD().String()
}

// senderName resolves push name, then verified business name, then the
// saved contact name.
func (w *WhatsApp) senderName(info types.MessageInfo) string {
	var verified string
	if info.VerifiedName != nil && info.VerifiedName.Details != nil {
		verified = info.VerifiedName.Details.GetVerifiedName()
	}
	return channels.ResolveName(info.PushName, verified, w.contactName(info.Sender))
}

func (w *WhatsApp) contactName(jid types.JID) string {
	if w.client == nil || w.client.Store.Contacts == nil {
		return ""
	}
	contact, err := w.client.Store.Contacts.GetContact(w.ctx, jid.ToNonAD())
	if err != nil || !contact.Found {
		return ""
	}
	return channels.ResolveName(contact.FirstName, contact.FullName)
}

// downloadable is implemented by every whatsmeow media message.
type downloadable interface {
	GetMimetype() string
	GetFileLength() uint64
	GetDirectPath() string
	GetMediaKey() []byte
	GetFileSHA256() []byte
	GetFileEncSHA256() []byte
}

func mediaInfo(kind channels.MessageType, m downloadable) *channels.MediaInfo {
	return &channels.MediaInfo{
		Type:          kind,
		MimeType:      m.GetMimetype(),
		FileSize:      m.GetFileLength(),
		DirectPath:    m.GetDirectPath(),
		MediaKey:      m.GetMediaKey(),
		FileSHA256:    m.GetFileSHA256(),
		FileEncSHA256: m.GetFileEncSHA256(),
	}
}

// decodeContent classifies m and renders its text. Payloads without text
// get a bracketed description.
func decodeContent(m *waE2E.Message) (channels.MessageType, string, *channels.MediaInfo) {
	switch {
	case m == nil:
		return channels.MessageUnsupported, "", nil

	case m.Conversation != nil:
		return channels.MessageText, m.GetConversation(), nil

	case m.ExtendedTextMessage != nil:
		return channels.MessageText, m.GetExtendedTextMessage().GetText(), nil

	case m.ImageMessage != nil:
		img := m.GetImageMessage()
		return channels.MessageImage, img.GetCaption(), mediaInfo(channels.MessageImage, img)

	case m.AudioMessage != nil:
		audio := m.GetAudioMessage()
		kind, label := channels.MessageAudio, "[audio]"
		if audio.GetPTT() {
			kind, label = channels.MessageVoice, "[voice note]"
		}
		info := mediaInfo(kind, audio)
		info.Seconds = audio.GetSeconds()
		return kind, label, info

	case m.VideoMessage != nil:
		video := m.GetVideoMessage()
		info := mediaInfo(channels.MessageVideo, video)
		info.Seconds = video.GetSeconds()
		return channels.MessageVideo, video.GetCaption(), info

	case m.DocumentMessage != nil:
		doc := m.GetDocumentMessage()
		body := doc.GetCaption()
		if body == "" {
			body = "[document: " + doc.GetFileName() + "]"
		}
		return channels.MessageDocument, body, mediaInfo(channels.MessageDocument, doc)

	case m.StickerMessage != nil:
		return channels.MessageSticker, "[sticker]", nil

	case m.LocationMessage != nil:
		loc := m.GetLocationMessage()
		return channels.MessageLocation,
			fmt.Sprintf("[location: %.6f, %.6f]", loc.GetDegreesLatitude(), loc.GetDegreesLongitude()), nil

	case m.ContactMessage != nil:
		return channels.MessageContact, "[contact: " + m.GetContactMessage().GetDisplayName() + "]", nil

	case m.ReactionMessage != nil:
		return channels.MessageReaction, m.GetReactionMessage().GetText(), nil

	case m.ProtocolMessage != nil:
		return channels.MessageProtocol, "", nil
	}
	return channels.MessageUnsupported, "[unsupported message type]", nil
}

// quotedFrom returns the message m replies to, or nil.
func quotedFrom(m *waE2E.Message) *channels.QuotedMessage {
	ci := contextInfo(m)
	if ci.GetStanzaID() == "" {
		return nil
	}

	kind, body, media := decodeContent(ci.GetQuotedMessage())
	q := &channels.QuotedMessage{
		ID:          ci.GetStanzaID(),
		Participant: ci.GetParticipant(),
		Type:        kind,
		Content:     body,
	}
	if media != nil {
		q.MimeType = media.MimeType
	}
	return q
}

// contextInfo finds the reply context on whichever payload carries one.
func contextInfo(m *waE2E.Message) *waE2E.ContextInfo {
	if m == nil {
		return nil
	}
	for _, p := range []interface{ GetContextInfo() *waE2E.ContextInfo }{
		m.GetExtendedTextMessage(),
		m.GetImageMessage(),
		m.GetAudioMessage(),
		m.GetVideoMessage(),
		m.GetDocumentMessage(),
		m.GetStickerMessage(),
	} {
		if ci := p.GetContextInfo(); ci != nil {
			return ci
		}
	}
	return nil
}

// parseJID accepts a full JID ("...@g.us", "...@s.whatsapp.net") or a bare
// phone number in any punctuation.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, errors.New("empty JID")
	}
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}

	digits := strings.Map(func(r rune) rune {
		if r < '0' || r > '9' {
			return -1
		}
		return r
	}, s)
	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}
