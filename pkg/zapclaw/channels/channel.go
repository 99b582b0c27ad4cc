// Package channels holds the platform-neutral message types exchanged
// between the WhatsApp adapter and the router.
package channels

import (
	"errors"
	"strings"
	"time"
)

// MessageType identifies the kind of message content.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageAudio    MessageType = "audio"
	MessageVoice    MessageType = "voice"
	MessageVideo    MessageType = "video"
	MessageDocument MessageType = "document"
	MessageSticker  MessageType = "sticker"
	MessageLocation MessageType = "location"
	MessageContact  MessageType = "contact"
	MessageReaction MessageType = "reaction"

	// MessageProtocol covers revokes, edits and other control payloads.
	MessageProtocol    MessageType = "protocol"
	MessageUnsupported MessageType = "unsupported"
)

// HasContent reports whether t is something a person said or shared, as
// opposed to a reaction or a control payload.
func HasContent(t MessageType) bool {
	switch t {
	case MessageText, MessageImage, MessageAudio, MessageVoice, MessageVideo,
		MessageDocument, MessageSticker, MessageLocation, MessageContact:
		return true
	}
	return false
}

// IsVoiceOrAudio reports whether t carries a transcribable audio payload.
func IsVoiceOrAudio(t MessageType) bool {
	return t == MessageVoice || t == MessageAudio
}

// IncomingMessage is one inbound event.
type IncomingMessage struct {
	ID string

	// From is the sender, resolved to a phone JID when possible.
	From string

	// FromJID is the sender address as delivered (may be a LID). It is the
	// participant to quote when replying.
	FromJID string

	// FromName is the best-effort display name.
	FromName string

	ChatID  string
	IsGroup bool
	Type    MessageType

	// Content is the text, caption or a bracketed description of the payload.
	Content   string
	Timestamp time.Time

	// ReplyTo is the id of the message this one answers, if any.
	ReplyTo string
	Quoted  *QuotedMessage

	// Media is set for downloadable payloads.
	Media *MediaInfo
}

// QuotedMessage is the replied-to message embedded in a reply.
type QuotedMessage struct {
	ID          string
	Participant string
	Type        MessageType
	// MimeType is set when the quoted message carries media.
	MimeType string
	Content  string
}

// OutgoingMessage is a text reply. With ReplyTo set it is threaded to that
// message; ReplyParticipant and QuotedContent fill the quoted preview.
type OutgoingMessage struct {
	Content          string
	ReplyTo          string
	ReplyParticipant string
	QuotedContent    string
}

// MediaInfo carries what is needed to fetch and decrypt a payload.
type MediaInfo struct {
	Type     MessageType
	MimeType string
	FileSize uint64
	// Seconds is the playback length of audio and video.
	Seconds uint32

	DirectPath    string
	MediaKey      []byte
	FileSHA256    []byte
	FileEncSHA256 []byte
}

// ResolveName returns the first non-blank name in priority order.
func ResolveName(candidates ...string) string {
	for _, c := range candidates {
		if s := strings.TrimSpace(c); s != "" {
			return s
		}
	}
	return ""
}

var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrNoMedia             = errors.New("message has no media")
	ErrMediaTooLarge       = errors.New("media exceeds size limit")
)
