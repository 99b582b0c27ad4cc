package whatsapp

import (
	"context"
	"fmt"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/channels"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

// buildTextMessage builds an outgoing text message. When replyTo is set the
// message is threaded to it; participant and quoted fill the reply preview.
func buildTextMessage(content, replyTo, participant, quoted string) *waE2E.Message {
	if replyTo == "" {
		return &waE2E.Message{Conversation: proto.String(content)}
	}

	ctxInfo := &waE2E.ContextInfo{
		StanzaID: proto.String(replyTo),
	}
	if participant != "" {
		ctxInfo.Participant = proto.String(participant)
	}
	if quoted != "" {
		ctxInfo.QuotedMessage = &waE2E.Message{Conversation: proto.String(quoted)}
	}

	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(content),
			ContextInfo: ctxInfo,
		},
	}
}

// whatsmeowMediaType maps a channel media kind to the whatsmeow download class.
func whatsmeowMediaType(t channels.MessageType) (whatsmeow.MediaType, error) {
	switch t {
	case channels.MessageImage:
		return whatsmeow.MediaImage, nil
	case channels.MessageAudio, channels.MessageVoice:
		return whatsmeow.MediaAudio, nil
	case channels.MessageVideo:
		return whatsmeow.MediaVideo, nil
	case channels.MessageDocument:
		return whatsmeow.MediaDocument, nil
	default:
		return "", fmt.Errorf("unsupported media type %q", t)
	}
}

// downloadMediaFromInfo fetches and decrypts media using the encryption
// material carried in the incoming message.
func (w *WhatsApp) downloadMediaFromInfo(ctx context.Context, info *channels.MediaInfo) ([]byte, string, error) {
	if info.DirectPath == "" || len(info.MediaKey) == 0 {
		return nil, "", fmt.Errorf("media has no download path")
	}

	mediaType, err := whatsmeowMediaType(info.Type)
	if err != nil {
		return nil, "", err
	}

	data, err := w.client.DownloadMediaWithPath(ctx,
		info.DirectPath,
		info.FileEncSHA256,
		info.FileSHA256,
		info.MediaKey,
		int(info.FileSize),
		mediaType,
		"")
	if err != nil {
		w.errors.Add(1)
		return nil, "", fmt.Errorf("downloading media: %w", err)
	}

	w.logger.Debug("whatsapp: media downloaded",
		"type", info.Type,
		"mime", info.MimeType,
		"size", len(data))

	return data, info.MimeType, nil
}
