package router

import (
	"strings"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/channels"
)

// Command tokens. Matching is exact: no trimming, no case folding.
const (
	CmdTranscribe = "!ler"
	CmdSummarize  = "!resumo"
)

// Action is one effect an inbound message can trigger.
type Action int

const (
	// Ignore means no other action applies.
	Ignore Action = iota
	// CaptureText appends a content-bearing message to its group's history.
	CaptureText
	// CaptureVoice stores the audio payload in the blob store.
	CaptureVoice
	// Transcribe answers "!ler" with the quoted voice note's text.
	Transcribe
	// Summarize answers "!resumo" with a summary of today's history.
	Summarize
)

func (a Action) String() string {
	switch a {
	case Ignore:
		return "ignore"
	case CaptureText:
		return "capture_text"
	case CaptureVoice:
		return "capture_voice"
	case Transcribe:
		return "transcribe"
	case Summarize:
		return "summarize"
	}
	return "unknown"
}

// Plan is the ordered list of actions for one message. Actions always appear
// in dispatch order; Ignore only appears alone.
type Plan []Action

// Has reports whether the plan contains a.
func (p Plan) Has(a Action) bool {
	for _, x := range p {
		if x == a {
			return true
		}
	}
	return false
}

func (p Plan) String() string {
	names := make([]string, len(p))
	for i, a := range p {
		names[i] = a.String()
	}
	return strings.Join(names, ",")
}

// Rules is the static policy the classifier evaluates against.
type Rules struct {
	groups   map[string]struct{}
	operator string
}

// NewRules builds the policy from the allow-listed group ids and the
// operator's phone number (or JID). Blank group ids are dropped; an empty
// operator disables transcription.
func NewRules(groups []string, operator string) Rules {
	r := Rules{groups: make(map[string]struct{}, len(groups)), operator: operatorDigits(operator)}
	for _, g := range groups {
		if g = strings.TrimSpace(g); g != "" {
			r.groups[g] = struct{}{}
		}
	}
	return r
}

// Allowed reports whether chatID is an allow-listed group.
func (r Rules) Allowed(chatID string) bool {
	_, ok := r.groups[chatID]
	return ok
}

// Groups returns the allow-listed group ids in no particular order.
func (r Rules) Groups() []string {
	out := make([]string, 0, len(r.groups))
	for g := range r.groups {
		out = append(out, g)
	}
	return out
}

// IsOperator reports whether sender is the authorized operator.
func (r Rules) IsOperator(sender string) bool {
	return r.operator != "" && userPart(sender) == r.operator
}

// Classify decides which actions apply to msg.
func Classify(msg *channels.IncomingMessage, rules Rules) Plan {
	var plan Plan
	allowed := rules.Allowed(msg.ChatID)

	if allowed && channels.HasContent(msg.Type) {
		plan = append(plan, CaptureText)
	}
	if channels.IsVoiceOrAudio(msg.Type) && msg.Media != nil {
		plan = append(plan, CaptureVoice)
	}
	if msg.Content == CmdTranscribe &&
		rules.IsOperator(msg.From) &&
		msg.Quoted != nil &&
		channels.IsVoiceOrAudio(msg.Quoted.Type) {
		plan = append(plan, Transcribe)
	}
	if allowed && msg.Content == CmdSummarize {
		plan = append(plan, Summarize)
	}

	if len(plan) == 0 {
		return Plan{Ignore}
	}
	return plan
}

// userPart strips the server and device suffix from a JID:
// "5511999999999:12@s.whatsapp.net" -> "5511999999999".
func userPart(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[:i]
	}
	if i := strings.IndexByte(jid, ':'); i >= 0 {
		jid = jid[:i]
	}
	return jid
}

func operatorDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, userPart(strings.TrimSpace(s)))
}
