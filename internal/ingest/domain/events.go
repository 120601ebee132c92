package domain

import (
	"encoding/json"
	"strings"
	"time"

	ledgerdomain "github.com/abiah-ai/usagegate/internal/ledger/domain"
)

// EventKind classifies a provider delivery after parsing. Unknown event
// types still parse; they map to KindUnrecognized and are logged only.
type EventKind string

const (
	KindSessionJoined      EventKind = "session_joined"
	KindSessionInProgress  EventKind = "session_in_progress"
	KindShutdown           EventKind = "shutdown"
	KindTranscriptionReady EventKind = "transcription_ready"
	KindUtterance          EventKind = "utterance"
	KindUnrecognized       EventKind = "unrecognized"
)

// Envelope is the provider's webhook payload. Properties stays raw until
// the kind-specific handler needs it.
type Envelope struct {
	ConversationID string          `json:"conversation_id"`
	EventType      string          `json:"event_type"`
	MessageType    string          `json:"message_type"`
	Timestamp      *time.Time      `json:"timestamp"`
	Properties     json.RawMessage `json:"properties"`
}

// Kind maps the provider's event_type onto the ledger state machine.
func (e Envelope) Kind() EventKind {
	switch e.EventType {
	case "system.replica_joined":
		return KindSessionJoined
	case "system.replica_present":
		return KindSessionInProgress
	case "system.shutdown", "system.shutdown_initiated":
		return KindShutdown
	case "application.transcription_ready":
		return KindTranscriptionReady
	case "conversation.utterance":
		return KindUtterance
	default:
		return KindUnrecognized
	}
}

type shutdownProperties struct {
	Reason string `json:"reason"`
}

// ShutdownStatus derives the terminal completion status from the shutdown
// reason the provider reports. Unknown reasons count as a plain end, not an
// error: the session still closes and its minutes are still charged.
func (e Envelope) ShutdownStatus() ledgerdomain.CompletionStatus {
	var props shutdownProperties
	if len(e.Properties) > 0 {
		_ = json.Unmarshal(e.Properties, &props)
	}
	switch props.Reason {
	case "completed":
		return ledgerdomain.CompletionCompleted
	case "max_call_duration_reached":
		return ledgerdomain.CompletionEnded
	case "participant_left_timeout", "participant_absent":
		return ledgerdomain.CompletionEndedEarly
	default:
		return ledgerdomain.CompletionEnded
	}
}

type transcriptUtterance struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type transcriptionProperties struct {
	Transcript json.RawMessage `json:"transcript"`
}

// TranscriptPayload returns the raw transcript block from a
// transcription_ready delivery, or nil when absent.
func (e Envelope) TranscriptPayload() json.RawMessage {
	var props transcriptionProperties
	if len(e.Properties) > 0 {
		_ = json.Unmarshal(e.Properties, &props)
	}
	return props.Transcript
}

// TranscriptText flattens the transcript into plain text for keyword
// classification. Both the utterance-array shape and a bare string are
// accepted.
func (e Envelope) TranscriptText() string {
	raw := e.TranscriptPayload()
	if len(raw) == 0 {
		return ""
	}

	var utterances []transcriptUtterance
	if err := json.Unmarshal(raw, &utterances); err == nil {
		parts := make([]string, 0, len(utterances))
		for _, u := range utterances {
			if u.Content != "" {
				parts = append(parts, u.Content)
			}
		}
		return strings.Join(parts, "\n")
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return ""
}

// ParseEnvelope decodes a delivery body. A syntactically valid body with an
// unknown event_type is not an error; a body with no conversation_id is.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, ErrInvalidPayload
	}
	env.ConversationID = strings.TrimSpace(env.ConversationID)
	if env.ConversationID == "" {
		return Envelope{}, ErrInvalidPayload
	}
	return env, nil
}
