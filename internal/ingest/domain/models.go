// Package domain contains the webhook ingestion models and the event
// envelope the provider delivers them in.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ConversationRegistration maps a provider conversation identifier to the
// subscriber that opened it. The application registers the conversation
// before the provider starts delivering events for it; deliveries that do
// not resolve to a live registration are rejected.
type ConversationRegistration struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	ConversationID string       `gorm:"type:text;not null;uniqueIndex"`
	SubscriberID   string       `gorm:"type:text;not null;index"`
	DeletedAt      *time.Time   `gorm:"index"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ConversationRegistration) TableName() string { return "conversation_registrations" }

// Live reports whether events for this conversation are still accepted.
func (r ConversationRegistration) Live() bool { return r.DeletedAt == nil }

// WebhookEvent is the append-only audit row, written once per physical
// delivery before any state transition runs.
type WebhookEvent struct {
	ID             snowflake.ID   `gorm:"primaryKey"`
	ConversationID string         `gorm:"type:text;not null;index"`
	EventType      string         `gorm:"type:text;not null"`
	MessageType    string         `gorm:"type:text"`
	RawPayload     datatypes.JSON `gorm:"not null"`
	Processed      bool           `gorm:"not null;default:false"`
	Error          string         `gorm:"type:text"`
	ReceivedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (WebhookEvent) TableName() string { return "webhook_events" }

// ConversationTranscript holds the transcript delivered by
// transcription_ready. The unique conversation index makes transcript
// processing idempotent independently of the session row's status.
type ConversationTranscript struct {
	ID                 snowflake.ID   `gorm:"primaryKey"`
	ConversationID     string         `gorm:"type:text;not null;uniqueIndex"`
	SubscriberID       string         `gorm:"type:text;not null;index"`
	Transcript         datatypes.JSON `gorm:""`
	SuggestedDocuments datatypes.JSON `gorm:""`
	CreatedAt          time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ConversationTranscript) TableName() string { return "conversation_transcripts" }
