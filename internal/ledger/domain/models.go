// Package domain contains persistence models for the usage ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsagePeriod is the ledger row covering one billing cycle for one
// subscriber. Exactly one open period exists per subscriber at any instant;
// rows are created lazily and never deleted.
type UsagePeriod struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	SubscriberID string       `gorm:"type:text;not null;uniqueIndex:ux_usage_periods_window,priority:1"`
	PeriodStart  time.Time    `gorm:"not null;uniqueIndex:ux_usage_periods_window,priority:2"`
	PeriodEnd    time.Time    `gorm:"not null;uniqueIndex:ux_usage_periods_window,priority:3"`
	// TierID is the tier in effect when the period was opened. Deliberately
	// not re-derived later: a mid-period plan change does not retroactively
	// alter an open period's limits.
	TierID             string    `gorm:"type:text;not null"`
	SessionsUsed       int64     `gorm:"not null;default:0"`
	MinutesUsed        int64     `gorm:"not null;default:0"`
	DocumentsGenerated int64     `gorm:"not null;default:0"`
	TokensConsumed     int64     `gorm:"not null;default:0"`
	CreatedAt          time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsagePeriod) TableName() string { return "usage_periods" }

// Contains reports whether now falls inside [PeriodStart, PeriodEnd).
func (p UsagePeriod) Contains(now time.Time) bool {
	return !now.Before(p.PeriodStart) && now.Before(p.PeriodEnd)
}

// CompletionStatus tracks a conversation session's lifecycle.
type CompletionStatus string

const (
	CompletionPending    CompletionStatus = "pending"
	CompletionInProgress CompletionStatus = "in_progress"
	CompletionCompleted  CompletionStatus = "completed"
	CompletionEnded      CompletionStatus = "ended"
	CompletionEndedEarly CompletionStatus = "ended_early"
)

// Terminal reports whether further shutdown-class events must be absorbed.
func (s CompletionStatus) Terminal() bool {
	switch s {
	case CompletionCompleted, CompletionEnded, CompletionEndedEarly:
		return true
	default:
		return false
	}
}

// ConversationUsageDetail is one row per conversation session. The provider's
// conversation identifier is unique and serves as the idempotency key for
// session-scoped webhook events.
type ConversationUsageDetail struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	SubscriberID   string       `gorm:"type:text;not null;index"`
	UsagePeriodID  snowflake.ID `gorm:"not null;index"`
	ConversationID string       `gorm:"type:text;not null;uniqueIndex"`
	StartedAt      time.Time    `gorm:"not null"`
	EndedAt        *time.Time   `gorm:""`
	// ActualDurationMinutes is immutable once set.
	ActualDurationMinutes *int64           `gorm:""`
	CompletionStatus      CompletionStatus `gorm:"type:text;not null"`
	CreatedAt             time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt             time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ConversationUsageDetail) TableName() string { return "conversation_usage_details" }
