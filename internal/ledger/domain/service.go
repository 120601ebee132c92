package domain

import (
	"context"
	"errors"
	"time"

	"github.com/abiah-ai/usagegate/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidSubscriber    = errors.New("invalid_subscriber")
	ErrNegativeDelta        = errors.New("negative_delta")
	ErrPeriodNotFound       = errors.New("usage_period_not_found")
	ErrConversationNotFound = errors.New("conversation_not_found")
)

// Deltas carries non-negative counter increments. Counters only ever grow.
type Deltas struct {
	Sessions  int64
	Minutes   int64
	Documents int64
	Tokens    int64
}

func (d Deltas) Valid() bool {
	return d.Sessions >= 0 && d.Minutes >= 0 && d.Documents >= 0 && d.Tokens >= 0
}

func (d Deltas) Zero() bool {
	return d.Sessions == 0 && d.Minutes == 0 && d.Documents == 0 && d.Tokens == 0
}

type ListPeriodsRequest struct {
	SubscriberID string
	PageToken    string
	PageSize     int32
}

type ListPeriodsResponse struct {
	Periods  []UsagePeriod       `json:"periods"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

// CloseRequest finalizes a conversation session exactly once.
type CloseRequest struct {
	ConversationID  string
	EndedAt         time.Time
	DurationMinutes int64
	Status          CompletionStatus
}

type Service interface {
	// GetOrCreateCurrentPeriod resolves the subscriber's current billing
	// window and returns its ledger row, creating one with zeroed counters
	// and a tier snapshot when absent. Concurrent creators converge on a
	// single row.
	GetOrCreateCurrentPeriod(ctx context.Context, subscriberID string) (UsagePeriod, error)

	// Increment atomically adds non-negative deltas to the period's
	// counters and returns the updated row.
	Increment(ctx context.Context, periodID snowflake.ID, deltas Deltas) (UsagePeriod, error)

	ListPeriods(ctx context.Context, req ListPeriodsRequest) (ListPeriodsResponse, error)

	FindConversation(ctx context.Context, conversationID string) (*ConversationUsageDetail, error)
	// CreateConversation inserts if absent; created=false signals a
	// duplicate delivery.
	CreateConversation(ctx context.Context, detail *ConversationUsageDetail) (created bool, err error)
	// MarkConversationInProgress moves a pending session forward; a no-op
	// for any other state.
	MarkConversationInProgress(ctx context.Context, conversationID string) error
	// CloseConversation transitions to a terminal status exactly once;
	// closed=false signals the row was already terminal.
	CloseConversation(ctx context.Context, req CloseRequest) (closed bool, err error)
	MarkConversationCompleted(ctx context.Context, conversationID string) error
	ListConversations(ctx context.Context, subscriberID string) ([]ConversationUsageDetail, error)

	// WithTrx returns a view bound to tx so a caller can commit ledger
	// writes together with its own statements.
	WithTrx(tx *gorm.DB) Service
}

// DurationMinutes converts a session's wall-clock span to billable minutes:
// round-half-up on the second-level delta, floor one minute for any session
// that ran at all. This is the single rounding rule for the ledger.
func DurationMinutes(start, end time.Time) int64 {
	if !end.After(start) {
		return 0
	}
	seconds := int64(end.Sub(start).Round(time.Second) / time.Second)
	minutes := (seconds + 30) / 60
	if minutes == 0 {
		minutes = 1
	}
	return minutes
}
