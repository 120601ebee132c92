// Package domain defines the entitlement decision contract. A blocked action
// is a business outcome, never an error: Evaluate returns structured data the
// caller can render, and reserves Go errors for infrastructure failure.
package domain

import "context"

// Action is a gated client action.
type Action string

const (
	ActionStartConversation Action = "conversation"
	ActionGenerateDocument  Action = "document_generation"
)

func (a Action) Valid() bool {
	return a == ActionStartConversation || a == ActionGenerateDocument
}

// Block reasons. Enumerated, stable, and safe to branch on in clients.
const (
	ReasonNoSubscription       = "no_subscription"
	ReasonSubscriptionCanceled = "subscription_canceled"
	ReasonSubscriptionUnpaid   = "subscription_unpaid"
	ReasonSubscriptionExpired  = "subscription_expired"
	ReasonTrialEnded           = "trial_ended"
	ReasonSessionsExceeded     = "sessions_exceeded"
	ReasonMinutesExceeded      = "minutes_exceeded"
	ReasonDocumentsExceeded    = "documents_exceeded"
	ReasonTokensExceeded       = "tokens_exceeded"
	ReasonRateLimitExceeded    = "rate_limit_exceeded"
)

// Warning codes and their fixed policy thresholds. The thresholds are
// product constants, not derived from tier limits.
const (
	WarningLastSession            = "last_session"
	WarningApproachingMinuteLimit = "approaching_minute_limit"
	WarningSessionMayTruncate     = "session_may_be_truncated"
	WarningLastDocument           = "last_document"
	WarningApproachingTokenLimit  = "approaching_token_limit"
	WarningGenerationMayTruncate  = "generation_may_be_truncated"

	MinuteWarningThreshold int64 = 30
	TokenWarningThreshold  int64 = 5000
)

// Estimate is the caller's guess at resource consumption.
type Estimate struct {
	DurationMinutes int64 `json:"estimated_duration_minutes"`
	Tokens          int64 `json:"estimated_tokens"`
}

type Request struct {
	SubscriberID string
	Action       Action
	Estimate     Estimate
	DocumentType string
}

// Snapshot carries the four resource counters. -1 means unlimited in the
// limits and remaining snapshots.
type Snapshot struct {
	Sessions  int64 `json:"sessions"`
	Minutes   int64 `json:"minutes"`
	Documents int64 `json:"documents"`
	Tokens    int64 `json:"tokens"`
}

type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type UpgradeSuggestion struct {
	TierID      string   `json:"tier_id"`
	DisplayName string   `json:"display_name"`
	Limits      Snapshot `json:"limits"`
}

type Result struct {
	Allowed           bool               `json:"allowed"`
	Reason            string             `json:"reason,omitempty"`
	TierID            string             `json:"tier_id,omitempty"`
	Usage             Snapshot           `json:"usage"`
	Limits            Snapshot           `json:"limits"`
	Remaining         Snapshot           `json:"remaining"`
	Warnings          []Warning          `json:"warnings"`
	UpgradeRequired   bool               `json:"upgrade_required"`
	UpgradeSuggestion *UpgradeSuggestion `json:"upgrade_suggestion,omitempty"`
}

type Service interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}
