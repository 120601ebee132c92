package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoSubscription is a distinguished outcome, not a system failure:
	// callers render it as a blocking entitlement result.
	ErrNoSubscription = errors.New("no_subscription")

	ErrInvalidSubscriber = errors.New("invalid_subscriber")
	ErrInvalidTier       = errors.New("invalid_tier")
)

type UpsertRequest struct {
	SubscriberID       string         `json:"subscriber_id"`
	TierID             string         `json:"tier_id" binding:"required"`
	Status             string         `json:"status" binding:"required"`
	CurrentPeriodStart time.Time      `json:"current_period_start" binding:"required"`
	CurrentPeriodEnd   time.Time      `json:"current_period_end" binding:"required"`
	TrialEnd           *time.Time     `json:"trial_end"`
	CancelAt           *time.Time     `json:"cancel_at"`
	Metadata           map[string]any `json:"metadata"`
}

type Service interface {
	GetBySubscriberID(ctx context.Context, subscriberID string) (Subscription, error)
	// Upsert applies a one-way sync from the billing provider.
	Upsert(ctx context.Context, req UpsertRequest) (Subscription, error)
}
