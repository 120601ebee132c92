// Package domain contains persistence models for subscriber billing records.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubscriptionStatus mirrors the billing provider's lifecycle states.
type SubscriptionStatus string

const (
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
)

// Subscription is the locally synced copy of a subscriber's billing record.
// The billing provider owns it; this service only reads it to resolve tier
// and period bounds.
type Subscription struct {
	ID                 snowflake.ID       `gorm:"primaryKey"`
	SubscriberID       string             `gorm:"type:text;not null;uniqueIndex"`
	TierID             string             `gorm:"type:text;not null"`
	Status             SubscriptionStatus `gorm:"type:text;not null"`
	CurrentPeriodStart time.Time          `gorm:"not null"`
	CurrentPeriodEnd   time.Time          `gorm:"not null"`
	TrialEnd           *time.Time         `gorm:""`
	CancelAt           *time.Time         `gorm:""`
	CanceledAt         *time.Time         `gorm:""`
	Metadata           datatypes.JSONMap  `gorm:"type:jsonb"`
	CreatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// TrialExpired reports the derived trial_ended state. The billing provider
// never flips "trialing" itself until the next invoice, so this is computed
// from the raw timestamps.
func (s Subscription) TrialExpired(now time.Time) bool {
	return s.Status == SubscriptionStatusTrialing && s.TrialEnd != nil && s.TrialEnd.Before(now)
}

// PeriodBounds returns the billing period containing now, rolling the stored
// bounds forward by whole calendar-month cycles when the synced record is
// stale. The stored row is not mutated; the ledger keys periods by the
// returned bounds.
func (s Subscription) PeriodBounds(now time.Time) (time.Time, time.Time) {
	start := s.CurrentPeriodStart.UTC()
	end := s.CurrentPeriodEnd.UTC()
	if end.IsZero() || !end.After(start) {
		end = start.AddDate(0, 1, 0)
	}
	for !now.Before(end) {
		start = end
		end = end.AddDate(0, 1, 0)
	}
	return start, end
}
