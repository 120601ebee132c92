// Package domain contains the subscription tier reference data.
package domain

import "time"

// LimitUnlimited marks a resource with no ceiling. Zero means "no quota at
// all", so the two must never be conflated downstream.
const LimitUnlimited int64 = -1

// TierDefinition is immutable reference data describing one plan's quota.
type TierDefinition struct {
	ID             string    `gorm:"primaryKey;type:text"`
	DisplayName    string    `gorm:"type:text;not null"`
	Rank           int       `gorm:"not null"` // ordering for upgrade suggestions
	SessionsLimit  int64     `gorm:"not null"`
	MinutesLimit   int64     `gorm:"not null"`
	DocumentsLimit int64     `gorm:"not null"`
	TokensLimit    int64     `gorm:"not null"`
	TeamAccess     bool      `gorm:"not null;default:false"`
	CustomPersonas bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TierDefinition) TableName() string { return "tier_definitions" }

func (t TierDefinition) UnlimitedSessions() bool  { return t.SessionsLimit == LimitUnlimited }
func (t TierDefinition) UnlimitedMinutes() bool   { return t.MinutesLimit == LimitUnlimited }
func (t TierDefinition) UnlimitedDocuments() bool { return t.DocumentsLimit == LimitUnlimited }
func (t TierDefinition) UnlimitedTokens() bool    { return t.TokensLimit == LimitUnlimited }

// Remaining computes limit - used floored at zero; an unlimited limit stays
// the sentinel so serialization boundaries never see a fake large number.
func Remaining(limit, used int64) int64 {
	if limit == LimitUnlimited {
		return LimitUnlimited
	}
	remaining := limit - used
	if remaining < 0 {
		return 0
	}
	return remaining
}
