package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeriodBounds(t *testing.T) {
	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	sub := Subscription{CurrentPeriodStart: start, CurrentPeriodEnd: end}

	t.Run("now inside stored window", func(t *testing.T) {
		gotStart, gotEnd := sub.PeriodBounds(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
		assert.Equal(t, start, gotStart)
		assert.Equal(t, end, gotEnd)
	})

	t.Run("stale record rolls forward one cycle", func(t *testing.T) {
		gotStart, gotEnd := sub.PeriodBounds(time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC))
		assert.Equal(t, end, gotStart)
		assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), gotEnd)
	})

	t.Run("very stale record rolls forward repeatedly", func(t *testing.T) {
		gotStart, gotEnd := sub.PeriodBounds(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
		assert.Equal(t, time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC), gotStart)
		assert.Equal(t, time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC), gotEnd)
	})

	t.Run("boundary instant belongs to the next period", func(t *testing.T) {
		gotStart, gotEnd := sub.PeriodBounds(end)
		assert.Equal(t, end, gotStart)
		assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), gotEnd)
	})

	t.Run("missing end derives one calendar month", func(t *testing.T) {
		broken := Subscription{CurrentPeriodStart: start}
		gotStart, gotEnd := broken.PeriodBounds(start.Add(24 * time.Hour))
		assert.Equal(t, start, gotStart)
		assert.Equal(t, end, gotEnd)
	})
}

func TestTrialExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name     string
		sub      Subscription
		expected bool
	}{
		{name: "trialing past trial end", sub: Subscription{Status: SubscriptionStatusTrialing, TrialEnd: &past}, expected: true},
		{name: "trialing before trial end", sub: Subscription{Status: SubscriptionStatusTrialing, TrialEnd: &future}, expected: false},
		{name: "trialing with no trial end", sub: Subscription{Status: SubscriptionStatusTrialing}, expected: false},
		{name: "active past trial end", sub: Subscription{Status: SubscriptionStatusActive, TrialEnd: &past}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.sub.TrialExpired(now))
		})
	}
}
