package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDurationMinutes(t *testing.T) {
	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		elapsed  time.Duration
		expected int64
	}{
		{name: "zero duration", elapsed: 0, expected: 0},
		{name: "end before start", elapsed: -time.Minute, expected: 0},
		{name: "a few seconds floors to one", elapsed: 10 * time.Second, expected: 1},
		{name: "under half a minute rounds down", elapsed: 5*time.Minute + 29*time.Second, expected: 5},
		{name: "half a minute rounds up", elapsed: 5*time.Minute + 30*time.Second, expected: 6},
		{name: "exact minutes", elapsed: 25 * time.Minute, expected: 25},
		{name: "long session", elapsed: 59*time.Minute + 45*time.Second, expected: 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DurationMinutes(start, start.Add(tt.elapsed)))
		})
	}
}

func TestCompletionStatusTerminal(t *testing.T) {
	assert.False(t, CompletionPending.Terminal())
	assert.False(t, CompletionInProgress.Terminal())
	assert.True(t, CompletionCompleted.Terminal())
	assert.True(t, CompletionEnded.Terminal())
	assert.True(t, CompletionEndedEarly.Terminal())
}

func TestUsagePeriodContains(t *testing.T) {
	period := UsagePeriod{
		PeriodStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}

	assert.True(t, period.Contains(period.PeriodStart))
	assert.True(t, period.Contains(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)))
	assert.False(t, period.Contains(period.PeriodEnd))
	assert.False(t, period.Contains(period.PeriodStart.Add(-time.Second)))
}
