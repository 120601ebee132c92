package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"

	ingestdomain "github.com/abiah-ai/usagegate/internal/ingest/domain"
	"github.com/stretchr/testify/assert"
)

const testSecret = "whsec_test"

func signBody(t *testing.T, secret string, ts int64, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifySignature(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	body := []byte(`{"conversation_id":"conv-1"}`)
	tolerance := 5 * time.Minute

	t.Run("valid signature", func(t *testing.T) {
		header := signBody(t, testSecret, now.Unix(), body)
		assert.NoError(t, VerifySignature(testSecret, header, body, tolerance, now))
	})

	t.Run("no secret disables verification", func(t *testing.T) {
		assert.NoError(t, VerifySignature("", "", body, tolerance, now))
	})

	t.Run("missing header", func(t *testing.T) {
		err := VerifySignature(testSecret, "", body, tolerance, now)
		assert.ErrorIs(t, err, ingestdomain.ErrMissingSignature)
	})

	t.Run("malformed header", func(t *testing.T) {
		err := VerifySignature(testSecret, "v1=deadbeef", body, tolerance, now)
		assert.ErrorIs(t, err, ingestdomain.ErrInvalidSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		header := signBody(t, "whsec_other", now.Unix(), body)
		err := VerifySignature(testSecret, header, body, tolerance, now)
		assert.ErrorIs(t, err, ingestdomain.ErrInvalidSignature)
	})

	t.Run("tampered body", func(t *testing.T) {
		header := signBody(t, testSecret, now.Unix(), body)
		err := VerifySignature(testSecret, header, []byte(`{"conversation_id":"conv-2"}`), tolerance, now)
		assert.ErrorIs(t, err, ingestdomain.ErrInvalidSignature)
	})

	t.Run("timestamp too old", func(t *testing.T) {
		header := signBody(t, testSecret, now.Add(-6*time.Minute).Unix(), body)
		err := VerifySignature(testSecret, header, body, tolerance, now)
		assert.ErrorIs(t, err, ingestdomain.ErrSignatureExpired)
	})

	t.Run("timestamp in the future beyond tolerance", func(t *testing.T) {
		header := signBody(t, testSecret, now.Add(6*time.Minute).Unix(), body)
		err := VerifySignature(testSecret, header, body, tolerance, now)
		assert.ErrorIs(t, err, ingestdomain.ErrSignatureExpired)
	})

	t.Run("timestamp cannot be swapped", func(t *testing.T) {
		// Re-using a valid v1 under a fresher t must fail: t is part of the
		// signed message.
		old := signBody(t, testSecret, now.Add(-6*time.Minute).Unix(), body)
		_, v1, _ := strings.Cut(old, ",")
		forged := fmt.Sprintf("t=%d,%s", now.Unix(), v1)
		err := VerifySignature(testSecret, forged, body, tolerance, now)
		assert.ErrorIs(t, err, ingestdomain.ErrInvalidSignature)
	})
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"tavus.io", "daily.co"}

	tests := []struct {
		name     string
		origin   string
		referer  string
		expected bool
	}{
		{name: "no headers passes", expected: true},
		{name: "exact origin", origin: "https://tavus.io", expected: true},
		{name: "subdomain origin", origin: "https://webhooks.tavus.io", expected: true},
		{name: "referer fallback", referer: "https://daily.co/some/path", expected: true},
		{name: "unlisted origin", origin: "https://evil.example.com", expected: false},
		{name: "suffix spoof rejected", origin: "https://nottavus.io", expected: false},
		{name: "bare host origin", origin: "tavus.io", expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, OriginAllowed(allowed, tt.origin, tt.referer))
		})
	}
}

func TestOriginAllowedEmptyAllowList(t *testing.T) {
	assert.True(t, OriginAllowed(nil, "https://anything.example.com", ""))
}
