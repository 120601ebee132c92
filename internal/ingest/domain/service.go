package domain

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrInvalidPayload      = errors.New("invalid webhook payload")
	ErrMissingSignature    = errors.New("missing webhook signature")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrSignatureExpired    = errors.New("webhook signature outside tolerance")
	ErrOriginNotAllowed    = errors.New("webhook origin not allowed")
	ErrInvalidRegistration = errors.New("invalid conversation registration")
)

// Outcome status values. Every delivery that passes authentication yields
// an Outcome; duplicates and unrecognized kinds are successes, not errors.
const (
	StatusProcessed        = "processed"
	StatusDuplicate        = "duplicate"
	StatusAlreadyProcessed = "already_processed"
	StatusIgnored          = "ignored"
	StatusLogged           = "logged"
)

// Outcome describes what a delivery did to the ledger.
type Outcome struct {
	Kind            EventKind `json:"event_kind"`
	Status          string    `json:"status"`
	ConversationID  string    `json:"conversation_id"`
	SubscriberID    string    `json:"subscriber_id,omitempty"`
	DurationMinutes int64     `json:"duration_minutes,omitempty"`
}

// RegisterRequest binds the conversation registration call the application
// makes after an entitlement check passes.
type RegisterRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	SubscriberID   string `json:"user_id" binding:"required"`
}

// OpportunityClassifier inspects a completed transcript and suggests
// document types worth generating from it.
type OpportunityClassifier interface {
	Suggest(transcript string) []string
}

type Service interface {
	// HandleDelivery authenticates and dispatches one raw webhook delivery.
	// Authentication failures return the sentinel errors above; everything
	// past authentication is reported through the Outcome.
	HandleDelivery(ctx context.Context, body []byte, header http.Header) (Outcome, error)

	// Register records the conversation-to-subscriber mapping. Registering
	// the same conversation twice returns the stored row unchanged.
	Register(ctx context.Context, req RegisterRequest) (ConversationRegistration, error)
}
