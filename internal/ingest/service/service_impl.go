package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/abiah-ai/usagegate/internal/clock"
	"github.com/abiah-ai/usagegate/internal/config"
	ingestdomain "github.com/abiah-ai/usagegate/internal/ingest/domain"
	ledgerdomain "github.com/abiah-ai/usagegate/internal/ledger/domain"
	"github.com/abiah-ai/usagegate/internal/liveevents"
	obsmetrics "github.com/abiah-ai/usagegate/internal/observability/metrics"
	"github.com/abiah-ai/usagegate/pkg/db"
	"github.com/abiah-ai/usagegate/pkg/repository"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	headerSignature = "X-Webhook-Signature"
)

type ServiceParam struct {
	fx.In

	Cfg        config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Ledger     ledgerdomain.Service
	Hub        *liveevents.Hub
	Classifier ingestdomain.OpportunityClassifier
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	signingSecret  string
	tolerance      time.Duration
	allowedOrigins []string

	genID      *snowflake.Node
	clock      clock.Clock
	ledger     ledgerdomain.Service
	hub        *liveevents.Hub
	classifier ingestdomain.OpportunityClassifier
	metrics    *obsmetrics.Metrics

	regrepo repository.Repository[ingestdomain.ConversationRegistration]
}

func NewService(p ServiceParam) ingestdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("ingest.service"),

		signingSecret:  p.Cfg.Webhook.SigningSecret,
		tolerance:      time.Duration(p.Cfg.Webhook.SignatureTolerance) * time.Second,
		allowedOrigins: p.Cfg.Webhook.AllowedOrigins,

		genID:      p.GenID,
		clock:      p.Clock,
		ledger:     p.Ledger,
		hub:        p.Hub,
		classifier: p.Classifier,
		metrics:    p.Metrics,

		regrepo: repository.ProvideStore[ingestdomain.ConversationRegistration](p.DB),
	}
}

func (s *Service) HandleDelivery(ctx context.Context, body []byte, header http.Header) (ingestdomain.Outcome, error) {
	if err := VerifySignature(s.signingSecret, header.Get(headerSignature), body, s.tolerance, s.clock.Now()); err != nil {
		s.metrics.RecordWebhookEvent("unknown", "rejected")
		return ingestdomain.Outcome{}, err
	}
	if !OriginAllowed(s.allowedOrigins, header.Get("Origin"), header.Get("Referer")) {
		s.metrics.RecordWebhookEvent("unknown", "rejected")
		return ingestdomain.Outcome{}, ingestdomain.ErrOriginNotAllowed
	}

	env, err := ingestdomain.ParseEnvelope(body)
	if err != nil {
		s.metrics.RecordWebhookEvent("unknown", "rejected")
		return ingestdomain.Outcome{}, err
	}

	audit := s.appendAudit(ctx, env, body)

	outcome, err := s.dispatch(ctx, env)
	s.finishAudit(ctx, audit, outcome, err)
	if err != nil {
		s.metrics.RecordWebhookEvent(string(env.Kind()), "error")
		return ingestdomain.Outcome{}, err
	}

	s.metrics.RecordWebhookEvent(string(outcome.Kind), outcome.Status)
	s.log.Info("webhook processed",
		zap.String("conversation_id", outcome.ConversationID),
		zap.String("event_type", env.EventType),
		zap.String("event_kind", string(outcome.Kind)),
		zap.String("status", outcome.Status),
	)
	return outcome, nil
}

func (s *Service) dispatch(ctx context.Context, env ingestdomain.Envelope) (ingestdomain.Outcome, error) {
	switch env.Kind() {
	case ingestdomain.KindSessionJoined:
		return s.handleSessionJoined(ctx, env)
	case ingestdomain.KindSessionInProgress:
		return s.handleSessionInProgress(ctx, env)
	case ingestdomain.KindShutdown:
		return s.handleShutdown(ctx, env)
	case ingestdomain.KindTranscriptionReady:
		return s.handleTranscriptionReady(ctx, env)
	case ingestdomain.KindUtterance:
		return ingestdomain.Outcome{
			Kind:           ingestdomain.KindUtterance,
			Status:         ingestdomain.StatusLogged,
			ConversationID: env.ConversationID,
		}, nil
	default:
		s.log.Warn("unrecognized webhook event type",
			zap.String("conversation_id", env.ConversationID),
			zap.String("event_type", env.EventType),
		)
		return ingestdomain.Outcome{
			Kind:           ingestdomain.KindUnrecognized,
			Status:         ingestdomain.StatusIgnored,
			ConversationID: env.ConversationID,
		}, nil
	}
}

// handleSessionJoined opens the session row and charges one session. The
// unique conversation index absorbs redelivery: only the insert that
// actually created the row increments the counter.
func (s *Service) handleSessionJoined(ctx context.Context, env ingestdomain.Envelope) (ingestdomain.Outcome, error) {
	reg, err := s.resolveRegistration(ctx, env.ConversationID)
	if err != nil {
		return ingestdomain.Outcome{}, err
	}

	period, err := s.ledger.GetOrCreateCurrentPeriod(ctx, reg.SubscriberID)
	if err != nil {
		return ingestdomain.Outcome{}, err
	}

	// The session row and its charge commit together: if either write
	// fails, the rollback leaves redelivery free to retry the whole pair.
	var (
		created bool
		updated ledgerdomain.UsagePeriod
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ledger := s.ledger.WithTrx(tx)
		var txErr error
		created, txErr = ledger.CreateConversation(ctx, &ledgerdomain.ConversationUsageDetail{
			SubscriberID:     reg.SubscriberID,
			UsagePeriodID:    period.ID,
			ConversationID:   env.ConversationID,
			StartedAt:        s.eventTime(env),
			CompletionStatus: ledgerdomain.CompletionPending,
		})
		if txErr != nil || !created {
			return txErr
		}
		updated, txErr = ledger.Increment(ctx, period.ID, ledgerdomain.Deltas{Sessions: 1})
		return txErr
	})
	if err != nil {
		return ingestdomain.Outcome{}, err
	}
	if !created {
		return ingestdomain.Outcome{
			Kind:           ingestdomain.KindSessionJoined,
			Status:         ingestdomain.StatusDuplicate,
			ConversationID: env.ConversationID,
			SubscriberID:   reg.SubscriberID,
		}, nil
	}
	s.publishUsage(reg.SubscriberID, env.ConversationID, updated)

	return ingestdomain.Outcome{
		Kind:           ingestdomain.KindSessionJoined,
		Status:         ingestdomain.StatusProcessed,
		ConversationID: env.ConversationID,
		SubscriberID:   reg.SubscriberID,
	}, nil
}

func (s *Service) handleSessionInProgress(ctx context.Context, env ingestdomain.Envelope) (ingestdomain.Outcome, error) {
	reg, err := s.resolveRegistration(ctx, env.ConversationID)
	if err != nil {
		return ingestdomain.Outcome{}, err
	}
	if err := s.ledger.MarkConversationInProgress(ctx, env.ConversationID); err != nil {
		return ingestdomain.Outcome{}, err
	}
	return ingestdomain.Outcome{
		Kind:           ingestdomain.KindSessionInProgress,
		Status:         ingestdomain.StatusProcessed,
		ConversationID: env.ConversationID,
		SubscriberID:   reg.SubscriberID,
	}, nil
}

// handleShutdown closes the session and charges its minutes. The terminal
// transition happens at most once; a redelivered or already-terminal
// shutdown is absorbed without touching the ledger.
func (s *Service) handleShutdown(ctx context.Context, env ingestdomain.Envelope) (ingestdomain.Outcome, error) {
	detail, err := s.ledger.FindConversation(ctx, env.ConversationID)
	if err != nil {
		return ingestdomain.Outcome{}, err
	}
	if detail == nil {
		return ingestdomain.Outcome{}, ledgerdomain.ErrConversationNotFound
	}
	if detail.CompletionStatus.Terminal() {
		return ingestdomain.Outcome{
			Kind:           ingestdomain.KindShutdown,
			Status:         ingestdomain.StatusDuplicate,
			ConversationID: env.ConversationID,
			SubscriberID:   detail.SubscriberID,
		}, nil
	}

	endedAt := s.eventTime(env)
	minutes := ledgerdomain.DurationMinutes(detail.StartedAt, endedAt)
	status := env.ShutdownStatus()

	// Terminal transition and minute charge commit together, mirroring the
	// join path: a failed charge rolls the close back so redelivery can
	// run the pair again.
	var (
		closed  bool
		updated ledgerdomain.UsagePeriod
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ledger := s.ledger.WithTrx(tx)
		var txErr error
		closed, txErr = ledger.CloseConversation(ctx, ledgerdomain.CloseRequest{
			ConversationID:  env.ConversationID,
			EndedAt:         endedAt,
			DurationMinutes: minutes,
			Status:          status,
		})
		if txErr != nil || !closed {
			return txErr
		}
		updated, txErr = ledger.Increment(ctx, detail.UsagePeriodID, ledgerdomain.Deltas{Minutes: minutes})
		return txErr
	})
	if err != nil {
		return ingestdomain.Outcome{}, err
	}
	if !closed {
		// A concurrent delivery won the terminal transition.
		return ingestdomain.Outcome{
			Kind:           ingestdomain.KindShutdown,
			Status:         ingestdomain.StatusDuplicate,
			ConversationID: env.ConversationID,
			SubscriberID:   detail.SubscriberID,
		}, nil
	}
	s.publishUsage(detail.SubscriberID, env.ConversationID, updated)
	s.hub.Publish(detail.SubscriberID, liveevents.LiveEvent{
		Kind:           liveevents.KindConversationCompleted,
		SubscriberID:   detail.SubscriberID,
		ConversationID: env.ConversationID,
		Payload: map[string]any{
			"completion_status": string(status),
			"duration_minutes":  minutes,
		},
		OccurredAt: s.clock.Now().Format(time.RFC3339),
	})

	return ingestdomain.Outcome{
		Kind:            ingestdomain.KindShutdown,
		Status:          ingestdomain.StatusProcessed,
		ConversationID:  env.ConversationID,
		SubscriberID:    detail.SubscriberID,
		DurationMinutes: minutes,
	}, nil
}

// handleTranscriptionReady persists the transcript exactly once, keyed on
// the conversation, and marks the session completed. No counters move here.
func (s *Service) handleTranscriptionReady(ctx context.Context, env ingestdomain.Envelope) (ingestdomain.Outcome, error) {
	reg, err := s.resolveRegistration(ctx, env.ConversationID)
	if err != nil {
		return ingestdomain.Outcome{}, err
	}

	suggestions := s.classifier.Suggest(env.TranscriptText())
	record := ingestdomain.ConversationTranscript{
		ID:             s.genID.Generate(),
		ConversationID: env.ConversationID,
		SubscriberID:   reg.SubscriberID,
		CreatedAt:      s.clock.Now(),
	}
	if raw := env.TranscriptPayload(); len(raw) > 0 {
		record.Transcript = datatypes.JSON(raw)
	}
	if len(suggestions) > 0 {
		if encoded, err := json.Marshal(suggestions); err == nil {
			record.SuggestedDocuments = datatypes.JSON(encoded)
		}
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}},
		DoNothing: true,
	}).Create(&record)
	if result.Error != nil && !db.IsDuplicateKeyErr(result.Error) {
		return ingestdomain.Outcome{}, result.Error
	}
	if result.Error != nil || result.RowsAffected == 0 {
		return ingestdomain.Outcome{
			Kind:           ingestdomain.KindTranscriptionReady,
			Status:         ingestdomain.StatusAlreadyProcessed,
			ConversationID: env.ConversationID,
			SubscriberID:   reg.SubscriberID,
		}, nil
	}

	if err := s.ledger.MarkConversationCompleted(ctx, env.ConversationID); err != nil {
		return ingestdomain.Outcome{}, err
	}
	s.hub.Publish(reg.SubscriberID, liveevents.LiveEvent{
		Kind:           liveevents.KindConversationCompleted,
		SubscriberID:   reg.SubscriberID,
		ConversationID: env.ConversationID,
		Payload: map[string]any{
			"transcript_ready":    true,
			"suggested_documents": suggestions,
		},
		OccurredAt: s.clock.Now().Format(time.RFC3339),
	})

	return ingestdomain.Outcome{
		Kind:           ingestdomain.KindTranscriptionReady,
		Status:         ingestdomain.StatusProcessed,
		ConversationID: env.ConversationID,
		SubscriberID:   reg.SubscriberID,
	}, nil
}

func (s *Service) Register(ctx context.Context, req ingestdomain.RegisterRequest) (ingestdomain.ConversationRegistration, error) {
	conversationID := strings.TrimSpace(req.ConversationID)
	subscriberID := strings.TrimSpace(req.SubscriberID)
	if conversationID == "" || subscriberID == "" {
		return ingestdomain.ConversationRegistration{}, ingestdomain.ErrInvalidRegistration
	}

	record := ingestdomain.ConversationRegistration{
		ID:             s.genID.Generate(),
		ConversationID: conversationID,
		SubscriberID:   subscriberID,
		CreatedAt:      s.clock.Now(),
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}},
		DoNothing: true,
	}).Create(&record)
	if result.Error != nil && !db.IsDuplicateKeyErr(result.Error) {
		return ingestdomain.ConversationRegistration{}, result.Error
	}
	if result.Error == nil && result.RowsAffected > 0 {
		return record, nil
	}

	existing, err := s.regrepo.FindOne(ctx, &ingestdomain.ConversationRegistration{ConversationID: conversationID})
	if err != nil {
		return ingestdomain.ConversationRegistration{}, err
	}
	if existing == nil {
		return ingestdomain.ConversationRegistration{}, ingestdomain.ErrInvalidRegistration
	}
	return *existing, nil
}

func (s *Service) resolveRegistration(ctx context.Context, conversationID string) (*ingestdomain.ConversationRegistration, error) {
	reg, err := s.regrepo.FindOne(ctx, &ingestdomain.ConversationRegistration{ConversationID: conversationID})
	if err != nil {
		return nil, err
	}
	if reg == nil || !reg.Live() {
		return nil, ledgerdomain.ErrConversationNotFound
	}
	return reg, nil
}

func (s *Service) eventTime(env ingestdomain.Envelope) time.Time {
	if env.Timestamp != nil && !env.Timestamp.IsZero() {
		return env.Timestamp.UTC()
	}
	return s.clock.Now()
}

func (s *Service) publishUsage(subscriberID, conversationID string, period ledgerdomain.UsagePeriod) {
	s.hub.Publish(subscriberID, liveevents.LiveEvent{
		Kind:           liveevents.KindUsageUpdated,
		SubscriberID:   subscriberID,
		ConversationID: conversationID,
		Payload: map[string]any{
			"sessions_used":       period.SessionsUsed,
			"minutes_used":        period.MinutesUsed,
			"documents_generated": period.DocumentsGenerated,
			"tokens_consumed":     period.TokensConsumed,
		},
		OccurredAt: s.clock.Now().Format(time.RFC3339),
	})
}

func (s *Service) appendAudit(ctx context.Context, env ingestdomain.Envelope, body []byte) *ingestdomain.WebhookEvent {
	audit := &ingestdomain.WebhookEvent{
		ID:             s.genID.Generate(),
		ConversationID: env.ConversationID,
		EventType:      env.EventType,
		MessageType:    env.MessageType,
		RawPayload:     datatypes.JSON(body),
		ReceivedAt:     s.clock.Now(),
	}
	if err := s.db.WithContext(ctx).Create(audit).Error; err != nil {
		// The audit trail is best effort; a failed append never drops the
		// delivery itself.
		s.log.Error("failed to append webhook audit row",
			zap.String("conversation_id", env.ConversationID),
			zap.String("event_type", env.EventType),
			zap.Error(err),
		)
		return nil
	}
	return audit
}

func (s *Service) finishAudit(ctx context.Context, audit *ingestdomain.WebhookEvent, outcome ingestdomain.Outcome, handleErr error) {
	if audit == nil {
		return
	}
	// Logged-only and unrecognized deliveries keep processed=false: the row
	// records receipt, not a state transition.
	processed := handleErr == nil &&
		outcome.Status != ingestdomain.StatusIgnored &&
		outcome.Status != ingestdomain.StatusLogged
	updates := map[string]any{"processed": processed}
	if handleErr != nil {
		updates["error"] = handleErr.Error()
	}
	if err := s.db.WithContext(ctx).
		Model(&ingestdomain.WebhookEvent{}).
		Where("id = ?", audit.ID).
		Updates(updates).Error; err != nil {
		s.log.Error("failed to finalize webhook audit row",
			zap.Int64("audit_id", int64(audit.ID)),
			zap.Error(err),
		)
	}
}
