package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/abiah-ai/usagegate/internal/clock"
	ledgerdomain "github.com/abiah-ai/usagegate/internal/ledger/domain"
	obsmetrics "github.com/abiah-ai/usagegate/internal/observability/metrics"
	subscriptiondomain "github.com/abiah-ai/usagegate/internal/subscription/domain"
	"github.com/abiah-ai/usagegate/pkg/db"
	"github.com/abiah-ai/usagegate/pkg/db/option"
	"github.com/abiah-ai/usagegate/pkg/db/pagination"
	"github.com/abiah-ai/usagegate/pkg/repository"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	SubSvc  subscriptiondomain.Service
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	subSvc     subscriptiondomain.Service
	clock      clock.Clock
	periodrepo repository.Repository[ledgerdomain.UsagePeriod]
	convrepo   repository.Repository[ledgerdomain.ConversationUsageDetail]
	metrics    *obsmetrics.Metrics
}

func NewService(p ServiceParam) ledgerdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("ledger.service"),

		genID:      p.GenID,
		subSvc:     p.SubSvc,
		clock:      p.Clock,
		periodrepo: repository.ProvideStore[ledgerdomain.UsagePeriod](p.DB),
		convrepo:   repository.ProvideStore[ledgerdomain.ConversationUsageDetail](p.DB),
		metrics:    p.Metrics,
	}
}

func (s *Service) WithTrx(tx *gorm.DB) ledgerdomain.Service {
	if tx == nil {
		return s
	}
	bound := *s
	bound.db = tx
	bound.periodrepo = s.periodrepo.WithTrx(tx)
	bound.convrepo = s.convrepo.WithTrx(tx)
	return &bound
}

func (s *Service) GetOrCreateCurrentPeriod(ctx context.Context, subscriberID string) (ledgerdomain.UsagePeriod, error) {
	subscriberID = strings.TrimSpace(subscriberID)
	if subscriberID == "" {
		return ledgerdomain.UsagePeriod{}, ledgerdomain.ErrInvalidSubscriber
	}

	sub, err := s.subSvc.GetBySubscriberID(ctx, subscriberID)
	if err != nil {
		// ErrNoSubscription passes through as the distinguished outcome.
		return ledgerdomain.UsagePeriod{}, err
	}

	now := s.clock.Now()
	start, end := sub.PeriodBounds(now)

	existing, err := s.findPeriod(ctx, subscriberID, start, end)
	if err != nil {
		return ledgerdomain.UsagePeriod{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	record := ledgerdomain.UsagePeriod{
		ID:           s.genID.Generate(),
		SubscriberID: subscriberID,
		PeriodStart:  start,
		PeriodEnd:    end,
		TierID:       sub.TierID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Insert-if-absent: a losing concurrent insert retries as a lookup and
	// never surfaces the race to the caller.
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return ledgerdomain.UsagePeriod{}, err
		}
		winner, ferr := s.findPeriod(ctx, subscriberID, start, end)
		if ferr != nil {
			return ledgerdomain.UsagePeriod{}, ferr
		}
		if winner == nil {
			return ledgerdomain.UsagePeriod{}, err
		}
		return *winner, nil
	}

	s.log.Info("opened usage period",
		zap.String("subscriber_id", subscriberID),
		zap.String("tier_id", sub.TierID),
		zap.Time("period_start", start),
		zap.Time("period_end", end),
	)
	return record, nil
}

func (s *Service) Increment(ctx context.Context, periodID snowflake.ID, deltas ledgerdomain.Deltas) (ledgerdomain.UsagePeriod, error) {
	if !deltas.Valid() {
		return ledgerdomain.UsagePeriod{}, ledgerdomain.ErrNegativeDelta
	}

	if !deltas.Zero() {
		// Single atomic UPDATE; never read-modify-write at the application
		// layer, so concurrent webhook deliveries cannot lose updates.
		result := s.db.WithContext(ctx).
			Model(&ledgerdomain.UsagePeriod{}).
			Where("id = ?", periodID).
			Updates(map[string]any{
				"sessions_used":       gorm.Expr("sessions_used + ?", deltas.Sessions),
				"minutes_used":        gorm.Expr("minutes_used + ?", deltas.Minutes),
				"documents_generated": gorm.Expr("documents_generated + ?", deltas.Documents),
				"tokens_consumed":     gorm.Expr("tokens_consumed + ?", deltas.Tokens),
				"updated_at":          s.clock.Now(),
			})
		if result.Error != nil {
			return ledgerdomain.UsagePeriod{}, result.Error
		}
		if result.RowsAffected == 0 {
			return ledgerdomain.UsagePeriod{}, ledgerdomain.ErrPeriodNotFound
		}

		s.metrics.RecordLedgerIncrement("sessions", deltas.Sessions)
		s.metrics.RecordLedgerIncrement("minutes", deltas.Minutes)
		s.metrics.RecordLedgerIncrement("documents", deltas.Documents)
		s.metrics.RecordLedgerIncrement("tokens", deltas.Tokens)
	}

	updated, err := s.periodrepo.FindOne(ctx, &ledgerdomain.UsagePeriod{ID: periodID})
	if err != nil {
		return ledgerdomain.UsagePeriod{}, err
	}
	if updated == nil {
		return ledgerdomain.UsagePeriod{}, ledgerdomain.ErrPeriodNotFound
	}
	return *updated, nil
}

func (s *Service) ListPeriods(ctx context.Context, req ledgerdomain.ListPeriodsRequest) (ledgerdomain.ListPeriodsResponse, error) {
	subscriberID := strings.TrimSpace(req.SubscriberID)
	if subscriberID == "" {
		return ledgerdomain.ListPeriodsResponse{}, ledgerdomain.ErrInvalidSubscriber
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	rows, err := s.periodrepo.Find(ctx, &ledgerdomain.UsagePeriod{SubscriberID: subscriberID},
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  int(pageSize),
		}),
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}),
	)
	if err != nil {
		return ledgerdomain.ListPeriodsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(rows, pageSize, func(row *ledgerdomain.UsagePeriod) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        row.ID.String(),
			CreatedAt: row.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(rows) > int(pageSize) {
		rows = rows[:pageSize]
	}

	periods := make([]ledgerdomain.UsagePeriod, 0, len(rows))
	for _, row := range rows {
		if row != nil {
			periods = append(periods, *row)
		}
	}

	resp := ledgerdomain.ListPeriodsResponse{Periods: periods}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) FindConversation(ctx context.Context, conversationID string) (*ledgerdomain.ConversationUsageDetail, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, nil
	}
	return s.convrepo.FindOne(ctx, &ledgerdomain.ConversationUsageDetail{ConversationID: conversationID})
}

func (s *Service) CreateConversation(ctx context.Context, detail *ledgerdomain.ConversationUsageDetail) (bool, error) {
	if detail == nil || strings.TrimSpace(detail.ConversationID) == "" {
		return false, ledgerdomain.ErrConversationNotFound
	}
	if detail.ID == 0 {
		detail.ID = s.genID.Generate()
	}
	if detail.CompletionStatus == "" {
		detail.CompletionStatus = ledgerdomain.CompletionPending
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}},
		DoNothing: true,
	}).Create(detail)
	if result.Error != nil {
		if db.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Service) MarkConversationInProgress(ctx context.Context, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return ledgerdomain.ErrConversationNotFound
	}
	return s.db.WithContext(ctx).
		Model(&ledgerdomain.ConversationUsageDetail{}).
		Where("conversation_id = ? AND completion_status = ?", conversationID, ledgerdomain.CompletionPending).
		Updates(map[string]any{
			"completion_status": ledgerdomain.CompletionInProgress,
			"updated_at":        s.clock.Now(),
		}).Error
}

func (s *Service) CloseConversation(ctx context.Context, req ledgerdomain.CloseRequest) (bool, error) {
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		return false, ledgerdomain.ErrConversationNotFound
	}
	if !req.Status.Terminal() {
		return false, ledgerdomain.ErrConversationNotFound
	}

	endedAt := req.EndedAt.UTC()
	result := s.db.WithContext(ctx).
		Model(&ledgerdomain.ConversationUsageDetail{}).
		Where("conversation_id = ? AND completion_status IN ?",
			conversationID,
			[]ledgerdomain.CompletionStatus{ledgerdomain.CompletionPending, ledgerdomain.CompletionInProgress},
		).
		Updates(map[string]any{
			"ended_at":                endedAt,
			"actual_duration_minutes": req.DurationMinutes,
			"completion_status":       req.Status,
			"updated_at":              s.clock.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Service) MarkConversationCompleted(ctx context.Context, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return ledgerdomain.ErrConversationNotFound
	}
	return s.db.WithContext(ctx).
		Model(&ledgerdomain.ConversationUsageDetail{}).
		Where("conversation_id = ? AND completion_status <> ?", conversationID, ledgerdomain.CompletionCompleted).
		Updates(map[string]any{
			"completion_status": ledgerdomain.CompletionCompleted,
			"updated_at":        s.clock.Now(),
		}).Error
}

func (s *Service) ListConversations(ctx context.Context, subscriberID string) ([]ledgerdomain.ConversationUsageDetail, error) {
	subscriberID = strings.TrimSpace(subscriberID)
	if subscriberID == "" {
		return nil, ledgerdomain.ErrInvalidSubscriber
	}

	rows, err := s.convrepo.Find(ctx, &ledgerdomain.ConversationUsageDetail{SubscriberID: subscriberID},
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}),
	)
	if err != nil {
		return nil, err
	}

	details := make([]ledgerdomain.ConversationUsageDetail, 0, len(rows))
	for _, row := range rows {
		if row != nil {
			details = append(details, *row)
		}
	}
	return details, nil
}

func (s *Service) findPeriod(ctx context.Context, subscriberID string, start, end time.Time) (*ledgerdomain.UsagePeriod, error) {
	var record ledgerdomain.UsagePeriod
	err := s.db.WithContext(ctx).
		Where("subscriber_id = ? AND period_start = ? AND period_end = ?", subscriberID, start, end).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}
