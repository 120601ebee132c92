package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/abiah-ai/usagegate/internal/cache"
	subscriptiondomain "github.com/abiah-ai/usagegate/internal/subscription/domain"
	tierdomain "github.com/abiah-ai/usagegate/internal/tier/domain"
	"github.com/abiah-ai/usagegate/pkg/repository"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Short TTL: an entitlement check racing a billing-provider sync should see
// the new record quickly.
const subscriptionCacheTTL = 30 * time.Second

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	TierSvc tierdomain.Service
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	tiersvc  tierdomain.Service
	subrepo  repository.Repository[subscriptiondomain.Subscription]
	resolver cache.Cache[string, subscriptiondomain.Subscription]
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:    p.GenID,
		tiersvc:  p.TierSvc,
		subrepo:  repository.ProvideStore[subscriptiondomain.Subscription](p.DB),
		resolver: cache.NewTTLCache[string, subscriptiondomain.Subscription](),
	}
}

func (s *Service) GetBySubscriberID(ctx context.Context, subscriberID string) (subscriptiondomain.Subscription, error) {
	subscriberID = strings.TrimSpace(subscriberID)
	if subscriberID == "" {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidSubscriber
	}

	if cached, ok := s.resolver.Get(subscriberID); ok {
		return cached, nil
	}

	sub, err := s.subrepo.FindOne(ctx, &subscriptiondomain.Subscription{SubscriberID: subscriberID})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if sub == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrNoSubscription
	}

	s.resolver.Set(subscriberID, *sub, subscriptionCacheTTL)
	return *sub, nil
}

func (s *Service) Upsert(ctx context.Context, req subscriptiondomain.UpsertRequest) (subscriptiondomain.Subscription, error) {
	subscriberID := strings.TrimSpace(req.SubscriberID)
	if subscriberID == "" {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidSubscriber
	}

	if _, err := s.tiersvc.GetByID(ctx, req.TierID); err != nil {
		if errors.Is(err, tierdomain.ErrTierNotFound) {
			return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidTier
		}
		return subscriptiondomain.Subscription{}, err
	}

	now := time.Now().UTC()
	record := subscriptiondomain.Subscription{
		ID:                 s.genID.Generate(),
		SubscriberID:       subscriberID,
		TierID:             strings.TrimSpace(req.TierID),
		Status:             subscriptiondomain.SubscriptionStatus(strings.TrimSpace(req.Status)),
		CurrentPeriodStart: req.CurrentPeriodStart.UTC(),
		CurrentPeriodEnd:   req.CurrentPeriodEnd.UTC(),
		TrialEnd:           req.TrialEnd,
		CancelAt:           req.CancelAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if req.Metadata != nil {
		record.Metadata = datatypes.JSONMap(req.Metadata)
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "subscriber_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"tier_id", "status", "current_period_start", "current_period_end",
			"trial_end", "cancel_at", "metadata", "updated_at",
		}),
	}).Create(&record).Error
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.resolver.Delete(subscriberID)

	stored, err := s.subrepo.FindOne(ctx, &subscriptiondomain.Subscription{SubscriberID: subscriberID})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if stored == nil {
		return record, nil
	}
	return *stored, nil
}
