package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/abiah-ai/usagegate/internal/cache"
	tierdomain "github.com/abiah-ai/usagegate/internal/tier/domain"
	"github.com/abiah-ai/usagegate/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tierCacheTTL = 10 * time.Minute

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	log      *zap.Logger
	tierrepo repository.Repository[tierdomain.TierDefinition]
	resolver cache.Cache[string, tierdomain.TierDefinition]
}

func NewService(p ServiceParam) tierdomain.Service {
	return &Service{
		log:      p.Log.Named("tier.service"),
		tierrepo: repository.ProvideStore[tierdomain.TierDefinition](p.DB),
		resolver: cache.NewTTLCache[string, tierdomain.TierDefinition](),
	}
}

func (s *Service) GetByID(ctx context.Context, tierID string) (tierdomain.TierDefinition, error) {
	tierID = strings.TrimSpace(tierID)
	if tierID == "" {
		return tierdomain.TierDefinition{}, tierdomain.ErrTierNotFound
	}

	if cached, ok := s.resolver.Get(tierID); ok {
		return cached, nil
	}

	tier, err := s.tierrepo.FindOne(ctx, &tierdomain.TierDefinition{ID: tierID})
	if err != nil {
		return tierdomain.TierDefinition{}, err
	}
	if tier == nil {
		return tierdomain.TierDefinition{}, tierdomain.ErrTierNotFound
	}

	s.resolver.Set(tierID, *tier, tierCacheTTL)
	return *tier, nil
}

func (s *Service) List(ctx context.Context) ([]tierdomain.TierDefinition, error) {
	rows, err := s.tierrepo.Find(ctx, &tierdomain.TierDefinition{})
	if err != nil {
		return nil, err
	}

	tiers := make([]tierdomain.TierDefinition, 0, len(rows))
	for _, row := range rows {
		if row != nil {
			tiers = append(tiers, *row)
		}
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Rank < tiers[j].Rank })
	return tiers, nil
}

func (s *Service) NextTier(ctx context.Context, tierID string) (*tierdomain.TierDefinition, error) {
	current, err := s.GetByID(ctx, tierID)
	if err != nil {
		return nil, err
	}

	tiers, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, candidate := range tiers {
		if candidate.Rank > current.Rank {
			next := candidate
			return &next, nil
		}
	}
	return nil, nil
}
