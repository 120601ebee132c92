package domain

import (
	"context"
	"errors"
)

var ErrTierNotFound = errors.New("tier_not_found")

type Service interface {
	GetByID(ctx context.Context, tierID string) (TierDefinition, error)
	List(ctx context.Context) ([]TierDefinition, error)
	// NextTier returns the next tier up by rank, or nil when already on the
	// highest plan.
	NextTier(ctx context.Context, tierID string) (*TierDefinition, error)
}
