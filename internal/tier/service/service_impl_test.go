package service

import (
	"context"
	"testing"

	tierdomain "github.com/abiah-ai/usagegate/internal/tier/domain"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (tierdomain.Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(&tierdomain.TierDefinition{}); err != nil {
		t.Fatal(err)
	}

	tiers := []tierdomain.TierDefinition{
		{ID: "executive", DisplayName: "Executive", Rank: 3, SessionsLimit: tierdomain.LimitUnlimited, MinutesLimit: 1000, DocumentsLimit: tierdomain.LimitUnlimited, TokensLimit: tierdomain.LimitUnlimited},
		{ID: "foundation", DisplayName: "Foundation", Rank: 1, SessionsLimit: 3, MinutesLimit: 75, DocumentsLimit: 5, TokensLimit: 50000},
		{ID: "growth", DisplayName: "Growth", Rank: 2, SessionsLimit: 10, MinutesLimit: 300, DocumentsLimit: 20, TokensLimit: 250000},
	}
	if err := db.Create(&tiers).Error; err != nil {
		t.Fatal(err)
	}

	return NewService(ServiceParam{DB: db, Log: zap.NewNop()}), db
}

func TestGetByID(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	tier, err := svc.GetByID(ctx, "growth")
	assert.NoError(t, err)
	assert.Equal(t, "Growth", tier.DisplayName)
	assert.Equal(t, int64(300), tier.MinutesLimit)

	_, err = svc.GetByID(ctx, "platinum")
	assert.ErrorIs(t, err, tierdomain.ErrTierNotFound)

	_, err = svc.GetByID(ctx, "  ")
	assert.ErrorIs(t, err, tierdomain.ErrTierNotFound)

	// The resolver caches by ID, so a direct database edit is not visible
	// until the entry expires.
	assert.NoError(t, db.Model(&tierdomain.TierDefinition{}).
		Where("id = ?", "growth").
		Update("minutes_limit", 999).Error)

	tier, err = svc.GetByID(ctx, "growth")
	assert.NoError(t, err)
	assert.Equal(t, int64(300), tier.MinutesLimit)
}

func TestList(t *testing.T) {
	svc, _ := newTestService(t)

	tiers, err := svc.List(context.Background())
	assert.NoError(t, err)
	assert.Len(t, tiers, 3)

	// Ordered by rank regardless of insertion order.
	assert.Equal(t, "foundation", tiers[0].ID)
	assert.Equal(t, "growth", tiers[1].ID)
	assert.Equal(t, "executive", tiers[2].ID)
}

func TestNextTier(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	next, err := svc.NextTier(ctx, "foundation")
	assert.NoError(t, err)
	assert.NotNil(t, next)
	assert.Equal(t, "growth", next.ID)

	next, err = svc.NextTier(ctx, "executive")
	assert.NoError(t, err)
	assert.Nil(t, next)

	_, err = svc.NextTier(ctx, "platinum")
	assert.ErrorIs(t, err, tierdomain.ErrTierNotFound)
}
