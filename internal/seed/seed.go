// Package seed bootstraps reference data on startup.
package seed

import (
	"context"
	"errors"
	"time"

	tierdomain "github.com/abiah-ai/usagegate/internal/tier/domain"
	"gorm.io/gorm"
)

// EnsureDefaultTiers seeds the plan catalog. Existing rows are left alone,
// so operators can tune limits in the database without losing the change on
// the next deploy.
func EnsureDefaultTiers(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	defaults := []tierdomain.TierDefinition{
		{
			ID:             "foundation",
			DisplayName:    "Foundation",
			Rank:           1,
			SessionsLimit:  3,
			MinutesLimit:   75,
			DocumentsLimit: 5,
			TokensLimit:    50000,
		},
		{
			ID:             "growth",
			DisplayName:    "Growth",
			Rank:           2,
			SessionsLimit:  10,
			MinutesLimit:   300,
			DocumentsLimit: 20,
			TokensLimit:    250000,
			TeamAccess:     true,
		},
		{
			ID:             "executive",
			DisplayName:    "Executive",
			Rank:           3,
			SessionsLimit:  tierdomain.LimitUnlimited,
			MinutesLimit:   1000,
			DocumentsLimit: tierdomain.LimitUnlimited,
			TokensLimit:    tierdomain.LimitUnlimited,
			TeamAccess:     true,
			CustomPersonas: true,
		},
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, tier := range defaults {
			if err := ensureTierTx(ctx, tx, tier); err != nil {
				return err
			}
		}
		return nil
	})
}

func ensureTierTx(ctx context.Context, tx *gorm.DB, tier tierdomain.TierDefinition) error {
	var existing tierdomain.TierDefinition
	err := tx.WithContext(ctx).Where("id = ?", tier.ID).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now().UTC()
	tier.CreatedAt = now
	tier.UpdatedAt = now
	return tx.WithContext(ctx).Create(&tier).Error
}
