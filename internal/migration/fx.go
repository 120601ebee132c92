package migration

import (
	"strings"

	"github.com/abiah-ai/usagegate/internal/config"
	ingestdomain "github.com/abiah-ai/usagegate/internal/ingest/domain"
	ledgerdomain "github.com/abiah-ai/usagegate/internal/ledger/domain"
	"github.com/abiah-ai/usagegate/internal/seed"
	subscriptiondomain "github.com/abiah-ai/usagegate/internal/subscription/domain"
	tierdomain "github.com/abiah-ai/usagegate/internal/tier/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if strings.EqualFold(cfg.DBType, "sqlite") {
			// The versioned migrations are postgres SQL; embedded sqlite is
			// for local development and gets the schema straight from the
			// models.
			if err := conn.AutoMigrate(
				&tierdomain.TierDefinition{},
				&subscriptiondomain.Subscription{},
				&ledgerdomain.UsagePeriod{},
				&ledgerdomain.ConversationUsageDetail{},
				&ingestdomain.ConversationRegistration{},
				&ingestdomain.WebhookEvent{},
				&ingestdomain.ConversationTranscript{},
			); err != nil {
				return err
			}
			return seed.EnsureDefaultTiers(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
		return seed.EnsureDefaultTiers(conn)
	}),
)
