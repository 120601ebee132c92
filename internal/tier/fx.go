package tier

import (
	"github.com/abiah-ai/usagegate/internal/tier/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tier.service",
	fx.Provide(service.NewService),
)
