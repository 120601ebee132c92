package ingest

import (
	"github.com/abiah-ai/usagegate/internal/ingest/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ingest",
	fx.Provide(
		service.NewKeywordClassifier,
		service.NewService,
	),
)
