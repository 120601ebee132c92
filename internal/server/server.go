package server

import (
	"context"
	"net/http"
	"time"

	"github.com/abiah-ai/usagegate/internal/config"
	"github.com/abiah-ai/usagegate/internal/entitlement"
	entitlementdomain "github.com/abiah-ai/usagegate/internal/entitlement/domain"
	"github.com/abiah-ai/usagegate/internal/ingest"
	ingestdomain "github.com/abiah-ai/usagegate/internal/ingest/domain"
	"github.com/abiah-ai/usagegate/internal/ledger"
	ledgerdomain "github.com/abiah-ai/usagegate/internal/ledger/domain"
	"github.com/abiah-ai/usagegate/internal/liveevents"
	"github.com/abiah-ai/usagegate/internal/observability"
	obsmiddleware "github.com/abiah-ai/usagegate/internal/observability/logger"
	obsmetrics "github.com/abiah-ai/usagegate/internal/observability/metrics"
	obstracing "github.com/abiah-ai/usagegate/internal/observability/tracing"
	"github.com/abiah-ai/usagegate/internal/ratelimit"
	"github.com/abiah-ai/usagegate/internal/subscription"
	subscriptiondomain "github.com/abiah-ai/usagegate/internal/subscription/domain"
	"github.com/abiah-ai/usagegate/internal/tier"
	tierdomain "github.com/abiah-ai/usagegate/internal/tier/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	tier.Module,
	subscription.Module,
	ledger.Module,
	entitlement.Module,
	liveevents.Module,
	ingest.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics, registry *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics, registry *prometheus.Registry) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics, registry)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config

	tierSvc         tierdomain.Service
	subscriptionSvc subscriptiondomain.Service
	ledgerSvc       ledgerdomain.Service
	entitlementSvc  entitlementdomain.Service
	ingestSvc       ingestdomain.Service
	liveUsageEvents *liveevents.Hub
	checkLimiter    *ratelimit.CheckLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	TierSvc         tierdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	LedgerSvc       ledgerdomain.Service
	EntitlementSvc  entitlementdomain.Service
	IngestSvc       ingestdomain.Service
	LiveUsageEvents *liveevents.Hub         `optional:"true"`
	CheckLimiter    *ratelimit.CheckLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics     `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine: p.Gin,
		cfg:    p.Cfg,

		tierSvc:         p.TierSvc,
		subscriptionSvc: p.SubscriptionSvc,
		ledgerSvc:       p.LedgerSvc,
		entitlementSvc:  p.EntitlementSvc,
		ingestSvc:       p.IngestSvc,
		liveUsageEvents: p.LiveUsageEvents,
		checkLimiter:    p.CheckLimiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Webhooks --------
	api.POST("/webhooks/conversation", s.HandleConversationWebhook)
	api.OPTIONS("/webhooks/conversation", s.ConversationWebhookPreflight)

	// -------- Entitlements --------
	api.POST("/entitlements/check", s.CheckEntitlement)

	// -------- Conversations --------
	api.POST("/conversations", s.RegisterConversation)

	// -------- Usage --------
	api.GET("/usage/current", s.GetCurrentUsage)
	api.GET("/usage/periods", s.ListUsagePeriods)
	api.GET("/usage/conversations", s.ListUsageConversations)
	api.GET("/usage/live", s.StreamUsageLiveEvents)

	// -------- Subscriptions --------
	api.PUT("/subscriptions/:subscriberId", s.UpsertSubscription)

	// -------- Tiers --------
	api.GET("/tiers", s.ListTiers)
}
