package server

import (
	"net/http"
	"strings"

	entitlementdomain "github.com/abiah-ai/usagegate/internal/entitlement/domain"
	"github.com/abiah-ai/usagegate/internal/observability/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type checkEntitlementRequest struct {
	SubscriberID    string `json:"user_id" binding:"required"`
	ActionType      string `json:"action_type" binding:"required"`
	DurationMinutes int64  `json:"estimated_duration_minutes"`
	Tokens          int64  `json:"estimated_tokens"`
	DocumentType    string `json:"document_type"`
}

// CheckEntitlement always answers 200 with a structured decision; HTTP
// errors are reserved for malformed requests and infrastructure failure.
func (s *Server) CheckEntitlement(c *gin.Context) {
	var req checkEntitlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	subscriberID := strings.TrimSpace(req.SubscriberID)
	action := entitlementdomain.Action(req.ActionType)
	if subscriberID == "" || !action.Valid() {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.Set("subscriber_id", subscriberID)

	ctx := c.Request.Context()
	if s.checkLimiter.Enabled() {
		allowed, err := s.checkLimiter.Allow(ctx, subscriberID)
		if err != nil {
			// Fail open: a redis outage must not block legitimate checks.
			logger.FromContext(ctx).Warn("entitlement check rate limit failed", zap.Error(err))
		} else if !allowed {
			s.obsMetrics.RecordEntitlementCheck(string(action), "rate_limited")
			c.JSON(http.StatusOK, entitlementdomain.Result{
				Allowed:  false,
				Reason:   entitlementdomain.ReasonRateLimitExceeded,
				Warnings: []entitlementdomain.Warning{},
			})
			return
		}
	}

	result, err := s.entitlementSvc.Evaluate(ctx, entitlementdomain.Request{
		SubscriberID: subscriberID,
		Action:       action,
		Estimate: entitlementdomain.Estimate{
			DurationMinutes: req.DurationMinutes,
			Tokens:          req.Tokens,
		},
		DocumentType: req.DocumentType,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
