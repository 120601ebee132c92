package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	entitlementdomain "github.com/abiah-ai/usagegate/internal/entitlement/domain"
	ledgerdomain "github.com/abiah-ai/usagegate/internal/ledger/domain"
	tierdomain "github.com/abiah-ai/usagegate/internal/tier/domain"
	"github.com/gin-gonic/gin"
)

type currentUsageResponse struct {
	SubscriberID string                     `json:"subscriber_id"`
	TierID       string                     `json:"tier_id"`
	PeriodStart  string                     `json:"period_start"`
	PeriodEnd    string                     `json:"period_end"`
	Usage        entitlementdomain.Snapshot `json:"usage"`
	Limits       entitlementdomain.Snapshot `json:"limits"`
	Remaining    entitlementdomain.Snapshot `json:"remaining"`
}

func (s *Server) GetCurrentUsage(c *gin.Context) {
	subscriberID := strings.TrimSpace(c.Query("user_id"))
	if subscriberID == "" {
		AbortWithError(c, newValidationError("user_id", "invalid_subscriber", "user_id is required"))
		return
	}
	c.Set("subscriber_id", subscriberID)

	ctx := c.Request.Context()
	period, err := s.ledgerSvc.GetOrCreateCurrentPeriod(ctx, subscriberID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	tier, err := s.tierSvc.GetByID(ctx, period.TierID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, currentUsageResponse{
		SubscriberID: subscriberID,
		TierID:       period.TierID,
		PeriodStart:  period.PeriodStart.UTC().Format(time.RFC3339),
		PeriodEnd:    period.PeriodEnd.UTC().Format(time.RFC3339),
		Usage: entitlementdomain.Snapshot{
			Sessions:  period.SessionsUsed,
			Minutes:   period.MinutesUsed,
			Documents: period.DocumentsGenerated,
			Tokens:    period.TokensConsumed,
		},
		Limits: entitlementdomain.Snapshot{
			Sessions:  tier.SessionsLimit,
			Minutes:   tier.MinutesLimit,
			Documents: tier.DocumentsLimit,
			Tokens:    tier.TokensLimit,
		},
		Remaining: entitlementdomain.Snapshot{
			Sessions:  tierdomain.Remaining(tier.SessionsLimit, period.SessionsUsed),
			Minutes:   tierdomain.Remaining(tier.MinutesLimit, period.MinutesUsed),
			Documents: tierdomain.Remaining(tier.DocumentsLimit, period.DocumentsGenerated),
			Tokens:    tierdomain.Remaining(tier.TokensLimit, period.TokensConsumed),
		},
	})
}

func (s *Server) ListUsagePeriods(c *gin.Context) {
	subscriberID := strings.TrimSpace(c.Query("user_id"))
	if subscriberID == "" {
		AbortWithError(c, newValidationError("user_id", "invalid_subscriber", "user_id is required"))
		return
	}
	c.Set("subscriber_id", subscriberID)

	pageSize := 50
	if raw := strings.TrimSpace(c.Query("page_size")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 250 {
			AbortWithError(c, newValidationError("page_size", "invalid_page_size", "page_size must be between 1 and 250"))
			return
		}
		pageSize = parsed
	}

	resp, err := s.ledgerSvc.ListPeriods(c.Request.Context(), ledgerdomain.ListPeriodsRequest{
		SubscriberID: subscriberID,
		PageToken:    strings.TrimSpace(c.Query("page_token")),
		PageSize:     int32(pageSize),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListUsageConversations(c *gin.Context) {
	subscriberID := strings.TrimSpace(c.Query("user_id"))
	if subscriberID == "" {
		AbortWithError(c, newValidationError("user_id", "invalid_subscriber", "user_id is required"))
		return
	}
	c.Set("subscriber_id", subscriberID)

	details, err := s.ledgerSvc.ListConversations(c.Request.Context(), subscriberID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": details})
}
