package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/abiah-ai/usagegate/internal/clock"
	entitlementdomain "github.com/abiah-ai/usagegate/internal/entitlement/domain"
	ledgerdomain "github.com/abiah-ai/usagegate/internal/ledger/domain"
	obsmetrics "github.com/abiah-ai/usagegate/internal/observability/metrics"
	subscriptiondomain "github.com/abiah-ai/usagegate/internal/subscription/domain"
	tierdomain "github.com/abiah-ai/usagegate/internal/tier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log     *zap.Logger
	SubSvc  subscriptiondomain.Service
	TierSvc tierdomain.Service
	Ledger  ledgerdomain.Service
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	subSvc  subscriptiondomain.Service
	tierSvc tierdomain.Service
	ledger  ledgerdomain.Service
	clock   clock.Clock
	metrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) entitlementdomain.Service {
	return &Service{
		log:     p.Log.Named("entitlement.service"),
		subSvc:  p.SubSvc,
		tierSvc: p.TierSvc,
		ledger:  p.Ledger,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

func (s *Service) Evaluate(ctx context.Context, req entitlementdomain.Request) (entitlementdomain.Result, error) {
	subscriberID := strings.TrimSpace(req.SubscriberID)
	if subscriberID == "" || !req.Action.Valid() {
		return entitlementdomain.Result{}, subscriptiondomain.ErrInvalidSubscriber
	}

	result, err := s.evaluate(ctx, subscriberID, req)
	if err != nil {
		// Infrastructure failure must never masquerade as an entitlement
		// outcome.
		return entitlementdomain.Result{}, err
	}

	outcome := "allowed"
	if !result.Allowed {
		outcome = result.Reason
	}
	s.metrics.RecordEntitlementCheck(string(req.Action), outcome)

	return result, nil
}

func (s *Service) evaluate(ctx context.Context, subscriberID string, req entitlementdomain.Request) (entitlementdomain.Result, error) {
	sub, err := s.subSvc.GetBySubscriberID(ctx, subscriberID)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrNoSubscription) {
			return s.blockedWithoutPeriod(ctx, "", entitlementdomain.ReasonNoSubscription)
		}
		return entitlementdomain.Result{}, err
	}

	if reason := statusBlockReason(sub, s.clock); reason != "" {
		return s.blockedWithoutPeriod(ctx, sub.TierID, reason)
	}

	period, err := s.ledger.GetOrCreateCurrentPeriod(ctx, subscriberID)
	if err != nil {
		return entitlementdomain.Result{}, err
	}

	// Limits come from the period's tier snapshot, not the subscription's
	// current tier: a mid-period plan change does not reshape an open period.
	tier, err := s.tierSvc.GetByID(ctx, period.TierID)
	if err != nil {
		return entitlementdomain.Result{}, err
	}

	usage := entitlementdomain.Snapshot{
		Sessions:  period.SessionsUsed,
		Minutes:   period.MinutesUsed,
		Documents: period.DocumentsGenerated,
		Tokens:    period.TokensConsumed,
	}
	limits := limitsSnapshot(tier)
	remaining := entitlementdomain.Snapshot{
		Sessions:  tierdomain.Remaining(tier.SessionsLimit, period.SessionsUsed),
		Minutes:   tierdomain.Remaining(tier.MinutesLimit, period.MinutesUsed),
		Documents: tierdomain.Remaining(tier.DocumentsLimit, period.DocumentsGenerated),
		Tokens:    tierdomain.Remaining(tier.TokensLimit, period.TokensConsumed),
	}

	result := entitlementdomain.Result{
		Allowed:   true,
		TierID:    tier.ID,
		Usage:     usage,
		Limits:    limits,
		Remaining: remaining,
		Warnings:  []entitlementdomain.Warning{},
	}

	switch req.Action {
	case entitlementdomain.ActionStartConversation:
		s.checkConversation(&result, tier, req.Estimate)
	case entitlementdomain.ActionGenerateDocument:
		s.checkDocument(&result, tier, req.Estimate)
	}

	if !result.Allowed {
		result.UpgradeRequired = true
		result.Warnings = []entitlementdomain.Warning{}
		result.UpgradeSuggestion = s.upgradeSuggestion(ctx, tier.ID)
	}

	return result, nil
}

func (s *Service) checkConversation(result *entitlementdomain.Result, tier tierdomain.TierDefinition, estimate entitlementdomain.Estimate) {
	remaining := result.Remaining

	if !tier.UnlimitedSessions() {
		if remaining.Sessions == 0 {
			result.Allowed = false
			result.Reason = entitlementdomain.ReasonSessionsExceeded
			return
		}
		if remaining.Sessions == 1 {
			result.Warnings = append(result.Warnings, entitlementdomain.Warning{
				Code:    entitlementdomain.WarningLastSession,
				Message: "this is the last conversation session in the current billing period",
			})
		}
	}

	if !tier.UnlimitedMinutes() {
		if remaining.Minutes == 0 {
			result.Allowed = false
			result.Reason = entitlementdomain.ReasonMinutesExceeded
			return
		}
		if estimate.DurationMinutes > 0 && remaining.Minutes < estimate.DurationMinutes {
			result.Warnings = append(result.Warnings, entitlementdomain.Warning{
				Code:    entitlementdomain.WarningSessionMayTruncate,
				Message: fmt.Sprintf("only %d minutes remain; the session may be cut short", remaining.Minutes),
			})
		}
		if remaining.Minutes <= entitlementdomain.MinuteWarningThreshold {
			result.Warnings = append(result.Warnings, entitlementdomain.Warning{
				Code:    entitlementdomain.WarningApproachingMinuteLimit,
				Message: fmt.Sprintf("%d conversation minutes remain in the current billing period", remaining.Minutes),
			})
		}
	}
}

func (s *Service) checkDocument(result *entitlementdomain.Result, tier tierdomain.TierDefinition, estimate entitlementdomain.Estimate) {
	remaining := result.Remaining

	if !tier.UnlimitedDocuments() {
		if remaining.Documents == 0 {
			result.Allowed = false
			result.Reason = entitlementdomain.ReasonDocumentsExceeded
			return
		}
		if remaining.Documents == 1 {
			result.Warnings = append(result.Warnings, entitlementdomain.Warning{
				Code:    entitlementdomain.WarningLastDocument,
				Message: "this is the last document in the current billing period",
			})
		}
	}

	if !tier.UnlimitedTokens() {
		if remaining.Tokens == 0 {
			result.Allowed = false
			result.Reason = entitlementdomain.ReasonTokensExceeded
			return
		}
		if estimate.Tokens > 0 && remaining.Tokens < estimate.Tokens {
			result.Warnings = append(result.Warnings, entitlementdomain.Warning{
				Code:    entitlementdomain.WarningGenerationMayTruncate,
				Message: fmt.Sprintf("only %d tokens remain; generation may be cut short", remaining.Tokens),
			})
		}
		if remaining.Tokens <= entitlementdomain.TokenWarningThreshold {
			result.Warnings = append(result.Warnings, entitlementdomain.Warning{
				Code:    entitlementdomain.WarningApproachingTokenLimit,
				Message: fmt.Sprintf("%d generation tokens remain in the current billing period", remaining.Tokens),
			})
		}
	}
}

// blockedWithoutPeriod builds a blocking result for subscribers with no
// usable subscription. No ledger row is created for them.
func (s *Service) blockedWithoutPeriod(ctx context.Context, tierID, reason string) (entitlementdomain.Result, error) {
	result := entitlementdomain.Result{
		Allowed:         false,
		Reason:          reason,
		TierID:          tierID,
		Warnings:        []entitlementdomain.Warning{},
		UpgradeRequired: true,
	}

	if tierID != "" {
		if tier, err := s.tierSvc.GetByID(ctx, tierID); err == nil {
			result.Limits = limitsSnapshot(tier)
		}
		result.UpgradeSuggestion = s.upgradeSuggestion(ctx, tierID)
		return result, nil
	}

	// No subscription at all: suggest the entry tier.
	tiers, err := s.tierSvc.List(ctx)
	if err == nil && len(tiers) > 0 {
		entry := tiers[0]
		result.UpgradeSuggestion = &entitlementdomain.UpgradeSuggestion{
			TierID:      entry.ID,
			DisplayName: entry.DisplayName,
			Limits:      limitsSnapshot(entry),
		}
	}
	return result, nil
}

func (s *Service) upgradeSuggestion(ctx context.Context, tierID string) *entitlementdomain.UpgradeSuggestion {
	next, err := s.tierSvc.NextTier(ctx, tierID)
	if err != nil || next == nil {
		return nil
	}
	return &entitlementdomain.UpgradeSuggestion{
		TierID:      next.ID,
		DisplayName: next.DisplayName,
		Limits:      limitsSnapshot(*next),
	}
}

func statusBlockReason(sub subscriptiondomain.Subscription, clk clock.Clock) string {
	switch sub.Status {
	case subscriptiondomain.SubscriptionStatusCanceled:
		return entitlementdomain.ReasonSubscriptionCanceled
	case subscriptiondomain.SubscriptionStatusUnpaid:
		return entitlementdomain.ReasonSubscriptionUnpaid
	case subscriptiondomain.SubscriptionStatusIncompleteExpired:
		return entitlementdomain.ReasonSubscriptionExpired
	}
	if sub.TrialExpired(clk.Now()) {
		return entitlementdomain.ReasonTrialEnded
	}
	return ""
}

func limitsSnapshot(tier tierdomain.TierDefinition) entitlementdomain.Snapshot {
	return entitlementdomain.Snapshot{
		Sessions:  tier.SessionsLimit,
		Minutes:   tier.MinutesLimit,
		Documents: tier.DocumentsLimit,
		Tokens:    tier.TokensLimit,
	}
}
