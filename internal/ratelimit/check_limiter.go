package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/abiah-ai/usagegate/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyEntitlementCheck = "entitlement:check:%s"

// CheckLimiter throttles entitlement checks per subscriber. A nil limiter
// (rate limiting disabled) allows everything; redis errors fail open so a
// redis outage never blocks legitimate checks.
type CheckLimiter struct {
	enabled bool

	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewCheckLimiter(cfg config.Config) (*CheckLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.CheckRate <= 0 || limitCfg.CheckBurst <= 0 {
		return nil, errors.New("entitlement check rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &CheckLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.CheckRate,
		burst:   limitCfg.CheckBurst,
	}, nil
}

func (l *CheckLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *CheckLimiter) Allow(ctx context.Context, subscriberID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	key := fmt.Sprintf(keyEntitlementCheck, strings.TrimSpace(subscriberID))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
