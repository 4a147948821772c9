package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/credgate/credgate/internal/config"
)

const keyAgentRequests = "gateway:rpm:agent:%s"

// RequestLimiter enforces per-agent requests-per-minute limits from the
// effective policy. A nil limiter (rate limiting disabled) allows
// everything.
type RequestLimiter struct {
	log     *zap.Logger
	bucket  *TokenBucket
	locker  *Locker
	enabled bool
}

func NewRequestLimiter(cfg *config.Config, log *zap.Logger) (*RequestLimiter, error) {
	if !cfg.RateLimit.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.RateLimit.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RateLimit.RedisPassword),
		DB:       cfg.RateLimit.RedisDB,
	})

	return &RequestLimiter{
		log:     log.Named("ratelimit"),
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		enabled: true,
	}, nil
}

func (l *RequestLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowAgent takes one request slot for the agent under an rpm ceiling.
// Redis being unreachable fails open: a broken limiter must not take the
// gateway down with it.
func (l *RequestLimiter) AllowAgent(ctx context.Context, agentID snowflake.ID, rpm int) (*Result, error) {
	if !l.Enabled() || rpm <= 0 {
		return &Result{Allowed: true}, nil
	}

	key := fmt.Sprintf(keyAgentRequests, agentID.String())
	result, err := l.bucket.Allow(ctx, key, float64(rpm)/60.0, rpm)
	if err != nil {
		l.log.Warn("rate limiter unavailable, allowing request", zap.Error(err))
		return &Result{Allowed: true}, nil
	}

	return result, nil
}

// TryLock exposes the distributed locker for background workers.
func (l *RequestLimiter) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, key, ttl)
}

// Unlock releases a lock taken with TryLock.
func (l *RequestLimiter) Unlock(ctx context.Context, key, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, key, token)
}
