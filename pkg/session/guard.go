// Package session guards the shared authenticated marketplace session.
// Before a privileged operation the worker asks the guard to validate the
// session; the guard probes, caches the verdict briefly in Redis, and on
// invalidity attempts exactly one re-authentication.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/pricekit/repricer/pkg/marketplace"
	"github.com/pricekit/repricer/pkg/metrics"
	"github.com/pricekit/repricer/pkg/redis"
	"github.com/pricekit/repricer/pkg/resilience"
	"github.com/pricekit/repricer/pkg/tracing"
)

var (
	// ErrSessionInvalid is returned when the session could not be validated
	// and the single re-authentication attempt failed.
	ErrSessionInvalid = errors.New("session invalid and re-authentication failed")
)

const (
	// DefaultValidityTTL is how long a positive probe result is trusted.
	DefaultValidityTTL = 60 * time.Second

	// validityCacheKey marks a recently validated session in Redis.
	validityCacheKey = "repricer:session:valid"
)

// Config holds session guard configuration
type Config struct {
	Credentials marketplace.Credentials
	ValidityTTL time.Duration
}

// Guard validates and re-establishes the marketplace session. All probe and
// login traffic is serialized: the session is a single shared resource and
// only the guard mutates its authentication state.
type Guard struct {
	session  marketplace.Session
	executor *resilience.Executor
	cache    *redis.Client
	cfg      Config
	logger   ectologger.Logger

	mu sync.Mutex
}

// NewGuard creates a new session guard. cache may be nil; the guard then
// probes on every call.
func NewGuard(cfg Config, session marketplace.Session, executor *resilience.Executor, cache *redis.Client, logger ectologger.Logger) *Guard {
	if cfg.ValidityTTL <= 0 {
		cfg.ValidityTTL = DefaultValidityTTL
	}
	return &Guard{
		session:  session,
		executor: executor,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
	}
}

// EnsureValid confirms the session is usable for a privileged operation. On
// an invalid session it attempts exactly one re-authentication through the
// retry executor. A non-nil return means updates must not be issued.
func (g *Guard) EnsureValid(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "SessionGuard.EnsureValid")
	defer span.End()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cachedValid(ctx) {
		return nil
	}

	valid, err := resilience.ExecuteValue(ctx, g.executor, "session.probe", func(ctx context.Context) (bool, error) {
		return g.session.IsAuthenticated(ctx)
	})
	if err != nil {
		if failure, ok := resilience.AsFailure(err); ok && failure.Kind == resilience.FailureCancelled {
			return err
		}
		return fmt.Errorf("session probe failed: %w", err)
	}
	if valid {
		g.markValid(ctx)
		return nil
	}

	g.logger.WithContext(ctx).Warnf("Session invalid, attempting re-authentication")

	err = g.executor.Execute(ctx, "session.login", func(ctx context.Context) error {
		return g.session.Login(ctx, g.cfg.Credentials)
	})
	if err != nil {
		metrics.SessionRefreshes.WithLabelValues("failure").Inc()
		if failure, ok := resilience.AsFailure(err); ok && failure.Kind == resilience.FailureCancelled {
			return err
		}
		g.logger.WithContext(ctx).WithError(err).Errorf("Re-authentication failed")
		return fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}

	metrics.SessionRefreshes.WithLabelValues("success").Inc()
	g.logger.WithContext(ctx).Infof("Session re-established")
	g.markValid(ctx)
	return nil
}

// Invalidate drops the cached validity verdict. Called when an update fails
// with an authentication error despite a recent positive probe.
func (g *Guard) Invalidate(ctx context.Context) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Del(ctx, validityCacheKey); err != nil {
		g.logger.WithContext(ctx).WithError(err).Warnf("Failed to drop session validity cache")
	}
}

func (g *Guard) cachedValid(ctx context.Context) bool {
	if g.cache == nil {
		return false
	}
	exists, err := g.cache.Exists(ctx, validityCacheKey)
	if err != nil {
		g.logger.WithContext(ctx).WithError(err).Debugf("Session validity cache unavailable")
		return false
	}
	return exists
}

func (g *Guard) markValid(ctx context.Context) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Set(ctx, validityCacheKey, "1", g.cfg.ValidityTTL); err != nil {
		g.logger.WithContext(ctx).WithError(err).Debugf("Failed to cache session validity")
	}
}
