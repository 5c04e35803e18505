package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/pricekit/repricer/pkg/models"
	"github.com/pricekit/repricer/pkg/reconcile"
	"github.com/pricekit/repricer/pkg/redis"
	"github.com/pricekit/repricer/pkg/tracing"
)

var (
	// ErrSchedulerAlreadyRunning is returned when trying to start an already running scheduler
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")
)

const (
	// DefaultInterval is the default gap between automatic reconciliation runs
	DefaultInterval = 6 * time.Hour

	// DefaultLockTTL is the default TTL for the scheduling lock
	DefaultLockTTL = 60 * time.Second

	// LockKey guards run kickoff so only one instance schedules at a time
	LockKey = "scheduler:run"
)

// RunStarter launches reconciliation runs. Satisfied by reconcile.Manager.
type RunStarter interface {
	StartRun(ctx context.Context, settings models.ReconciliationSettings) (*models.ReconciliationRun, error)
}

// SettingsSource loads the stored settings a scheduled run should use.
type SettingsSource interface {
	Get(ctx context.Context) (models.ReconciliationSettings, error)
}

// Config holds configuration for the scheduler
type Config struct {
	// Enabled turns automatic runs on
	Enabled bool

	// Interval is how often to kick off a reconciliation run
	Interval time.Duration

	// LockTTL is how long to hold the scheduling lock
	LockTTL time.Duration
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Interval: DefaultInterval,
		LockTTL:  DefaultLockTTL,
	}
}

// Scheduler kicks off reconciliation runs on a fixed interval using the
// stored settings. A Redis lock keeps concurrent instances from double
// starting; an instance that loses the lock simply waits for the next tick.
type Scheduler struct {
	starter  RunStarter
	settings SettingsSource
	locker   *redis.Locker
	config   Config
	logger   ectologger.Logger

	// Coordination
	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(
	starter RunStarter,
	settings SettingsSource,
	locker *redis.Locker,
	config Config,
	logger ectologger.Logger,
) *Scheduler {
	// Apply defaults
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}

	return &Scheduler{
		starter:  starter,
		settings: settings,
		locker:   locker,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	s.logger.WithContext(ctx).Infof("Starting scheduler: interval=%s", s.config.Interval)

	go s.tickLoop(ctx)

	return nil
}

// Stop stops the scheduler gracefully
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.WithContext(ctx).Info("Stopping scheduler...")

	close(s.stopCh)

	select {
	case <-s.stoppedC:
		s.logger.WithContext(ctx).Info("Scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out")
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// tickLoop waits out the interval between runs. The first run happens one
// full interval after startup so a crash-looping process does not hammer
// the marketplace.
func (s *Scheduler) tickLoop(ctx context.Context) {
	defer close(s.stoppedC)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.logger.WithContext(ctx).Debug("Scheduler tick loop stopping")
			return
		case <-ticker.C:
			s.kickOffRun(ctx)
		}
	}
}

// kickOffRun starts a single scheduled reconciliation run
func (s *Scheduler) kickOffRun(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.kickOffRun")
	defer span.End()

	lock, err := s.locker.Acquire(ctx, LockKey, s.config.LockTTL)
	if err != nil {
		if errors.Is(err, redis.ErrLockNotAcquired) {
			s.logger.WithContext(ctx).Debug("Another instance is scheduling, skipping")
			return
		}
		s.logger.WithContext(ctx).WithError(err).Error("Failed to acquire scheduling lock")
		return
	}
	defer lock.Release(ctx)

	settings, err := s.settings.Get(ctx)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to load settings for scheduled run")
		return
	}

	run, err := s.starter.StartRun(ctx, settings)
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrRunInProgress):
			s.logger.WithContext(ctx).Info("Previous run still in progress, skipping scheduled run")
		case errors.Is(err, reconcile.ErrEmptyCatalog), errors.Is(err, reconcile.ErrEmptyWorkingSet):
			s.logger.WithContext(ctx).Warn("No products to reconcile, skipping scheduled run")
		default:
			s.logger.WithContext(ctx).WithError(err).Error("Failed to start scheduled run")
		}
		return
	}

	s.logger.WithContext(ctx).Infof("Scheduled run %s started over %d products", run.ID, run.Total)
}
