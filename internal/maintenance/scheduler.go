// Package maintenance runs the recurring marketplace housekeeping: strike and
// restriction expiry, escrow auto-release and the monthly token allowance.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aimerfeng/FinderMeister/internal/cache"
	"github.com/aimerfeng/FinderMeister/internal/contracts"
	"github.com/aimerfeng/FinderMeister/internal/ledger"
	"github.com/aimerfeng/FinderMeister/internal/logging"
	"github.com/aimerfeng/FinderMeister/internal/monitoring"
	"github.com/aimerfeng/FinderMeister/internal/strikes"
	"github.com/rs/zerolog"
)

const lockKey = "findermeister:maintenance"

// ErrAlreadyRunning is returned by Start on a running scheduler
var ErrAlreadyRunning = errors.New("scheduler already running")

// StrikeCleaner expires strikes and restrictions
type StrikeCleaner interface {
	CleanupExpired(ctx context.Context, now time.Time) (*strikes.CleanupResult, error)
}

// EscrowReleaser releases contracts whose auto-release date has passed
type EscrowReleaser interface {
	ReleaseDue(ctx context.Context, now time.Time) (*contracts.ReleaseDueResult, error)
}

// TokenDistributor credits the monthly allowance
type TokenDistributor interface {
	DistributeMonthly(ctx context.Context, now time.Time) (*ledger.DistributionResult, error)
}

// Locker hands out a cluster-wide lock. *cache.Redis satisfies it.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (*cache.Lock, error)
}

// RunResult is the outcome of one maintenance pass
type RunResult struct {
	StartedAt    time.Time                   `json:"started_at"`
	Duration     string                      `json:"duration"`
	Skipped      bool                        `json:"skipped,omitempty"`
	Cleanup      *strikes.CleanupResult      `json:"cleanup,omitempty"`
	Release      *contracts.ReleaseDueResult `json:"release,omitempty"`
	Distribution *ledger.DistributionResult  `json:"distribution,omitempty"`
	Errors       []string                    `json:"errors,omitempty"`
}

// Status is the current state of the scheduler
type Status struct {
	Running     bool       `json:"running"`
	Interval    string     `json:"interval"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	LastResult  *RunResult `json:"last_result,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	Distributed bool       `json:"distributed_lock"`
}

// Scheduler runs maintenance on a fixed interval
type Scheduler struct {
	strikes  StrikeCleaner
	escrow   EscrowReleaser
	tokens   TokenDistributor
	locker   Locker
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	runMu      sync.Mutex
	running    bool
	lastRun    time.Time
	lastResult *RunResult
}

// NewScheduler creates a scheduler. A nil locker runs every tick locally.
func NewScheduler(sc StrikeCleaner, er EscrowReleaser, td TokenDistributor, locker Locker, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		strikes:  sc,
		escrow:   er,
		tokens:   td,
		locker:   locker,
		interval: interval,
		now:      time.Now,
		logger:   logging.NewLogger("maintenance"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the loop. The first pass runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	stop := make(chan struct{})
	s.stopCh = stop
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx, stop)

	s.logger.Info().Dur("interval", s.interval).Msg("Maintenance scheduler started")
	return nil
}

// Stop halts the loop and waits for an in-flight pass
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info().Msg("Maintenance scheduler stopped")
}

// IsRunning reports whether the loop is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context, stop chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			// a later Start owns the flag once stopCh has been replaced
			s.mu.Lock()
			if s.stopCh == stop {
				s.running = false
			}
			s.mu.Unlock()
			s.logger.Info().Msg("Maintenance scheduler stopped by context")
			return
		case <-stop:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunNow(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Maintenance pass failed")
	}
}

// RunNow performs one pass immediately. When another replica holds the lock
// the pass is skipped and the result says so.
func (s *Scheduler) RunNow(ctx context.Context) (*RunResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := s.now()
	result := &RunResult{StartedAt: start}

	if s.locker != nil {
		lock, err := s.locker.AcquireLock(ctx, lockKey, s.lockTTL())
		if errors.Is(err, cache.ErrLockHeld) {
			result.Skipped = true
			result.Duration = "0s"
			monitoring.RecordMaintenanceRun("skipped", 0)
			return result, nil
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("Maintenance lock unavailable, running locally")
		} else {
			defer func() {
				if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
					s.logger.Warn().Err(err).Msg("Failed to release maintenance lock")
				}
			}()
		}
	}

	if s.strikes != nil {
		cleanup, err := s.strikes.CleanupExpired(ctx, start)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("cleanup: %v", err))
		}
		result.Cleanup = cleanup
	}
	if s.escrow != nil {
		release, err := s.escrow.ReleaseDue(ctx, start)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("release: %v", err))
		}
		result.Release = release
	}
	if s.tokens != nil {
		dist, err := s.tokens.DistributeMonthly(ctx, start)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("distribution: %v", err))
		}
		result.Distribution = dist
	}

	elapsed := s.now().Sub(start)
	result.Duration = elapsed.String()

	s.mu.Lock()
	s.lastRun = start
	s.lastResult = result
	s.mu.Unlock()

	status := "success"
	if len(result.Errors) > 0 {
		status = "error"
	}
	monitoring.RecordMaintenanceRun(status, elapsed)

	if status == "error" {
		s.logger.Warn().Strs("errors", result.Errors).Dur("duration", elapsed).Msg("Maintenance pass finished with errors")
		return result, fmt.Errorf("maintenance pass had %d failing jobs", len(result.Errors))
	}
	s.logger.Info().Dur("duration", elapsed).Msg("Maintenance pass finished")
	return result, nil
}

// lockTTL keeps the lock shorter than the interval so a crashed holder does
// not block the next tick
func (s *Scheduler) lockTTL() time.Duration {
	ttl := s.interval / 2
	if ttl > 10*time.Minute {
		ttl = 10 * time.Minute
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// GetStatus returns the current status of the scheduler
func (s *Scheduler) GetStatus() *Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := &Status{
		Running:     s.running,
		Interval:    s.interval.String(),
		Distributed: s.locker != nil,
	}
	if !s.lastRun.IsZero() {
		last := s.lastRun
		status.LastRun = &last
		if s.running {
			next := last.Add(s.interval)
			status.NextRun = &next
		}
	}
	status.LastResult = s.lastResult
	return status
}
