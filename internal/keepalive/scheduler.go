// Package keepalive keeps refresh tokens alive by periodically exercising
// the refresh path for every connected integration. The provider expires a
// refresh token that goes unused for too long, so the sweep refreshes any
// token whose access credential has less than the configured threshold of
// lifetime left. A failed sweep is logged and retried on the next tick; it
// never takes the process down.
package keepalive

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"qbo-bridge/internal/common/logging"
	"qbo-bridge/internal/tokenstore"
)

// Refresher is the subset of the refresh coordinator the sweep needs.
type Refresher interface {
	EnsureFresh(ctx context.Context, integrationID string, minRemaining time.Duration) (*tokenstore.TokenRecord, error)
}

// Lister enumerates integrations that hold credentials.
type Lister interface {
	ListConnected(ctx context.Context) ([]string, error)
}

// Config controls sweep cadence.
type Config struct {
	// Interval is the time between sweeps.
	Interval time.Duration
	// Threshold is the minimum remaining access-token lifetime a sweep
	// guarantees. Must exceed Interval or tokens can expire between sweeps.
	Threshold time.Duration
	// MaxJitter spreads the first sweep over [0, MaxJitter) so that several
	// processes starting together do not sweep in lockstep.
	MaxJitter time.Duration
}

// Stats are cumulative sweep counters.
type Stats struct {
	Sweeps   int64
	Checked  int64
	Failures int64
}

// Scheduler runs the keepalive sweep on a fixed interval.
type Scheduler struct {
	store     Lister
	refresher Refresher
	cfg       Config
	cron      *cron.Cron
	logger    logging.Logger

	sweeps   atomic.Int64
	checked  atomic.Int64
	failures atomic.Int64
}

// NewScheduler creates a Scheduler. It does not start sweeping until Start.
func NewScheduler(store Lister, refresher Refresher, cfg Config, logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Scheduler{
		store:     store,
		refresher: refresher,
		cfg:       cfg,
		cron:      cron.New(),
		logger:    logger,
	}
}

// Start begins sweeping after a random startup delay. It returns immediately;
// sweeps run on the cron's goroutine until Stop or ctx cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.cfg.Interval)
	if _, err := s.cron.AddFunc(spec, func() { s.Sweep(ctx) }); err != nil {
		return err
	}

	go func() {
		delay := s.startupDelay()
		s.logger.Info("keepalive scheduler starting",
			logging.Duration("interval", s.cfg.Interval),
			logging.Duration("threshold", s.cfg.Threshold),
			logging.Duration("startup_delay", delay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		s.Sweep(ctx)
		s.cron.Start()

		<-ctx.Done()
		s.cron.Stop()
	}()

	return nil
}

// Stop halts future sweeps. A sweep already in progress finishes.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// Sweep runs one pass over all connected integrations. Individual failures
// are counted and logged but never propagated; the next tick retries.
func (s *Scheduler) Sweep(ctx context.Context) {
	s.sweeps.Add(1)

	ids, err := s.store.ListConnected(ctx)
	if err != nil {
		s.failures.Add(1)
		s.logger.Warn("keepalive sweep could not list integrations", logging.Err(err))
		return
	}

	for _, id := range ids {
		s.checked.Add(1)
		callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		_, err := s.refresher.EnsureFresh(callCtx, id, s.cfg.Threshold)
		cancel()
		if err != nil {
			s.failures.Add(1)
			s.logger.Warn("keepalive refresh failed",
				logging.String("integration_id", id),
				logging.Err(err))
		}
	}

	s.logger.Debug("keepalive sweep complete",
		logging.Int("integrations", len(ids)))
}

// Snapshot returns the cumulative counters.
func (s *Scheduler) Snapshot() Stats {
	return Stats{
		Sweeps:   s.sweeps.Load(),
		Checked:  s.checked.Load(),
		Failures: s.failures.Load(),
	}
}

func (s *Scheduler) startupDelay() time.Duration {
	if s.cfg.MaxJitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(s.cfg.MaxJitter)))
}
