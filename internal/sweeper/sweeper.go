package sweeper

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"phone-auth-service/internal/config"
	"phone-auth-service/internal/repository"
	"phone-auth-service/internal/util"
)

// Sweeper periodically removes settled challenges past their retention
// window and sessions whose refresh lifetime has lapsed. It backstops
// the lazy expiry done on the read path.
type Sweeper struct {
	challenges repository.ChallengeRepository
	sessions   repository.SessionRepository
	interval   time.Duration
	retention  time.Duration
	now        func() time.Time
}

func New(challenges repository.ChallengeRepository, sessions repository.SessionRepository,
	sweepCfg config.SweepConfig, retention time.Duration) *Sweeper {
	interval := sweepCfg.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if retention <= 0 {
		retention = time.Hour
	}
	return &Sweeper{
		challenges: challenges,
		sessions:   sessions,
		interval:   interval,
		retention:  retention,
		now:        time.Now,
	}
}

// Run blocks until ctx is cancelled, sweeping on every tick.
func (s *Sweeper) Run(ctx context.Context) {
	util.Info("Sweeper started",
		util.Duration("interval", s.interval),
		util.Duration("retention", s.retention))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			util.Info("Sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce purges both tables in parallel. Errors are logged and
// swallowed so one bad pass never stops the loop.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	start := s.now().UTC()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		purged, err := s.challenges.PurgeDeadBefore(gctx, start.Add(-s.retention))
		if err != nil {
			util.Warn("Challenge purge failed", util.ErrorField(err))
			return nil
		}
		if purged > 0 {
			util.Info("Purged settled challenges", util.Int("count", purged))
		}
		return nil
	})

	g.Go(func() error {
		purged, err := s.sessions.PurgeExpiredBefore(gctx, start)
		if err != nil {
			util.Warn("Session purge failed", util.ErrorField(err))
			return nil
		}
		if purged > 0 {
			util.Info("Purged expired sessions", util.Int("count", purged))
		}
		return nil
	})

	_ = g.Wait()
}
