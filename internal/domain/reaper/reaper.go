// Package reaper finalizes races abandoned in a non-terminal state and
// purges old finished races.
package reaper

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/typerace/internal/domain/model"
	"github.com/okian/typerace/pkg/logger"
	"github.com/okian/typerace/pkg/metrics"
)

// Store is the slice of the race store the reaper needs.
type Store interface {
	StaleRaces(ctx context.Context, status model.RaceStatus, cutoff time.Time) ([]model.Race, error)
	UpdateRaceStatus(ctx context.Context, raceID string, status model.RaceStatus, at time.Time) error
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// BotStopper stops the bots of a race.
type BotStopper interface {
	StopRace(raceID string) int
}

// Evicter drops a race from the in-memory cache.
type Evicter interface {
	RemoveRace(raceID string) bool
}

// Timeouts are the maximum ages per status. Racing races age from their
// start, the rest from creation.
type Timeouts struct {
	Waiting   time.Duration
	Countdown time.Duration
	Racing    time.Duration
	Retention time.Duration // how long finished races are kept
}

// DefaultTimeouts returns the production timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Waiting:   30 * time.Minute,
		Countdown: 2 * time.Minute,
		Racing:    15 * time.Minute,
		Retention: 24 * time.Hour,
	}
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Finalized int
	Purged    int
	Failures  int
}

// Reaper periodically sweeps stale races.
type Reaper struct {
	store        Store
	bots         BotStopper
	cache        Evicter
	timeouts     Timeouts
	interval     time.Duration
	initialDelay time.Duration
	now          func() time.Time
	logger       logger.Logger

	running atomic.Bool

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// New builds a Reaper over store.
func New(store Store, opts ...Option) *Reaper {
	r := &Reaper{
		store:        store,
		timeouts:     DefaultTimeouts(),
		interval:     60 * time.Second,
		initialDelay: 5 * time.Second,
		now:          time.Now,
		logger:       logger.Get().Named("reaper"),
		stopChan:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sweep finalizes every race past its status timeout and purges finished
// races past retention. A failure on one race is logged and counted and the
// sweep moves on. Overlapping sweeps return ErrSweepInProgress.
func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	if !r.running.CompareAndSwap(false, true) {
		return SweepResult{}, ErrSweepInProgress
	}
	defer r.running.Store(false)

	now := r.now()
	var res SweepResult
	for _, st := range []struct {
		status  model.RaceStatus
		timeout time.Duration
	}{
		{model.StatusWaiting, r.timeouts.Waiting},
		{model.StatusCountdown, r.timeouts.Countdown},
		{model.StatusRacing, r.timeouts.Racing},
	} {
		races, err := r.store.StaleRaces(ctx, st.status, now.Add(-st.timeout))
		if err != nil {
			res.Failures++
			r.logger.Error(ctx, "list stale races failed",
				logger.String("status", string(st.status)), logger.Error(err))
			continue
		}
		for _, race := range races {
			if err := r.finalize(ctx, race, now); err != nil {
				res.Failures++
				r.logger.Error(ctx, "finalize stale race failed",
					logger.String("race_id", race.ID),
					logger.String("status", string(race.Status)),
					logger.Error(err))
				continue
			}
			res.Finalized++
		}
	}

	purged, err := r.store.DeleteFinishedBefore(ctx, now.Add(-r.timeouts.Retention))
	if err != nil {
		res.Failures++
		r.logger.Error(ctx, "purge finished races failed", logger.Error(err))
	}
	res.Purged = purged

	metrics.RecordReaperSweep(res.Finalized, res.Purged, res.Failures)
	if res.Finalized+res.Purged+res.Failures > 0 {
		r.logger.Info(ctx, "reaper sweep finished",
			logger.Int("finalized", res.Finalized),
			logger.Int("purged", res.Purged),
			logger.Int("failures", res.Failures))
	}
	return res, nil
}

func (r *Reaper) finalize(ctx context.Context, race model.Race, now time.Time) error {
	if err := r.store.UpdateRaceStatus(ctx, race.ID, model.StatusFinished, now); err != nil {
		return fmt.Errorf("mark finished: %w", err)
	}
	if r.bots != nil {
		r.bots.StopRace(race.ID)
	}
	if r.cache != nil {
		r.cache.RemoveRace(race.ID)
	}
	r.logger.Debug(ctx, "stale race finalized",
		logger.String("race_id", race.ID),
		logger.String("was", string(race.Status)))
	return nil
}

// Run sweeps once after the initial delay and then every interval until ctx
// is done or Stop is called.
func (r *Reaper) Run(ctx context.Context) error {
	first := time.NewTimer(r.initialDelay)
	defer first.Stop()
	var ticker *time.Ticker
	var tick <-chan time.Time
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.stopChan:
			return nil
		case <-first.C:
			ticker = time.NewTicker(r.interval)
			tick = ticker.C
			r.sweepAndLog(ctx)
		case <-tick:
			r.sweepAndLog(ctx)
		}
	}
}

func (r *Reaper) sweepAndLog(ctx context.Context) {
	if _, err := r.Sweep(ctx); err != nil {
		r.logger.Warn(ctx, "reaper sweep skipped", logger.Error(err))
	}
}

// Start runs the reaper in the background.
func (r *Reaper) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = r.Run(ctx)
	}()
	r.logger.Info(ctx, "reaper started",
		logger.Duration("interval", r.interval),
		logger.Duration("initial_delay", r.initialDelay))
}

// Stop halts the background loop. It is safe to call more than once.
func (r *Reaper) Stop(ctx context.Context) {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()
	r.logger.Info(ctx, "reaper stopped")
}
