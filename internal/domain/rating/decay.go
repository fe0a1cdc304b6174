package rating

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/typerace/pkg/logger"
	"github.com/okian/typerace/pkg/metrics"
)

// DecayParams controls inactivity decay.
type DecayParams struct {
	Grace  time.Duration // inactivity before decay starts
	Step   time.Duration // one Amount per elapsed Step after Grace
	Amount int
	Cap    int
	Floor  int
}

// DefaultDecayParams returns the production decay schedule.
func DefaultDecayParams() DecayParams {
	return DecayParams{
		Grace:  14 * 24 * time.Hour,
		Step:   7 * 24 * time.Hour,
		Amount: 25,
		Cap:    200,
		Floor:  1000,
	}
}

// Due is the total decay owed after inactive time.
func (p DecayParams) Due(inactive time.Duration) int {
	if inactive < p.Grace || p.Step <= 0 {
		return 0
	}
	steps := int((inactive - p.Grace) / p.Step)
	return min(p.Amount*steps, p.Cap)
}

// DecaySweep applies outstanding decay to every inactive player above the
// floor. Only the increment over what was already applied is taken, and no
// rating drops below the floor. It returns the number of players decayed.
func (e *Engine) DecaySweep(ctx context.Context) (int, error) {
	now := e.now()
	candidates, err := e.store.DecayCandidates(ctx, now.Add(-e.decay.Grace), e.decay.Floor)
	if err != nil {
		return 0, fmt.Errorf("decay candidates: %w", err)
	}

	decayed := 0
	for _, r := range candidates {
		if r.Rating <= e.decay.Floor || r.LastRaceAt.IsZero() {
			continue
		}
		due := e.decay.Due(now.Sub(r.LastRaceAt))
		step := due - r.DecayApplied
		if step <= 0 {
			continue
		}
		old := r.Rating
		r.Rating = max(r.Rating-step, e.decay.Floor)
		r.Tier = TierFor(r.Rating)
		r.DecayApplied = due
		if err := e.store.SaveRating(ctx, r); err != nil {
			metrics.RecordRatingError()
			e.logger.Error(ctx, "save decayed rating failed",
				logger.String("user_id", r.UserID), logger.Error(err))
			continue
		}
		decayed++
		metrics.RecordRatingDecay()
		e.logger.Debug(ctx, "rating decayed",
			logger.String("user_id", r.UserID),
			logger.Int("from", old),
			logger.Int("to", r.Rating))
	}
	if decayed > 0 {
		e.logger.Info(ctx, "decay sweep finished",
			logger.Int("candidates", len(candidates)), logger.Int("decayed", decayed))
	}
	return decayed, nil
}

// RunDecay runs DecaySweep every interval until ctx is done.
func (e *Engine) RunDecay(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := e.DecaySweep(ctx); err != nil {
				e.logger.Error(ctx, "decay sweep failed", logger.Error(err))
			}
			e.seen.Sweep(ctx)
		}
	}
}
