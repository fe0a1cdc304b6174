package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/okian/typerace/internal/adapters/repository"
	service "github.com/okian/typerace/internal/app"
	"github.com/okian/typerace/internal/config"
	"github.com/okian/typerace/internal/domain/bot"
	"github.com/okian/typerace/internal/domain/model"
	"github.com/spf13/cobra"
)

const defaultParagraph = "The quick brown fox jumps over the lazy dog while the five boxing wizards jump quickly."

var errSimulationTimeout = errors.New("simulation did not finish")

type simulateOptions struct {
	bots      int
	tier      string
	paragraph string
	seed      int64
	step      time.Duration
	limit     time.Duration
}

func newSimulateCmd() *cobra.Command {
	o := simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Race bots against each other on a virtual clock and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.bots < 1 {
				return errors.New("--bots must be at least 1")
			}
			return simulate(cmd.Context(), cmd.OutOrStdout(), o)
		},
	}
	f := cmd.Flags()
	f.IntVar(&o.bots, "bots", 4, "number of bots")
	f.StringVar(&o.tier, "tier", "", "force a tier (beginner|intermediate|advanced|expert|pro); empty draws by weight")
	f.StringVar(&o.paragraph, "paragraph", defaultParagraph, "text to type")
	f.Int64Var(&o.seed, "seed", 1, "random seed")
	f.DurationVar(&o.step, "step", 50*time.Millisecond, "virtual tick")
	f.DurationVar(&o.limit, "limit", 30*time.Minute, "virtual time limit")
	return cmd
}

// virtualClock only moves when stepped.
type virtualClock struct{ t time.Time }

func (c *virtualClock) Now() time.Time { return c.t }

func simulate(ctx context.Context, w io.Writer, o simulateOptions) error {
	clk := &virtualClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	cfg := config.New()
	cfg.EventQueueSize = 100_000
	cfg.WorkerCount = 1
	svc := service.New(repository.NewMemoryStore(),
		service.WithConfig(cfg),
		service.WithClock(clk.Now),
		service.WithBotSeed(o.seed))

	race, err := svc.CreateRace(ctx, o.paragraph)
	if err != nil {
		return err
	}
	profiles := make(map[string]bot.Profile, o.bots)
	for _i := 0; _i < o.bots; _i++ {
		p, profile, err := svc.AddBot(ctx, race.ID, bot.Tier(o.tier))
		if err != nil {
			return err
		}
		profiles[p.ID] = profile
	}
	if err := svc.StartRace(ctx, race.ID); err != nil {
		return err
	}

	start := clk.t
	var view service.RaceView
	for clk.t.Sub(start) < o.limit {
		clk.t = clk.t.Add(o.step)
		svc.AdvanceBots(ctx, clk.t)
		if view, err = svc.GetRace(ctx, race.ID); err != nil {
			return err
		}
		if view.Race.Status == model.StatusFinished {
			break
		}
	}
	if view.Race.Status != model.StatusFinished {
		return fmt.Errorf("%w after %s", errSimulationTimeout, o.limit)
	}

	ps := append([]model.Participant(nil), view.Participants...)
	sort.Slice(ps, func(i, j int) bool { return ps[i].FinishPosition < ps[j].FinishPosition })

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "POS\tNAME\tTIER\tTARGET\tWPM\tACC\tERRORS\tTIME")
	for _, p := range ps {
		prof := profiles[p.ID]
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.1f\t%.1f\t%.1f\t%d\t%s\n",
			p.FinishPosition, p.GuestName, prof.Tier, prof.TargetWPM,
			p.WPM, p.Accuracy, p.Errors, p.FinishedAt.Sub(start).Round(time.Millisecond))
	}
	return tw.Flush()
}
