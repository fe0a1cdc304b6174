package bot

import (
	"math/rand"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestProfiles(t *testing.T) {
	Convey("Profiles stay inside their tier", t, func() {
		rng := rand.New(rand.NewSource(11))
		for _, spec := range Tiers {
			for _i := 0; _i < 50; _i++ {
				p := ProfileForTier(rng, spec.Tier)
				So(p.Tier, ShouldEqual, spec.Tier)
				So(p.TargetWPM, ShouldBeBetweenOrEqual, spec.MinWPM, spec.MaxWPM)
				So(p.Accuracy, ShouldBeBetweenOrEqual, spec.Accuracy-accuracyJitter, 99.5)
				So(p.Name, ShouldNotBeEmpty)
				d := reactionDelay(rng, spec.Tier)
				So(d, ShouldBeBetweenOrEqual, spec.ReactionMin, spec.ReactionMax)
			}
		}
	})

	Convey("The same seed draws the same names and profiles", t, func() {
		a, b := rand.New(rand.NewSource(21)), rand.New(rand.NewSource(21))
		for _i := 0; _i < 20; _i++ {
			So(NewProfile(a, nil), ShouldResemble, NewProfile(b, nil))
		}
		So(RandomName(rand.New(rand.NewSource(4))), ShouldEqual, RandomName(rand.New(rand.NewSource(4))))
	})

	Convey("Tier draws follow the weights", t, func() {
		rng := rand.New(rand.NewSource(3))
		So(DrawTier(rng, map[Tier]float64{TierPro: 1}), ShouldEqual, TierPro)
		So(DrawTier(rng, map[Tier]float64{TierPro: 0}), ShouldEqual, TierIntermediate)

		counts := map[Tier]int{}
		for _i := 0; _i < 10000; _i++ {
			counts[DrawTier(rng, nil)]++
		}
		// Intermediate and advanced carry 8 of 12 weight units.
		So(counts[TierIntermediate]+counts[TierAdvanced], ShouldBeBetween, 6000, 7300)
		So(counts[TierPro], ShouldBeLessThan, counts[TierBeginner])
	})

	Convey("Unknown tiers fall back to intermediate", t, func() {
		So(SpecFor("legend").Tier, ShouldEqual, TierIntermediate)
		So(reactionDelay(rand.New(rand.NewSource(1)), TierPro), ShouldBeGreaterThanOrEqualTo, 150*time.Millisecond)
	})
}

func TestTimingModel(t *testing.T) {
	Convey("Digraph factors", t, func() {
		So(digraphFactor('t', 'h'), ShouldEqual, commonDigraph)
		So(digraphFactor('T', 'H'), ShouldEqual, commonDigraph)
		So(digraphFactor('d', 'e'), ShouldEqual, sameFinger)
		So(digraphFactor('e', 'e'), ShouldEqual, 1)
		So(digraphFactor('q', 'p'), ShouldEqual, 1)
	})

	Convey("Sentence ends add a pause", t, func() {
		p := Profile{TargetWPM: 60, Accuracy: 100}
		base := baseDelayMs(p.TargetWPM)
		So(base, ShouldEqual, 200)

		// Same seed so both draws share episode and variance rolls.
		plain := &typingState{lastChar: 'x', stateEnd: 1000}
		after := &typingState{lastChar: '.', stateEnd: 1000}
		d1, _ := plain.keystroke(rand.New(rand.NewSource(9)), p, 500, 1000, 'k')
		d2, _ := after.keystroke(rand.New(rand.NewSource(9)), p, 500, 1000, 'k')
		So(d2-d1, ShouldAlmostEqual, base*sentencePause, 1e-9)
	})

	Convey("Warmup slows the first characters", t, func() {
		p := Profile{TargetWPM: 60, Accuracy: 100}
		early := &typingState{stateEnd: 1000}
		late := &typingState{stateEnd: 1000}
		d1, _ := early.keystroke(rand.New(rand.NewSource(9)), p, 0, 1000, 'k')
		d2, _ := late.keystroke(rand.New(rand.NewSource(9)), p, 500, 1000, 'k')
		So(d1/d2, ShouldAlmostEqual, 1+warmupSlowdown, 1e-9)
		So(early.momentumWPM, ShouldBeGreaterThan, 0)
	})
}
