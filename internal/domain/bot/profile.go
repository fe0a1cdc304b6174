// Package bot simulates human-like typing competitors. A single Simulator
// advances every live bot from one central tick; each bot keeps its own
// next-keystroke time.
package bot

import (
	"math/rand"
	"sort"
	"strconv"
	"time"
)

// Tier is a bot skill band.
type Tier string

// Skill tiers, weakest first.
const (
	TierBeginner     Tier = "beginner"
	TierIntermediate Tier = "intermediate"
	TierAdvanced     Tier = "advanced"
	TierExpert       Tier = "expert"
	TierPro          Tier = "pro"
)

// Personality biases how a bot chats.
type Personality string

// Personalities.
const (
	Friendly    Personality = "friendly"
	Competitive Personality = "competitive"
	Focused     Personality = "focused"
	Chatty      Personality = "chatty"
)

var personalities = []Personality{Friendly, Competitive, Focused, Chatty}

// TierSpec describes the speed, accuracy and reflexes of a tier.
type TierSpec struct {
	Tier        Tier
	MinWPM      float64
	MaxWPM      float64
	Accuracy    float64 // base accuracy in percent
	ReactionMin time.Duration
	ReactionMax time.Duration
}

// Tiers lists the built-in tier table, weakest first.
var Tiers = []TierSpec{
	{TierBeginner, 20, 40, 88, 600 * time.Millisecond, 900 * time.Millisecond},
	{TierIntermediate, 40, 65, 92, 450 * time.Millisecond, 700 * time.Millisecond},
	{TierAdvanced, 65, 90, 95, 350 * time.Millisecond, 550 * time.Millisecond},
	{TierExpert, 90, 120, 97, 250 * time.Millisecond, 400 * time.Millisecond},
	{TierPro, 120, 160, 98.5, 150 * time.Millisecond, 250 * time.Millisecond},
}

// DefaultTierWeights is the relative draw weight of each tier.
var DefaultTierWeights = map[Tier]float64{
	TierBeginner:     1.5,
	TierIntermediate: 4,
	TierAdvanced:     4,
	TierExpert:       2,
	TierPro:          0.5,
}

const accuracyJitter = 1.5

// SpecFor returns the spec of tier, falling back to intermediate.
func SpecFor(tier Tier) TierSpec {
	for _, s := range Tiers {
		if s.Tier == tier {
			return s
		}
	}
	return Tiers[1]
}

// Profile is the static skill of one bot.
type Profile struct {
	Name        string
	Tier        Tier
	TargetWPM   float64
	Accuracy    float64
	Personality Personality
}

// DrawTier picks a tier with probability proportional to its weight.
func DrawTier(rng *rand.Rand, weights map[Tier]float64) Tier {
	if len(weights) == 0 {
		weights = DefaultTierWeights
	}
	tiers := make([]Tier, 0, len(weights))
	total := 0.0
	for t, w := range weights {
		if w > 0 {
			tiers = append(tiers, t)
			total += w
		}
	}
	if total == 0 {
		return TierIntermediate
	}
	// Map iteration order is random; sort so a seeded rng is reproducible.
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })
	r := rng.Float64() * total
	acc := 0.0
	for _, t := range tiers {
		acc += weights[t]
		if r < acc {
			return t
		}
	}
	return tiers[len(tiers)-1]
}

// NewProfile draws a tier from weights and a profile inside it.
func NewProfile(rng *rand.Rand, weights map[Tier]float64) Profile {
	return ProfileForTier(rng, DrawTier(rng, weights))
}

// ProfileForTier draws target WPM as the mean of three uniform samples in the
// tier range and accuracy as the tier base with a little jitter.
func ProfileForTier(rng *rand.Rand, tier Tier) Profile {
	spec := SpecFor(tier)
	sum := 0.0
	for _i := 0; _i < 3; _i++ {
		sum += spec.MinWPM + rng.Float64()*(spec.MaxWPM-spec.MinWPM)
	}
	acc := spec.Accuracy + (rng.Float64()*2-1)*accuracyJitter
	if acc > 99.5 {
		acc = 99.5
	}
	personality := personalities[rng.Intn(len(personalities))]
	return Profile{
		Name:        RandomName(rng),
		Tier:        spec.Tier,
		TargetWPM:   sum / 3,
		Accuracy:    acc,
		Personality: personality,
	}
}

var (
	nameAdjectives = []string{"Swift", "Quiet", "Rapid", "Lucky", "Clever", "Steady", "Nimble", "Brave"}
	nameNouns      = []string{"Keys", "Fox", "Typist", "Otter", "Falcon", "Fingers", "Comet", "Panda"}
)

// RandomName returns a display name such as "SwiftFox42".
func RandomName(rng *rand.Rand) string {
	return nameAdjectives[rng.Intn(len(nameAdjectives))] +
		nameNouns[rng.Intn(len(nameNouns))] +
		strconv.Itoa(rng.Intn(100))
}

// reactionDelay draws the delay before a bot's first keystroke.
func reactionDelay(rng *rand.Rand, tier Tier) time.Duration {
	spec := SpecFor(tier)
	span := spec.ReactionMax - spec.ReactionMin
	if span <= 0 {
		return spec.ReactionMin
	}
	return spec.ReactionMin + time.Duration(rng.Int63n(int64(span)))
}
