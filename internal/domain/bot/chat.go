package bot

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fastrand"
	"golang.org/x/time/rate"
)

// Intent is the coarse meaning of a chat message.
type Intent string

// Recognised intents.
const (
	IntentGreeting      Intent = "greeting"
	IntentGoodLuck      Intent = "good_luck"
	IntentFinishing     Intent = "finishing"
	IntentReaction      Intent = "reaction"
	IntentCompetitive   Intent = "competitive"
	IntentEncouragement Intent = "encouragement"
	IntentCasual        Intent = "casual"
)

// intentKeywords is checked in order; the first hit wins.
var intentKeywords = []struct {
	intent Intent
	words  []string
}{
	{IntentFinishing, []string{"gg", "good game", "well played", "wp", "done", "finished"}},
	{IntentGoodLuck, []string{"glhf", "gl", "good luck", "have fun"}},
	{IntentEncouragement, []string{"you got this", "you can do it", "keep going", "come on", "go go"}},
	{IntentCompetitive, []string{"easy", "too slow", "slow", "gonna win", "beat you", "ez"}},
	{IntentReaction, []string{"fast", "nice", "wow", "impressive", "insane", "omg", "lol"}},
	{IntentGreeting, []string{"hi", "hello", "hey", "yo", "sup", "howdy"}},
}

// ClassifyIntent maps a message to an intent by keyword.
func ClassifyIntent(msg string) Intent {
	text := strings.ToLower(strings.TrimSpace(msg))
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	for _, group := range intentKeywords {
		for _, kw := range group.words {
			if strings.ContainsAny(kw, " ?") {
				if strings.Contains(text, kw) {
					return group.intent
				}
				continue
			}
			for _, w := range words {
				if w == kw {
					return group.intent
				}
			}
		}
	}
	return IntentCasual
}

var replies = map[Intent][]string{
	IntentGreeting:      {"hey!", "hi there", "hello :)", "yo"},
	IntentGoodLuck:      {"glhf!", "good luck to you too", "you too!", "gl"},
	IntentFinishing:     {"gg", "gg wp", "good game!", "that was fun"},
	IntentReaction:      {"haha right?", "wild", "that was close", "wow indeed"},
	IntentCompetitive:   {"we'll see about that", "talk is cheap", "keys don't lie", "bring it"},
	IntentEncouragement: {"thanks, you too!", "let's go!", "appreciate it", "we got this"},
	IntentCasual:        {"lol", "nice", "haha", "ok ok"},
}

// personalityLines override replies for a personality with probability
// personalityBias.
var personalityLines = map[Personality][]string{
	Friendly:    {"have fun everyone!", "you've got this", "great race so far"},
	Competitive: {"I'm not losing this one", "watch my speed", "first place is mine"},
	Chatty:      {"I love this paragraph", "my coffee is kicking in", "anyone else nervous?"},
	Focused:     {"focus", "..."},
}

const personalityBias = 0.3

// responseFactor scales the base response probability per personality.
var responseFactor = map[Personality]float64{
	Friendly:    1.0,
	Competitive: 0.8,
	Chatty:      1.5,
	Focused:     0.3,
}

// Chatter decides whether and how bots answer chat. Each bot has its own
// token bucket so it never speaks more often than the minimum interval.
type Chatter struct {
	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	minInterval time.Duration
	probability float64
	rng         *rand.Rand
}

// NewChatter builds a Chatter.
func NewChatter(minInterval time.Duration, probability float64, rng *rand.Rand) *Chatter {
	if rng == nil {
		rng = rand.New(rand.NewSource(int64(fastrand.Uint32())))
	}
	return &Chatter{
		limiters:    make(map[string]*rate.Limiter),
		minInterval: minInterval,
		probability: probability,
		rng:         rng,
	}
}

// Respond returns a reply from bot to msg, or false when the bot stays quiet
// or is rate limited.
func (c *Chatter) Respond(botID string, p Personality, msg string, now time.Time) (string, bool) {
	intent := ClassifyIntent(msg)

	c.mu.Lock()
	defer c.mu.Unlock()

	prob := c.probability * responseFactor[p]
	if intent == IntentGoodLuck || intent == IntentFinishing {
		// Etiquette replies are near certain.
		prob = max(prob, 0.9)
	}
	if c.rng.Float64() >= prob {
		return "", false
	}
	if !c.limiter(botID).AllowN(now, 1) {
		return "", false
	}

	lines := replies[intent]
	if extra, ok := personalityLines[p]; ok && intent == IntentCasual && c.rng.Float64() < personalityBias {
		lines = extra
	}
	return lines[c.rng.Intn(len(lines))], true
}

// Forget drops the limiter of a bot.
func (c *Chatter) Forget(botID string) {
	c.mu.Lock()
	delete(c.limiters, botID)
	c.mu.Unlock()
}

func (c *Chatter) limiter(botID string) *rate.Limiter {
	l, ok := c.limiters[botID]
	if !ok {
		l = rate.NewLimiter(rate.Every(c.minInterval), 1)
		c.limiters[botID] = l
	}
	return l
}
