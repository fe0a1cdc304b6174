package bot

import (
	"math/rand"
	"unicode"
)

// Timing model multipliers and additive pauses (in units of the base delay).
const (
	warmupFraction    = 0.10
	warmupSlowdown    = 0.25
	episodeChance     = 0.02
	episodeMinLen     = 10
	episodeMaxLen     = 30
	flowFactor        = 0.80
	struggleFactor    = 1.25
	varianceSpread    = 0.15
	commonDigraph     = 0.90
	sameFinger        = 1.15
	wordPause         = 0.15
	sentencePause     = 1.00
	correctionPause   = 0.50
	momentumSmoothing = 0.1
)

// commonDigraphs are frequent English letter pairs typed with rolling motion.
var commonDigraphs = map[string]struct{}{
	"th": {}, "he": {}, "in": {}, "er": {}, "an": {}, "re": {}, "on": {}, "at": {},
	"en": {}, "nd": {}, "ti": {}, "es": {}, "or": {}, "te": {}, "of": {}, "ed": {},
	"is": {}, "it": {}, "al": {}, "ar": {}, "st": {}, "to": {}, "nt": {}, "ng": {},
}

// fingers maps a lowercase key to the finger that types it on QWERTY
// (0-3 left pinky..index, 4-7 right index..pinky).
var fingers = map[rune]int{
	'q': 0, 'a': 0, 'z': 0,
	'w': 1, 's': 1, 'x': 1,
	'e': 2, 'd': 2, 'c': 2,
	'r': 3, 'f': 3, 'v': 3, 't': 3, 'g': 3, 'b': 3,
	'y': 4, 'h': 4, 'n': 4, 'u': 4, 'j': 4, 'm': 4,
	'i': 5, 'k': 5, ',': 5,
	'o': 6, 'l': 6, '.': 6,
	'p': 7, ';': 7, '/': 7, '\'': 7,
}

// digraphFactor slows same-finger pairs and speeds up common digraphs.
func digraphFactor(prev, ch rune) float64 {
	prev, ch = unicode.ToLower(prev), unicode.ToLower(ch)
	if _, ok := commonDigraphs[string([]rune{prev, ch})]; ok {
		return commonDigraph
	}
	if prev != ch {
		fp, okp := fingers[prev]
		fc, okc := fingers[ch]
		if okp && okc && fp == fc {
			return sameFinger
		}
	}
	return 1
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// typingState is the per-bot dynamic state of the timing model.
type typingState struct {
	inFlow      bool
	struggling  bool
	stateEnd    int // character index where the current episode ends
	lastChar    rune
	momentumWPM float64
}

// baseDelayMs is the per-character delay at the target speed.
func baseDelayMs(wpm float64) float64 {
	if wpm <= 0 {
		wpm = 1
	}
	return 60000 / (wpm * 5)
}

// keystroke computes the delay before character idx of text and whether the
// bot mistypes it. total is the paragraph length.
func (st *typingState) keystroke(rng *rand.Rand, p Profile, idx, total int, ch rune) (delayMs float64, mistake bool) {
	base := baseDelayMs(p.TargetWPM)
	m := 1.0

	if warm := int(float64(total) * warmupFraction); warm > 0 && idx < warm {
		m *= 1 + warmupSlowdown*(1-float64(idx)/float64(warm))
	}

	if idx >= st.stateEnd {
		st.inFlow, st.struggling = false, false
		switch r := rng.Float64(); {
		case r < episodeChance:
			st.inFlow = true
			st.stateEnd = idx + episodeMinLen + rng.Intn(episodeMaxLen-episodeMinLen+1)
		case r < 2*episodeChance:
			st.struggling = true
			st.stateEnd = idx + episodeMinLen + rng.Intn(episodeMaxLen-episodeMinLen+1)
		}
	}
	switch {
	case st.inFlow:
		m *= flowFactor
	case st.struggling:
		m *= struggleFactor
	}

	m *= 1 + (rng.Float64()*2-1)*varianceSpread
	if st.lastChar != 0 {
		m *= digraphFactor(st.lastChar, ch)
	}

	delayMs = base * m
	if ch == ' ' {
		delayMs += base * wordPause
	}
	if isSentenceEnd(st.lastChar) {
		delayMs += base * sentencePause
	}
	if rng.Float64() < (100-p.Accuracy)/100 {
		mistake = true
		delayMs += base * correctionPause
	}

	if delayMs > 0 {
		inst := 60000 / (delayMs * 5)
		if st.momentumWPM == 0 {
			st.momentumWPM = inst
		} else {
			st.momentumWPM += momentumSmoothing * (inst - st.momentumWPM)
		}
	}
	st.lastChar = ch
	return delayMs, mistake
}
