package anticheat_test

import (
	"math/rand"
	"testing"

	"github.com/okian/typerace/internal/domain/anticheat"
	"github.com/okian/typerace/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var humanRhythm = []int64{120, 180, 140, 210, 160, 130, 190}

// keystrokes builds n samples whose gaps cycle through intervals. Positions
// listed in wrong are mistyped.
func keystrokes(n int, intervals []int64, wrong ...int) []model.KeystrokeSample {
	bad := make(map[int]bool, len(wrong))
	for _, w := range wrong {
		bad[w] = true
	}
	out := make([]model.KeystrokeSample, n)
	ts := int64(1_700_000_000_000)
	for i := range out {
		if i > 0 {
			ts += intervals[(i-1)%len(intervals)]
		}
		out[i] = model.KeystrokeSample{Key: "a", Expected: "a", Timestamp: ts, Correct: !bad[i], Position: i}
	}
	return out
}

func TestAnalyze(t *testing.T) {
	th := anticheat.DefaultThresholds()

	Convey("Given too few samples", t, func() {
		res := anticheat.Analyze(keystrokes(10, []int64{5}), 500, th, nil)

		Convey("The verdict is valid and marked insufficient", func() {
			So(res.Valid, ShouldBeTrue)
			So(res.Insufficient, ShouldBeTrue)
			So(res.Flags, ShouldBeEmpty)
			So(res.RequiresReview, ShouldBeFalse)
		})
	})

	Convey("Given human typing", t, func() {
		samples := keystrokes(60, humanRhythm, 7, 33)
		server := anticheat.Analyze(samples, 0, th, nil).ServerWPM
		res := anticheat.Analyze(samples, server, th, nil)

		Convey("Nothing is flagged", func() {
			So(res.Valid, ShouldBeTrue)
			So(res.Flags, ShouldBeEmpty)
			So(res.MinIntervalMs, ShouldEqual, 120)
			So(res.MaxIntervalMs, ShouldEqual, 210)
			So(res.StdDevMs, ShouldBeGreaterThan, 0)
			So(res.Accuracy, ShouldAlmostEqual, 58.0/60*100, 1e-9)
			So(res.ServerWPM, ShouldBeBetween, 60, 80)
		})

		Convey("A client WPM far from the server's is flagged but still valid", func() {
			res := anticheat.Analyze(samples, server*1.5, th, nil)
			So(res.Flags, ShouldResemble, []string{anticheat.FlagWPMDiscrepancy})
			So(res.Valid, ShouldBeTrue)
			So(res.RequiresReview, ShouldBeTrue)
		})

		Convey("Untrusted events above the fraction are flagged", func() {
			no := false
			for i := 0; i < 10; i++ {
				samples[i*6].Trusted = &no
			}
			res := anticheat.Analyze(samples, server, th, nil)
			So(res.Has(anticheat.FlagUntrustedEvents), ShouldBeTrue)
		})

		Convey("Sample order does not matter", func() {
			shuffled := append([]model.KeystrokeSample(nil), samples...)
			rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})
			So(anticheat.Analyze(shuffled, server, th, nil), ShouldResemble, res)
		})
	})

	Convey("Given 30 keystrokes 5ms apart", t, func() {
		res := anticheat.Analyze(keystrokes(30, []int64{5}), 0, th, nil)

		Convey("It is inhuman and invalid", func() {
			So(res.Has(anticheat.FlagInhumanSpeed), ShouldBeTrue)
			So(res.Has(anticheat.FlagBurstTyping), ShouldBeTrue)
			So(res.Has(anticheat.FlagProgrammaticPattern), ShouldBeTrue)
			So(res.Valid, ShouldBeFalse)
			So(res.RequiresReview, ShouldBeTrue)
		})

		Convey("Repeated analysis is identical", func() {
			So(anticheat.Analyze(keystrokes(30, []int64{5}), 0, th, nil), ShouldResemble, res)
		})
	})

	Convey("Given human typing with one short run of fast keys", t, func() {
		fast := []int64{20, 24, 21, 26, 22, 25, 20, 23, 27, 21}
		gaps := make([]int64, 0, 59)
		for i := 0; i < 59; i++ {
			if i >= 20 && i < 30 {
				gaps = append(gaps, fast[i-20])
				continue
			}
			gaps = append(gaps, humanRhythm[i%len(humanRhythm)])
		}
		samples := keystrokes(len(gaps)+1, gaps, 12)
		server := anticheat.Analyze(samples, 0, th, nil).ServerWPM
		res := anticheat.Analyze(samples, server, th, nil)

		Convey("Only burst typing is flagged", func() {
			So(res.Flags, ShouldResemble, []string{anticheat.FlagBurstTyping})
			So(res.MinIntervalMs, ShouldEqual, 20)
			So(res.Valid, ShouldBeTrue)
			So(res.RequiresReview, ShouldBeTrue)
		})
	})

	Convey("Given keys exactly 120ms apart", t, func() {
		samples := keystrokes(60, []int64{120})
		server := anticheat.Analyze(samples, 0, th, nil).ServerWPM
		res := anticheat.Analyze(samples, server, th, nil)

		Convey("Only the programmatic pattern is flagged", func() {
			So(res.Flags, ShouldResemble, []string{anticheat.FlagProgrammaticPattern})
			So(res.Has(anticheat.FlagInhumanSpeed), ShouldBeFalse)
			So(res.StdDevMs, ShouldEqual, 0)
			So(res.Valid, ShouldBeTrue)
		})
	})

	Convey("Given fast clean typing around 192 WPM", t, func() {
		samples := keystrokes(61, []int64{50, 70, 55, 75, 60, 65}, 30)
		server := anticheat.Analyze(samples, 0, th, nil).ServerWPM
		So(server, ShouldAlmostEqual, 192, 1e-6)

		Convey("Without certification it needs one", func() {
			res := anticheat.Analyze(samples, server, th, nil)
			So(res.Flags, ShouldResemble, []string{anticheat.FlagRequiresCertification})
			So(res.Valid, ShouldBeTrue)
		})

		Convey("A certification within tolerance covers it", func() {
			cert := &model.Certification{UserID: "u", CertifiedWPM: 180}
			res := anticheat.Analyze(samples, server, th, cert)
			So(res.Flags, ShouldBeEmpty)
		})

		Convey("A low certification does not", func() {
			cert := &model.Certification{UserID: "u", CertifiedWPM: 150}
			res := anticheat.Analyze(samples, server, th, cert)
			So(res.Has(anticheat.FlagRequiresCertification), ShouldBeTrue)
		})
	})

	Convey("Perfect accuracy at high speed is flagged", t, func() {
		samples := keystrokes(61, []int64{50, 70, 55, 75, 60, 65})
		res := anticheat.Analyze(samples, 0, th, nil)
		So(res.Has(anticheat.FlagPerfectAccuracyHigh), ShouldBeTrue)
		So(res.Has(anticheat.FlagRequiresCertification), ShouldBeTrue)
		So(res.Valid, ShouldBeTrue)
	})
}
