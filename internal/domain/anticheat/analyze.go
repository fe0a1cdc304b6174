// Package anticheat scores keystroke timing for signs of automation.
package anticheat

import (
	"math"
	"sort"

	"github.com/okian/typerace/internal/domain/model"
)

// Flags raised by Analyze.
const (
	FlagInhumanSpeed          = "inhuman_speed"
	FlagWPMDiscrepancy        = "wpm_discrepancy"
	FlagBurstTyping           = "burst_typing"
	FlagProgrammaticPattern   = "programmatic_pattern"
	FlagUntrustedEvents       = "untrusted_events"
	FlagPerfectAccuracyHigh   = "perfect_accuracy_high_wpm"
	FlagRequiresCertification = "requires_certification"
)

// maxFlags is the flag count at which a submission becomes invalid.
const maxFlags = 3

// Thresholds tunes Analyze. Interval values are milliseconds, WPM
// discrepancies are percent of the server-measured WPM.
type Thresholds struct {
	MinSamples              int
	InhumanIntervalMs       float64
	SuspectIntervalMs       float64
	BurstWindow             int
	BurstFraction           float64
	ProgrammaticVarianceMs  float64
	ProgrammaticFraction    float64
	UntrustedFraction       float64
	WPMDiscrepancy          float64
	ChallengeWPMDiscrepancy float64
	PerfectAccuracyWPM      float64
	UncertifiedCeilingWPM   float64
	CertificationTolerance  float64
	CertificationMultiplier float64
}

// DefaultThresholds returns the production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSamples:              20,
		InhumanIntervalMs:       10,
		SuspectIntervalMs:       30,
		BurstWindow:             10,
		BurstFraction:           0.7,
		ProgrammaticVarianceMs:  2,
		ProgrammaticFraction:    0.9,
		UntrustedFraction:       0.1,
		WPMDiscrepancy:          15,
		ChallengeWPMDiscrepancy: 10,
		PerfectAccuracyWPM:      150,
		UncertifiedCeilingWPM:   180,
		CertificationTolerance:  1.1,
		CertificationMultiplier: 1.25,
	}
}

// Result is the verdict for one set of samples.
type Result struct {
	Valid          bool
	RequiresReview bool
	Insufficient   bool
	Flags          []string
	SampleCount    int
	MeanIntervalMs float64
	MinIntervalMs  float64
	MaxIntervalMs  float64
	StdDevMs       float64
	ServerWPM      float64
	ClientWPM      float64
	Accuracy       float64
}

// Has reports whether flag was raised.
func (r Result) Has(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Analyze scores samples against th. cert is the user's certification, nil
// when they have none. The result depends only on the arguments.
func Analyze(samples []model.KeystrokeSample, clientWPM float64, th Thresholds, cert *model.Certification) Result {
	res := Result{SampleCount: len(samples), ClientWPM: clientWPM, Valid: true}
	if len(samples) < th.MinSamples || len(samples) < 2 {
		res.Insufficient = true
		return res
	}

	sorted := make([]model.KeystrokeSample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	intervals := make([]float64, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		intervals[i-1] = float64(sorted[i].Timestamp - sorted[i-1].Timestamp)
	}
	res.MeanIntervalMs, res.MinIntervalMs, res.MaxIntervalMs, res.StdDevMs = intervalStats(intervals)

	correct, untrusted := 0, 0
	for _, s := range sorted {
		if s.Correct {
			correct++
		}
		if s.Trusted != nil && !*s.Trusted {
			untrusted++
		}
	}
	res.Accuracy = float64(correct) / float64(len(sorted)) * 100
	if minutes := float64(sorted[len(sorted)-1].Timestamp-sorted[0].Timestamp) / 60000; minutes > 0 {
		res.ServerWPM = float64(correct) / 5 / minutes
	}

	inhuman := res.MinIntervalMs < th.InhumanIntervalMs
	if inhuman {
		res.Flags = append(res.Flags, FlagInhumanSpeed)
	}
	if discrepancy(res.ServerWPM, clientWPM) > th.WPMDiscrepancy {
		res.Flags = append(res.Flags, FlagWPMDiscrepancy)
	}
	if burst(intervals, th) {
		res.Flags = append(res.Flags, FlagBurstTyping)
	}
	if programmatic(intervals, th) {
		res.Flags = append(res.Flags, FlagProgrammaticPattern)
	}
	if float64(untrusted)/float64(len(sorted)) > th.UntrustedFraction {
		res.Flags = append(res.Flags, FlagUntrustedEvents)
	}
	if correct == len(sorted) && res.ServerWPM > th.PerfectAccuracyWPM {
		res.Flags = append(res.Flags, FlagPerfectAccuracyHigh)
	}
	if res.ServerWPM > th.UncertifiedCeilingWPM &&
		(cert == nil || res.ServerWPM > cert.CertifiedWPM*th.CertificationTolerance) {
		res.Flags = append(res.Flags, FlagRequiresCertification)
	}

	res.Valid = len(res.Flags) < maxFlags && !inhuman
	res.RequiresReview = len(res.Flags) > 0
	return res
}

func intervalStats(xs []float64) (mean, lo, hi, std float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, x := range xs {
		mean += x
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		std += (x - mean) * (x - mean)
	}
	std = math.Sqrt(std / float64(len(xs)))
	return mean, lo, hi, std
}

// discrepancy is the client/server WPM gap in percent of the server value.
// A missing client WPM is never a discrepancy.
func discrepancy(server, client float64) float64 {
	if client <= 0 {
		return 0
	}
	if server <= 0 {
		return math.Inf(1)
	}
	return math.Abs(client-server) / server * 100
}

// burst reports whether any window of intervals is mostly below the suspect
// floor.
func burst(intervals []float64, th Thresholds) bool {
	w := th.BurstWindow
	if w <= 0 || len(intervals) < w {
		return false
	}
	fast := 0
	for i, x := range intervals {
		if x < th.SuspectIntervalMs {
			fast++
		}
		if i >= w && intervals[i-w] < th.SuspectIntervalMs {
			fast--
		}
		if i >= w-1 && float64(fast)/float64(w) >= th.BurstFraction {
			return true
		}
	}
	return false
}

// programmatic reports whether consecutive intervals are too regular.
func programmatic(intervals []float64, th Thresholds) bool {
	if len(intervals) < 2 {
		return false
	}
	steady := 0
	for i := 1; i < len(intervals); i++ {
		if math.Abs(intervals[i]-intervals[i-1]) < th.ProgrammaticVarianceMs {
			steady++
		}
	}
	return float64(steady)/float64(len(intervals)-1) > th.ProgrammaticFraction
}
