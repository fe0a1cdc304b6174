package anticheat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/typerace/internal/adapters/repository"
	"github.com/okian/typerace/internal/domain/model"
	"github.com/okian/typerace/pkg/logger"
	"github.com/okian/typerace/pkg/metrics"
)

// DefaultPhrase is the text typed during a speed certification challenge.
const DefaultPhrase = "the quick brown fox jumps over the lazy dog"

// Audit kinds.
const (
	AuditCertificationPassed = "certification_passed"
	AuditCertificationFailed = "certification_failed"
)

// Store persists analyses, certifications and audit rows.
type Store interface {
	InsertKeystrokeAnalysis(ctx context.Context, a model.KeystrokeAnalysis) error
	GetCertification(ctx context.Context, userID string) (model.Certification, error)
	SaveCertification(ctx context.Context, c model.Certification) error
	InsertAudit(ctx context.Context, e model.AuditEvent) error
}

// Submission is a finished race's keystroke log.
type Submission struct {
	RaceID        string
	ParticipantID string
	UserID        string
	Samples       []model.KeystrokeSample
	ClientWPM     float64
}

// Challenge is an issued certification attempt.
type Challenge struct {
	ID        string
	UserID    string
	Phrase    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ChallengeResult is the outcome of VerifyChallenge.
type ChallengeResult struct {
	Passed       bool
	CertifiedWPM float64
	Result       Result
}

// Validator analyzes submissions, persists every analysis and runs the
// certification challenge flow.
type Validator struct {
	store      Store
	thresholds Thresholds
	phrase     string
	ttl        time.Duration
	now        func() time.Time
	logger     logger.Logger

	mu         sync.Mutex
	challenges map[string]Challenge
}

// NewValidator builds a Validator backed by store.
func NewValidator(store Store, opts ...Option) *Validator {
	v := &Validator{
		store:      store,
		thresholds: DefaultThresholds(),
		phrase:     DefaultPhrase,
		ttl:        5 * time.Minute,
		now:        time.Now,
		logger:     logger.Get().Named("anticheat"),
		challenges: make(map[string]Challenge),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Thresholds returns the active thresholds.
func (v *Validator) Thresholds() Thresholds { return v.thresholds }

// Validate analyzes sub and records the analysis. Persistence failures are
// logged and never change the verdict.
func (v *Validator) Validate(ctx context.Context, sub Submission) Result {
	cert := v.certification(ctx, sub.UserID)
	res := Analyze(sub.Samples, sub.ClientWPM, v.thresholds, cert)
	metrics.RecordValidation(res.Valid, res.Flags)

	if res.RequiresReview {
		v.logger.Warn(ctx, "keystrokes flagged",
			logger.String("race_id", sub.RaceID),
			logger.String("participant_id", sub.ParticipantID),
			logger.Strings("flags", res.Flags),
			logger.Bool("valid", res.Valid),
			logger.Float64("server_wpm", res.ServerWPM))
	}

	row := model.KeystrokeAnalysis{
		ID:             uuid.NewString(),
		RaceID:         sub.RaceID,
		ParticipantID:  sub.ParticipantID,
		UserID:         sub.UserID,
		SampleCount:    res.SampleCount,
		MeanIntervalMs: res.MeanIntervalMs,
		MinIntervalMs:  res.MinIntervalMs,
		StdDevMs:       res.StdDevMs,
		ServerWPM:      res.ServerWPM,
		ClientWPM:      res.ClientWPM,
		Flags:          res.Flags,
		IsValid:        res.Valid,
		RequiresReview: res.RequiresReview,
		CreatedAt:      v.now(),
	}
	if err := v.store.InsertKeystrokeAnalysis(ctx, row); err != nil {
		v.logger.Error(ctx, "persist keystroke analysis failed",
			logger.String("race_id", sub.RaceID),
			logger.String("participant_id", sub.ParticipantID),
			logger.Error(err))
	}
	return res
}

func (v *Validator) certification(ctx context.Context, userID string) *model.Certification {
	if userID == "" {
		return nil
	}
	c, err := v.store.GetCertification(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			v.logger.Error(ctx, "load certification failed",
				logger.String("user_id", userID), logger.Error(err))
		}
		return nil
	}
	return &c
}

// IssueChallenge starts a certification attempt for userID.
func (v *Validator) IssueChallenge(ctx context.Context, userID string) Challenge {
	now := v.now()
	c := Challenge{
		ID:        uuid.NewString(),
		UserID:    userID,
		Phrase:    v.phrase,
		IssuedAt:  now,
		ExpiresAt: now.Add(v.ttl),
	}

	v.mu.Lock()
	for id, old := range v.challenges {
		if now.After(old.ExpiresAt) {
			delete(v.challenges, id)
		}
	}
	v.challenges[c.ID] = c
	v.mu.Unlock()

	metrics.RecordChallenge("issued")
	v.logger.Debug(ctx, "challenge issued",
		logger.String("challenge_id", c.ID), logger.String("user_id", userID))
	return c
}

// VerifyChallenge checks a challenge attempt. Each challenge can be answered
// once. A pass stores a certification worth the measured WPM times the
// certification multiplier.
func (v *Validator) VerifyChallenge(ctx context.Context, challengeID string, samples []model.KeystrokeSample, clientWPM float64) (ChallengeResult, error) {
	now := v.now()

	v.mu.Lock()
	c, ok := v.challenges[challengeID]
	delete(v.challenges, challengeID)
	v.mu.Unlock()

	if !ok {
		metrics.RecordChallenge("not_found")
		return ChallengeResult{}, ErrChallengeNotFound
	}
	if now.After(c.ExpiresAt) {
		metrics.RecordChallenge("expired")
		return ChallengeResult{}, ErrChallengeExpired
	}

	th := v.thresholds
	th.WPMDiscrepancy = th.ChallengeWPMDiscrepancy
	// The challenge is what grants certification, so the ceiling check
	// does not apply here.
	th.UncertifiedCeilingWPM = 1e9
	res := Analyze(samples, clientWPM, th, nil)

	out := ChallengeResult{Result: res, Passed: challengePassed(res, samples, c.Phrase)}
	kind := AuditCertificationFailed
	if out.Passed {
		kind = AuditCertificationPassed
		out.CertifiedWPM = res.ServerWPM * th.CertificationMultiplier
		cert := model.Certification{UserID: c.UserID, CertifiedWPM: out.CertifiedWPM, CreatedAt: now}
		if err := v.store.SaveCertification(ctx, cert); err != nil {
			metrics.RecordChallenge("error")
			return ChallengeResult{}, fmt.Errorf("save certification for %s: %w", c.UserID, err)
		}
		metrics.RecordChallenge("passed")
	} else {
		metrics.RecordChallenge("failed")
	}

	audit := model.AuditEvent{
		ID:        uuid.NewString(),
		UserID:    c.UserID,
		Kind:      kind,
		Detail:    fmt.Sprintf("wpm=%.1f flags=%s", res.ServerWPM, strings.Join(res.Flags, ",")),
		CreatedAt: now,
	}
	if err := v.store.InsertAudit(ctx, audit); err != nil {
		v.logger.Error(ctx, "persist challenge audit failed",
			logger.String("challenge_id", challengeID),
			logger.String("user_id", c.UserID),
			logger.Error(err))
	}
	v.logger.Info(ctx, "challenge verified",
		logger.String("user_id", c.UserID),
		logger.Bool("passed", out.Passed),
		logger.Float64("certified_wpm", out.CertifiedWPM))
	return out, nil
}

// challengePassed requires enough correct keystrokes to cover the phrase and
// no timing flag.
func challengePassed(res Result, samples []model.KeystrokeSample, phrase string) bool {
	if res.Insufficient {
		return false
	}
	correct := 0
	for _, s := range samples {
		if s.Correct {
			correct++
		}
	}
	if correct < len([]rune(phrase)) {
		return false
	}
	for _, f := range []string{FlagInhumanSpeed, FlagBurstTyping, FlagProgrammaticPattern, FlagUntrustedEvents, FlagWPMDiscrepancy} {
		if res.Has(f) {
			return false
		}
	}
	return true
}

// Pending returns the number of outstanding challenges.
func (v *Validator) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.challenges)
}
