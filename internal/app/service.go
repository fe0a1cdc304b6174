// Package service wires the race engine together: the race state cache over
// the store, the bot simulator, anti-cheat, ratings, the reaper and outbound
// event delivery.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/valyala/fastrand"
	"golang.org/x/sync/errgroup"

	"github.com/okian/typerace/internal/adapters/mq/queue"
	"github.com/okian/typerace/internal/adapters/mq/worker"
	"github.com/okian/typerace/internal/adapters/racecache"
	"github.com/okian/typerace/internal/adapters/repository"
	"github.com/okian/typerace/internal/adapters/spill"
	"github.com/okian/typerace/internal/config"
	"github.com/okian/typerace/internal/domain/anticheat"
	"github.com/okian/typerace/internal/domain/bot"
	"github.com/okian/typerace/internal/domain/dedupe"
	"github.com/okian/typerace/internal/domain/model"
	"github.com/okian/typerace/internal/domain/rating"
	"github.com/okian/typerace/internal/domain/reaper"
	"github.com/okian/typerace/pkg/logger"
	"github.com/okian/typerace/pkg/metrics"
)

const (
	roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	roomCodeLength   = 6
	completionTTL    = time.Hour
	releaseTimeout   = 5 * time.Second
)

// RaceView is a race with its participants.
type RaceView struct {
	Race         model.Race          `json:"race"`
	Participants []model.Participant `json:"participants"`
}

// Participant returns the participant with id.
func (v *RaceView) Participant(id string) (model.Participant, bool) {
	for _, p := range v.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return model.Participant{}, false
}

// Stats is a snapshot of engine counters.
type Stats struct {
	Started           bool            `json:"started"`
	Cache             racecache.Stats `json:"cache"`
	ActiveBots        int             `json:"activeBots"`
	QueueLength       int             `json:"queueLength"`
	Workers           int             `json:"workers"`
	PendingChallenges int             `json:"pendingChallenges"`
	CompletedMarkers  int64           `json:"completedMarkers"`
	Config            map[string]any  `json:"config"`
}

// Service implements the race lifecycle.
type Service struct {
	mu sync.Mutex

	cfg     *config.Config
	store   repository.Store
	sink    worker.Sink
	spill   *spill.File
	botSeed *int64
	now     func() time.Time
	logger  logger.Logger

	cache     *racecache.Cache
	bots      *bot.Simulator
	validator *anticheat.Validator
	ratings   *rating.Engine
	reaper    *reaper.Reaper
	queue     *queue.InMemoryQueue
	pool      *worker.Pool
	completed dedupe.Deduper

	tierWeights map[bot.Tier]float64
	// participants whose submitted result failed validation
	disqualified map[string]struct{}

	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// New builds a Service over store. Components are constructed here; Start
// launches their background loops.
func New(store repository.Store, opts ...Option) *Service {
	s := &Service{
		cfg:          config.New(),
		store:        store,
		now:          time.Now,
		logger:       logger.Get().Named("service"),
		disqualified: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sink == nil {
		s.sink = worker.NewLogSink(nil)
	}
	cfg := s.cfg

	s.tierWeights = make(map[bot.Tier]float64, len(cfg.BotTierWeights))
	for name, w := range cfg.BotTierWeights {
		s.tierWeights[bot.Tier(name)] = w
	}

	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(cfg.EventQueueSize))
	s.pool = worker.NewPool(cfg.WorkerCount, s.queue, s.sink)

	cacheOpts := []racecache.Option{
		racecache.WithTTL(cfg.CacheTTL),
		racecache.WithMaxEntries(cfg.CacheMaxEntries),
		racecache.WithMemoryBudget(cfg.CacheMemoryBudget),
		racecache.WithFlushInterval(cfg.CacheFlushInterval),
		racecache.WithSweepInterval(cfg.CacheSweepInterval),
		racecache.WithClock(s.now),
	}
	if s.spill != nil {
		cacheOpts = append(cacheOpts, racecache.WithSpill(s.spill))
	}
	s.cache = racecache.New(store.UpdateProgressBatch, cacheOpts...)

	var chatRand *rand.Rand
	botOpts := []bot.Option{
		bot.WithTick(cfg.BotTick),
		bot.WithBroadcastInterval(cfg.BotBroadcastInterval),
		bot.WithPublisher(s.queue),
		bot.WithOnFinish(s.onBotFinish),
		bot.WithOnStop(s.onBotsStopped),
		bot.WithChatGrace(cfg.ChatGrace),
		bot.WithClock(s.now),
	}
	if s.botSeed != nil {
		botOpts = append(botOpts, bot.WithSeed(*s.botSeed))
		chatRand = rand.New(rand.NewSource(*s.botSeed + 1))
	}
	botOpts = append(botOpts, bot.WithChatter(
		bot.NewChatter(cfg.ChatMinInterval, cfg.ChatResponseProbability, chatRand)))
	s.bots = bot.New(s, botOpts...)

	s.validator = anticheat.NewValidator(store,
		anticheat.WithThresholds(ThresholdsFrom(cfg)),
		anticheat.WithChallengeTTL(cfg.ChallengeTTL),
		anticheat.WithClock(s.now))

	s.ratings = rating.NewEngine(store,
		rating.WithParams(rating.Params{
			KProvisional:     cfg.KProvisional,
			KIntermediate:    cfg.KIntermediate,
			KEstablished:     cfg.KEstablished,
			ProvisionalGames: cfg.ProvisionalGames,
			EstablishedRaces: cfg.EstablishedRaces,
			Initial:          cfg.InitialRating,
			Min:              cfg.RatingMin,
			Max:              cfg.RatingMax,
		}),
		rating.WithDecay(rating.DecayParams{
			Grace:  cfg.DecayGrace,
			Step:   cfg.DecayStep,
			Amount: cfg.DecayAmount,
			Cap:    cfg.DecayCap,
			Floor:  cfg.DecayFloor,
		}),
		rating.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithTTL(cfg.RatingDedupeTTL))),
		rating.WithClock(s.now))

	s.reaper = reaper.New(store,
		reaper.WithBots(s),
		reaper.WithCache(s.cache),
		reaper.WithTimeouts(reaper.Timeouts{
			Waiting:   cfg.WaitingTimeout,
			Countdown: cfg.CountdownTimeout,
			Racing:    cfg.RacingTimeout,
			Retention: cfg.FinishedRetention,
		}),
		reaper.WithInterval(cfg.ReaperInterval),
		reaper.WithInitialDelay(cfg.ReaperInitialDelay),
		reaper.WithClock(s.now))

	s.completed = dedupe.NewInMemoryDeduper(
		dedupe.WithTTL(completionTTL),
		dedupe.WithClock(s.now))
	return s
}

// ThresholdsFrom maps the anti-cheat settings of cfg.
func ThresholdsFrom(cfg *config.Config) anticheat.Thresholds {
	return anticheat.Thresholds{
		MinSamples:              cfg.AnticheatMinSamples,
		InhumanIntervalMs:       cfg.InhumanIntervalMS,
		SuspectIntervalMs:       cfg.SuspectIntervalMS,
		BurstWindow:             cfg.BurstWindow,
		BurstFraction:           cfg.BurstFraction,
		ProgrammaticVarianceMs:  cfg.ProgrammaticVarianceMS,
		ProgrammaticFraction:    cfg.ProgrammaticFraction,
		UntrustedFraction:       cfg.UntrustedFraction,
		WPMDiscrepancy:          cfg.WPMDiscrepancy,
		ChallengeWPMDiscrepancy: cfg.ChallengeWPMDiscrepancy,
		PerfectAccuracyWPM:      cfg.PerfectAccuracyWPM,
		UncertifiedCeilingWPM:   cfg.UncertifiedCeilingWPM,
		CertificationTolerance:  cfg.CertificationTolerance,
		CertificationMultiplier: cfg.CertificationMultiplier,
	}
}

// Start replays spilled progress and launches the background loops: cache
// flush and sweep, bot ticker, reaper, rating decay and event workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	if err := s.replaySpill(ctx); err != nil {
		return err
	}

	base := context.WithoutCancel(ctx)
	runCtx, cancel := context.WithCancel(base)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.cache.Run(gctx) })
	g.Go(func() error { return s.bots.Run(gctx) })
	g.Go(func() error { return s.reaper.Run(gctx) })
	g.Go(func() error { return s.ratings.RunDecay(gctx, s.cfg.DecayInterval) })
	// workers outlive the loops so Stop can drain the queue
	s.pool.Start(base)

	s.cancel = cancel
	s.group = g
	s.started = true
	s.logger.Info(ctx, "race engine started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queue_size", s.cfg.EventQueueSize),
		logger.Duration("flush_interval", s.cfg.CacheFlushInterval),
		logger.Duration("bot_tick", s.cfg.BotTick))
	return nil
}

func (s *Service) replaySpill(ctx context.Context) error {
	if s.spill == nil {
		return nil
	}
	batch, err := s.spill.Drain(ctx)
	if err != nil {
		return fmt.Errorf("drain spill: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}
	if err := s.store.UpdateProgressBatch(ctx, batch); err != nil {
		if serr := s.spill.Spill(ctx, batch); serr != nil {
			s.logger.Error(ctx, "re-spill after failed replay lost progress",
				logger.Int("entries", len(batch)), logger.Error(serr))
		}
		return fmt.Errorf("replay spilled progress: %w", err)
	}
	s.logger.Info(ctx, "replayed spilled progress", logger.Int("entries", len(batch)))
	return nil
}

// Stop halts the loops, flushes buffered progress (spilling it if the flush
// fails) and drains queued events. A stopped service cannot be restarted.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel, g := s.cancel, s.group
	s.mu.Unlock()

	s.logger.Info(ctx, "stopping race engine")
	cancel()
	err := g.Wait()
	if ferr := s.cache.Stop(ctx); ferr != nil {
		err = errors.Join(err, fmt.Errorf("final flush: %w", ferr))
	}
	if werr := s.pool.Shutdown(ctx); werr != nil {
		err = errors.Join(err, werr)
	}
	s.logger.Info(ctx, "race engine stopped")
	return err
}

// CreateRace creates a waiting race for paragraph.
func (s *Service) CreateRace(ctx context.Context, paragraph string) (model.Race, error) {
	if paragraph == "" {
		return model.Race{}, ErrEmptyParagraph
	}
	race := model.Race{
		ID:        uuid.NewString(),
		RoomCode:  roomCode(),
		Status:    model.StatusWaiting,
		Paragraph: paragraph,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateRace(ctx, race); err != nil {
		return model.Race{}, fmt.Errorf("create race: %w", err)
	}
	s.cache.SetRace(race, nil)
	metrics.RecordRaceCreated()
	s.logger.Debug(ctx, "race created",
		logger.String("race_id", race.ID), logger.String("room_code", race.RoomCode))
	return race, nil
}

func roomCode() string {
	b := make([]byte, roomCodeLength)
	for i := range b {
		b[i] = roomCodeAlphabet[fastrand.Uint32n(uint32(len(roomCodeAlphabet)))]
	}
	return string(b)
}

// GetRace returns the race from the cache, loading it from the store on a
// miss.
func (s *Service) GetRace(ctx context.Context, raceID string) (RaceView, error) {
	if e, ok := s.cache.GetRace(raceID); ok {
		return RaceView{Race: e.Race, Participants: e.Participants}, nil
	}
	race, err := s.store.GetRace(ctx, raceID)
	if errors.Is(err, repository.ErrNotFound) {
		return RaceView{}, fmt.Errorf("%w: %s", ErrRaceNotFound, raceID)
	}
	if err != nil {
		return RaceView{}, fmt.Errorf("load race %s: %w", raceID, err)
	}
	participants, err := s.store.ListParticipants(ctx, raceID)
	if err != nil {
		return RaceView{}, fmt.Errorf("load participants of %s: %w", raceID, err)
	}
	s.cache.SetRace(race, participants)
	return RaceView{Race: race, Participants: participants}, nil
}

// JoinRace seats id in the race. A returning user, or guest with the same
// name, gets their earlier seat back. New seats are only handed out before
// the race starts.
func (s *Service) JoinRace(ctx context.Context, raceID string, id model.Identity) (model.Participant, error) {
	if id.UserID == "" && id.GuestName == "" {
		return model.Participant{}, ErrInvalidIdentity
	}
	view, err := s.GetRace(ctx, raceID)
	if err != nil {
		return model.Participant{}, err
	}
	if view.Race.Status == model.StatusFinished {
		return model.Participant{}, ErrRaceFinished
	}

	for _, p := range view.Participants {
		p := p
		if !p.Matches(id) {
			continue
		}
		if !p.IsActive {
			if err := s.store.SetParticipantActive(ctx, p.ID, true); err != nil {
				return model.Participant{}, fmt.Errorf("reactivate participant: %w", err)
			}
			p.IsActive = true
			s.cache.AddParticipant(raceID, p)
			s.logger.Debug(ctx, "participant rejoined",
				logger.String("race_id", raceID), logger.String("participant_id", p.ID))
		}
		return p, nil
	}

	if view.Race.Status != model.StatusWaiting && view.Race.Status != model.StatusCountdown {
		return model.Participant{}, ErrRaceStarted
	}
	p := model.Participant{
		ID:        uuid.NewString(),
		RaceID:    raceID,
		UserID:    id.UserID,
		GuestName: id.GuestName,
		IsActive:  true,
	}
	if err := s.addParticipant(ctx, p); err != nil {
		return model.Participant{}, err
	}
	return p, nil
}

func (s *Service) addParticipant(ctx context.Context, p model.Participant) error {
	if err := s.store.UpsertParticipant(ctx, p); err != nil {
		return fmt.Errorf("save participant: %w", err)
	}
	if !s.cache.AddParticipant(p.RaceID, p) {
		// not cached: reload so the cache holds the full list
		s.cache.RemoveRace(p.RaceID)
		if _, err := s.GetRace(ctx, p.RaceID); err != nil {
			return err
		}
	}
	return nil
}

// AddBot seats a bot. An empty tier draws one from the configured weights.
// The bot starts typing when the race starts.
func (s *Service) AddBot(ctx context.Context, raceID string, tier bot.Tier) (model.Participant, bot.Profile, error) {
	view, err := s.GetRace(ctx, raceID)
	if err != nil {
		return model.Participant{}, bot.Profile{}, err
	}
	if view.Race.Status != model.StatusWaiting && view.Race.Status != model.StatusCountdown {
		return model.Participant{}, bot.Profile{}, ErrRaceStarted
	}

	weights := s.tierWeights
	if tier != "" {
		weights = map[bot.Tier]float64{tier: 1}
	}
	profile := s.bots.NewProfile(weights)
	p := model.Participant{
		ID:        uuid.NewString(),
		RaceID:    raceID,
		GuestName: profile.Name,
		IsBot:     true,
		IsActive:  true,
	}
	if err := s.addParticipant(ctx, p); err != nil {
		return model.Participant{}, bot.Profile{}, err
	}

	s.bots.Seat(bot.Bot{ID: p.ID, RaceID: raceID, Profile: profile})

	s.logger.Debug(ctx, "bot added",
		logger.String("race_id", raceID),
		logger.String("bot_id", p.ID),
		logger.String("tier", string(profile.Tier)),
		logger.Float64("target_wpm", profile.TargetWPM))
	return p, profile, nil
}

// LeaveRace marks a participant inactive. Its row is kept so the participant
// can rejoin. A leaving bot stops typing.
func (s *Service) LeaveRace(ctx context.Context, raceID, participantID string) error {
	view, err := s.GetRace(ctx, raceID)
	if err != nil {
		return err
	}
	p, ok := view.Participant(participantID)
	if !ok {
		return ErrParticipantNotFound
	}
	if err := s.store.SetParticipantActive(ctx, participantID, false); err != nil {
		return fmt.Errorf("deactivate participant: %w", err)
	}
	s.cache.RemoveParticipant(raceID, participantID)
	if p.IsBot {
		s.bots.StopBot(participantID)
	}
	if view.Race.Status == model.StatusRacing {
		s.checkCompletion(ctx, raceID)
	}
	return nil
}

// StartCountdown moves a waiting race into countdown.
func (s *Service) StartCountdown(ctx context.Context, raceID string) error {
	view, err := s.GetRace(ctx, raceID)
	if err != nil {
		return err
	}
	switch view.Race.Status {
	case model.StatusWaiting:
	case model.StatusFinished:
		return ErrRaceFinished
	default:
		return ErrRaceStarted
	}
	return s.setStatus(ctx, raceID, model.StatusCountdown)
}

// StartRace moves the race into racing and starts its bots.
func (s *Service) StartRace(ctx context.Context, raceID string) error {
	view, err := s.GetRace(ctx, raceID)
	if err != nil {
		return err
	}
	switch view.Race.Status {
	case model.StatusWaiting, model.StatusCountdown:
	case model.StatusFinished:
		return ErrRaceFinished
	default:
		return ErrRaceStarted
	}

	startAt := s.now()
	if err := s.setStatus(ctx, raceID, model.StatusRacing); err != nil {
		return err
	}

	bots := s.bots.Seated(raceID)
	for _, b := range bots {
		if err := s.bots.Spawn(b, view.Race.Paragraph, startAt); err != nil {
			s.logger.Error(ctx, "spawn bot failed",
				logger.String("race_id", raceID), logger.String("bot_id", b.ID), logger.Error(err))
		}
	}
	s.logger.Info(ctx, "race started",
		logger.String("race_id", raceID),
		logger.Int("participants", len(view.Participants)),
		logger.Int("bots", len(bots)))
	return nil
}

func (s *Service) setStatus(ctx context.Context, raceID string, status model.RaceStatus) error {
	at := s.now()
	if err := s.store.UpdateRaceStatus(ctx, raceID, status, at); err != nil {
		return fmt.Errorf("set race %s %s: %w", raceID, status, err)
	}
	s.cache.UpdateRaceStatus(raceID, status, at)
	return nil
}

// RecordProgress buffers a human progress sample and broadcasts it.
// Samples for a participant who already finished are ignored.
func (s *Service) RecordProgress(ctx context.Context, u model.ProgressUpdate) error {
	view, err := s.GetRace(ctx, u.RaceID)
	if err != nil {
		return err
	}
	if view.Race.Status != model.StatusRacing {
		return ErrRaceNotRacing
	}
	p, ok := view.Participant(u.ParticipantID)
	if !ok || !p.IsActive {
		return ErrParticipantNotFound
	}
	if p.IsFinished {
		return nil
	}
	if u.Progress < 0 || u.Progress > utf8.RuneCountInString(view.Race.Paragraph) {
		return fmt.Errorf("%w: %d", ErrInvalidProgress, u.Progress)
	}
	if u.At.IsZero() {
		u.At = s.now()
	}
	if err := s.BufferProgress(ctx, u); err != nil {
		return err
	}
	s.publish(ctx, model.NewProgressEvent(u))
	return nil
}

// BufferProgress writes u to the progress buffer. Bots report through here.
func (s *Service) BufferProgress(ctx context.Context, u model.ProgressUpdate) error {
	if !s.cache.BufferProgress(u) {
		// buffered for flush; the cached view catches up on the next load
		s.logger.Debug(ctx, "progress for uncached race",
			logger.String("race_id", u.RaceID), logger.String("participant_id", u.ParticipantID))
	}
	return nil
}

// FinishParticipant takes the next finish position through the store's
// atomic counter and mirrors it into the cache. Repeat calls return the
// stored position with IsNewFinish false. Bots finish through here.
func (s *Service) FinishParticipant(ctx context.Context, raceID, participantID string, at time.Time) (model.FinishResult, error) {
	res, err := s.store.FinishParticipant(ctx, raceID, participantID, at)
	if errors.Is(err, repository.ErrNotFound) {
		return model.FinishResult{}, fmt.Errorf("%w: %s", ErrRaceNotFound, raceID)
	}
	if errors.Is(err, repository.ErrParticipantAbsent) {
		return model.FinishResult{}, fmt.Errorf("%w: %s", ErrParticipantNotFound, participantID)
	}
	if err != nil {
		return model.FinishResult{}, fmt.Errorf("finish participant: %w", err)
	}
	s.cache.FinishParticipant(raceID, participantID, res.Position, res.FinishedAt)
	return res, nil
}

// Finish records a human finishing the paragraph, broadcasts it and
// completes the race once every active participant is done.
func (s *Service) Finish(ctx context.Context, raceID, participantID string) (model.FinishResult, error) {
	view, err := s.GetRace(ctx, raceID)
	if err != nil {
		return model.FinishResult{}, err
	}
	if view.Race.Status != model.StatusRacing {
		return model.FinishResult{}, ErrRaceNotRacing
	}
	res, err := s.FinishParticipant(ctx, raceID, participantID, s.now())
	if err != nil {
		return model.FinishResult{}, err
	}
	if res.IsNewFinish {
		s.publish(ctx, model.NewFinishedEvent(raceID, res))
		s.checkCompletion(ctx, raceID)
	}
	return res, nil
}

func (s *Service) onBotFinish(ctx context.Context, b bot.Bot, _ model.FinishResult) {
	s.checkCompletion(ctx, b.RaceID)
}

// onBotsStopped writes the last progress of stopped bots and drops their
// buffer entries.
func (s *Service) onBotsStopped(bots []bot.Bot) {
	ids := make([]string, len(bots))
	for i, b := range bots {
		ids[i] = b.ID
	}
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := s.cache.Release(ctx, ids...); err != nil {
		s.logger.Warn(ctx, "release bot progress failed", logger.Strings("bot_ids", ids), logger.Error(err))
	}
}

func (s *Service) checkCompletion(ctx context.Context, raceID string) {
	view, err := s.GetRace(ctx, raceID)
	if err != nil {
		s.logger.Error(ctx, "completion check failed", logger.String("race_id", raceID), logger.Error(err))
		return
	}
	if view.Race.Status != model.StatusRacing {
		return
	}
	finished := 0
	for _, p := range view.Participants {
		if !p.IsActive {
			continue
		}
		if !p.IsFinished {
			return
		}
		finished++
	}
	if finished == 0 {
		return
	}
	s.completeRace(ctx, view)
}

// completeRace finishes the race, rates its humans and broadcasts the
// result. It runs at most once per race.
func (s *Service) completeRace(ctx context.Context, view RaceView) {
	// a shutdown mid-completion must not leave the race half finished
	ctx = context.WithoutCancel(ctx)
	raceID := view.Race.ID
	if s.completed.SeenAndRecord(ctx, raceID) {
		return
	}
	if err := s.setStatus(ctx, raceID, model.StatusFinished); err != nil {
		s.completed.Unrecord(ctx, raceID)
		s.logger.Error(ctx, "complete race failed", logger.String("race_id", raceID), logger.Error(err))
		return
	}
	s.StopRace(raceID)
	if err := s.cache.Flush(ctx); err != nil {
		s.logger.Warn(ctx, "flush at race completion failed", logger.String("race_id", raceID), logger.Error(err))
	}

	placements := s.placements(view)
	changes, err := s.ratings.ProcessRace(ctx, raceID, placements)
	if err != nil {
		s.logger.Error(ctx, "rating update failed", logger.String("race_id", raceID), logger.Error(err))
	}

	s.mu.Lock()
	for _, p := range view.Participants {
		delete(s.disqualified, p.ID)
	}
	s.mu.Unlock()

	metrics.RecordRaceFinished()
	s.publish(ctx, model.NewRaceFinishedEvent(raceID, placements, changes, s.now()))
	s.logger.Info(ctx, "race finished",
		logger.String("race_id", raceID),
		logger.Int("finishers", len(placements)),
		logger.Int("rating_changes", len(changes)))
}

// placements lists finishers by position. Disqualified humans keep their
// place but are not rated.
func (s *Service) placements(view RaceView) []model.Placement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Placement, 0, len(view.Participants))
	for _, p := range view.Participants {
		p := p
		if !p.IsFinished {
			continue
		}
		pl := model.Placement{
			ParticipantID: p.ID,
			UserID:        p.UserID,
			Name:          p.DisplayName(),
			IsBot:         p.IsBot,
			Position:      p.FinishPosition,
			WPM:           p.WPM,
		}
		if _, ok := s.disqualified[p.ID]; ok {
			pl.UserID = ""
		}
		out = append(out, pl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// StopRace stops the bots of a race, typing or still seated. They keep
// answering chat for the configured grace. The reaper calls it for races it
// finalizes.
func (s *Service) StopRace(raceID string) int {
	return s.bots.StopRace(raceID)
}

// SubmitResult validates the keystroke log of a participant. A participant
// whose log is invalid still keeps their place but is excluded from rating.
func (s *Service) SubmitResult(ctx context.Context, sub anticheat.Submission) (anticheat.Result, error) {
	view, err := s.GetRace(ctx, sub.RaceID)
	if err != nil {
		return anticheat.Result{}, err
	}
	p, ok := view.Participant(sub.ParticipantID)
	if !ok || p.IsBot {
		return anticheat.Result{}, ErrParticipantNotFound
	}
	sub.UserID = p.UserID

	res := s.validator.Validate(ctx, sub)
	if !res.Valid {
		s.mu.Lock()
		s.disqualified[p.ID] = struct{}{}
		s.mu.Unlock()
		s.logger.Warn(ctx, "result rejected by anti-cheat",
			logger.String("race_id", sub.RaceID),
			logger.String("participant_id", sub.ParticipantID),
			logger.Strings("flags", res.Flags))
	}
	return res, nil
}

// IssueChallenge starts a typing certification for userID.
func (s *Service) IssueChallenge(ctx context.Context, userID string) anticheat.Challenge {
	return s.validator.IssueChallenge(ctx, userID)
}

// VerifyChallenge checks a certification attempt.
func (s *Service) VerifyChallenge(ctx context.Context, challengeID string, samples []model.KeystrokeSample, clientWPM float64) (anticheat.ChallengeResult, error) {
	return s.validator.VerifyChallenge(ctx, challengeID, samples, clientWPM)
}

// Chat broadcasts a message from a participant and returns the replies of
// bots in the race.
func (s *Service) Chat(ctx context.Context, raceID, senderID, message string) ([]model.Event, error) {
	view, err := s.GetRace(ctx, raceID)
	if err != nil {
		return nil, err
	}
	p, ok := view.Participant(senderID)
	if !ok || !p.IsActive {
		return nil, ErrParticipantNotFound
	}
	s.publish(ctx, model.NewChatEvent(raceID, senderID, p.DisplayName(), message, s.now()))
	return s.bots.HandleChat(ctx, raceID, senderID, message), nil
}

// Rating returns the rating of userID.
func (s *Service) Rating(ctx context.Context, userID string) (model.UserRating, error) {
	return s.ratings.Rating(ctx, userID)
}

// MatchmakingPool lists players rated within tolerance of userID.
func (s *Service) MatchmakingPool(ctx context.Context, userID string, tolerance, limit int) ([]model.UserRating, error) {
	return s.ratings.MatchmakingPool(ctx, userID, tolerance, limit)
}

// BotStatus returns the live state of a bot.
func (s *Service) BotStatus(botID string) (bot.Status, bool) {
	return s.bots.Status(botID)
}

// AdvanceBots moves every bot forward to now. The background ticker does
// this on its own once the service is started.
func (s *Service) AdvanceBots(ctx context.Context, now time.Time) int {
	return s.bots.Advance(ctx, now)
}

// SweepStale runs one reaper sweep.
func (s *Service) SweepStale(ctx context.Context) (reaper.SweepResult, error) {
	return s.reaper.Sweep(ctx)
}

// Flush writes buffered progress to the store.
func (s *Service) Flush(ctx context.Context) error {
	return s.cache.Flush(ctx)
}

func (s *Service) publish(ctx context.Context, ev model.Event) {
	if err := s.queue.Publish(ctx, ev); err != nil {
		s.logger.Warn(ctx, "publish event failed",
			logger.String("type", string(ev.Type)),
			logger.String("race_id", ev.RaceID),
			logger.Error(err))
	}
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() Stats {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	ctx := context.Background()
	return Stats{
		Started:           started,
		Cache:             s.cache.Stats(),
		ActiveBots:        s.bots.Active(),
		QueueLength:       s.queue.Len(ctx),
		Workers:           s.pool.Size(),
		PendingChallenges: s.validator.Pending(),
		CompletedMarkers:  s.completed.Size(),
		Config: map[string]any{
			"storeDriver":    s.cfg.StoreDriver,
			"cacheTTL":       s.cfg.CacheTTL.String(),
			"flushInterval":  s.cfg.CacheFlushInterval.String(),
			"queueSize":      s.cfg.EventQueueSize,
			"botTick":        s.cfg.BotTick.String(),
			"reaperInterval": s.cfg.ReaperInterval.String(),
		},
	}
}
