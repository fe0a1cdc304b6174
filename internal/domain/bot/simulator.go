package bot

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/valyala/fastrand"

	"github.com/okian/typerace/internal/domain/model"
	"github.com/okian/typerace/pkg/logger"
	"github.com/okian/typerace/pkg/metrics"
)

// Host is the race logic bots type into. Bots go through the same finish
// path as humans so positions come from the one atomic counter.
type Host interface {
	BufferProgress(ctx context.Context, u model.ProgressUpdate) error
	FinishParticipant(ctx context.Context, raceID, participantID string, at time.Time) (model.FinishResult, error)
}

// Publisher receives outbound race events.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// FinishFunc is invoked after a bot takes a finish position.
type FinishFunc func(ctx context.Context, b Bot, res model.FinishResult)

// StopFunc is invoked with bots that stopped typing, either because they
// finished or because they were stopped. It runs outside the simulator lock.
type StopFunc func(bots []Bot)

// Bot identifies a simulated participant.
type Bot struct {
	ID      string
	RaceID  string
	Profile Profile
}

// Status is a point-in-time view of a running bot.
type Status struct {
	Bot
	Progress    int
	Length      int
	Errors      int
	WPM         float64
	Accuracy    float64
	MomentumWPM float64
	InFlow      bool
	Struggling  bool
	Finished    bool
	Position    int
}

type run struct {
	bot           Bot
	text          []rune
	idx           int
	errors        int
	mistake       bool // whether the pending character is mistyped
	typingStart   time.Time
	nextAt        time.Time
	lastTyped     time.Time
	lastBroadcast time.Time
	state         typingState
	rng           *rand.Rand
	done          bool
	position      int
}

// seat is a bot known to a race. It stays after the bot stops typing so the
// bot can still chat until the seat expires.
type seat struct {
	bot     Bot
	started bool
	final   *Status
	until   time.Time // zero while the race is live
}

func (st *seat) expired(now time.Time) bool {
	return !st.until.IsZero() && now.After(st.until)
}

type action struct {
	bot    Bot
	update model.ProgressUpdate
	finish bool
}

// Simulator drives every live bot from a single ticker.
type Simulator struct {
	mu     sync.Mutex
	runs   map[string]*run
	seats  map[string]*seat
	byRace map[string]map[string]struct{}

	host      Host
	publisher Publisher
	onFinish  FinishFunc
	onStop    StopFunc
	chat      *Chatter

	tick      time.Duration
	broadcast time.Duration
	chatGrace time.Duration
	rng       *rand.Rand
	now       func() time.Time
	logger    logger.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// New builds a Simulator that types into host.
func New(host Host, opts ...Option) *Simulator {
	s := &Simulator{
		runs:      make(map[string]*run),
		seats:     make(map[string]*seat),
		byRace:    make(map[string]map[string]struct{}),
		host:      host,
		tick:      20 * time.Millisecond,
		broadcast: 250 * time.Millisecond,
		chatGrace: time.Minute,
		now:       time.Now,
		logger:    logger.Get().Named("bot"),
		stopChan:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(int64(fastrand.Uint32())<<32 | int64(fastrand.Uint32())))
	}
	if s.chat == nil {
		s.chat = NewChatter(3*time.Second, 0.3, rand.New(rand.NewSource(s.rng.Int63())))
	}
	return s
}

// NewProfile draws a profile from the simulator's random source.
func (s *Simulator) NewProfile(weights map[Tier]float64) Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return NewProfile(s.rng, weights)
}

// Seat registers b with its race before the race starts. A seated bot
// answers chat but does not type until it is spawned.
func (s *Simulator) Seat(b Bot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seatLocked(b)
}

func (s *Simulator) seatLocked(b Bot) *seat {
	st, ok := s.seats[b.ID]
	if !ok {
		st = &seat{bot: b}
		s.seats[b.ID] = st
	}
	st.until = time.Time{}
	members, ok := s.byRace[b.RaceID]
	if !ok {
		members = make(map[string]struct{})
		s.byRace[b.RaceID] = members
	}
	members[b.ID] = struct{}{}
	return st
}

// Seated returns the bots of a race that are seated but not typing yet,
// ordered by id.
func (s *Simulator) Seated(raceID string) []Bot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Bot
	for id := range s.byRace[raceID] {
		if st := s.seats[id]; !st.started && st.until.IsZero() {
			out = append(out, st.bot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Spawn starts typing paragraph for b. The bot waits for its reaction delay
// after startAt before the first keystroke.
func (s *Simulator) Spawn(b Bot, paragraph string, startAt time.Time) error {
	text := []rune(paragraph)
	if len(text) == 0 {
		return ErrEmptyText
	}
	if b.Profile.TargetWPM <= 0 {
		return ErrInvalidProfile
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[b.ID]; ok {
		return ErrAlreadyRunning
	}
	r := &run{
		bot:  b,
		text: text,
		rng:  rand.New(rand.NewSource(s.rng.Int63())),
	}
	r.typingStart = startAt.Add(reactionDelay(r.rng, b.Profile.Tier))
	r.lastBroadcast = r.typingStart
	r.schedule(r.typingStart)

	s.runs[b.ID] = r
	st := s.seatLocked(b)
	st.bot = b
	st.started = true
	st.final = nil
	metrics.UpdateBotsActive(s.activeLocked())
	return nil
}

// schedule computes when the character at r.idx lands, counting from prev.
func (r *run) schedule(prev time.Time) {
	d, mistake := r.state.keystroke(r.rng, r.bot.Profile, r.idx, len(r.text), r.text[r.idx])
	r.nextAt = prev.Add(time.Duration(d * float64(time.Millisecond)))
	r.mistake = mistake
}

// advance types every character due by now. It returns an action when a
// broadcast is due or the bot finished.
func (r *run) advance(now time.Time, every time.Duration) (action, bool) {
	if r.done || now.Before(r.nextAt) {
		return action{}, false
	}
	emit := false
	for !r.done && !r.nextAt.After(now) {
		at := r.nextAt
		if r.mistake {
			r.errors++
		}
		r.idx++
		r.lastTyped = at
		if r.idx == len(r.text) {
			r.done = true
			break
		}
		if at.Sub(r.lastBroadcast) >= every {
			r.lastBroadcast = at
			emit = true
		}
		r.schedule(at)
	}
	if !emit && !r.done {
		return action{}, false
	}
	return action{bot: r.bot, update: r.progress(), finish: r.done}, true
}

// progress reports speed over typing time and accuracy over typed chars.
func (r *run) progress() model.ProgressUpdate {
	u := model.ProgressUpdate{
		RaceID:        r.bot.RaceID,
		ParticipantID: r.bot.ID,
		Progress:      r.idx,
		Errors:        r.errors,
		Accuracy:      100,
		At:            r.lastTyped,
	}
	if minutes := r.lastTyped.Sub(r.typingStart).Minutes(); minutes > 0 {
		u.WPM = float64(r.idx) / 5 / minutes
	}
	if r.idx > 0 {
		u.Accuracy = float64(r.idx-r.errors) / float64(r.idx) * 100
	}
	return u
}

func (r *run) status() Status {
	u := r.progress()
	return Status{
		Bot:         r.bot,
		Progress:    r.idx,
		Length:      len(r.text),
		Errors:      r.errors,
		WPM:         u.WPM,
		Accuracy:    u.Accuracy,
		MomentumWPM: r.state.momentumWPM,
		InFlow:      r.state.inFlow,
		Struggling:  r.state.struggling,
		Finished:    r.done,
		Position:    r.position,
	}
}

// Advance moves every bot forward to now. Host and publisher calls run after
// the simulator lock is released. It returns the number of actions taken.
func (s *Simulator) Advance(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	s.pruneLocked(now)
	var acts []action
	finished := false
	for _, r := range s.runs {
		if a, ok := r.advance(now, s.broadcast); ok {
			acts = append(acts, a)
			finished = finished || a.finish
		}
	}
	if finished {
		metrics.UpdateBotsActive(s.activeLocked())
	}
	s.mu.Unlock()

	// Earlier keystrokes claim earlier finish positions.
	sort.Slice(acts, func(i, j int) bool {
		if !acts[i].update.At.Equal(acts[j].update.At) {
			return acts[i].update.At.Before(acts[j].update.At)
		}
		return acts[i].bot.ID < acts[j].bot.ID
	})
	for _, a := range acts {
		s.execute(ctx, a)
	}
	return len(acts)
}

func (s *Simulator) execute(ctx context.Context, a action) {
	u := a.update
	if err := s.host.BufferProgress(ctx, u); err != nil {
		s.logger.Warn(ctx, "bot progress rejected",
			logger.String("race_id", u.RaceID),
			logger.String("bot_id", u.ParticipantID),
			logger.Error(err))
	}
	s.publish(ctx, model.NewProgressEvent(u))
	if !a.finish {
		return
	}

	res, err := s.host.FinishParticipant(ctx, u.RaceID, u.ParticipantID, u.At)
	if err != nil {
		s.logger.Error(ctx, "bot finish failed",
			logger.String("race_id", u.RaceID),
			logger.String("bot_id", u.ParticipantID),
			logger.Error(err))
		return
	}
	s.mu.Lock()
	released := false
	if r, ok := s.runs[u.ParticipantID]; ok {
		r.position = res.Position
		final := r.status()
		delete(s.runs, u.ParticipantID)
		if st, ok := s.seats[u.ParticipantID]; ok {
			st.final = &final
		}
		released = true
	}
	s.mu.Unlock()
	if released {
		s.stopped([]Bot{a.bot})
	}
	if !res.IsNewFinish {
		return
	}

	metrics.RecordBotFinish()
	s.logger.Debug(ctx, "bot finished",
		logger.String("race_id", u.RaceID),
		logger.String("bot_id", u.ParticipantID),
		logger.Int("position", res.Position),
		logger.Float64("wpm", u.WPM))
	s.publish(ctx, model.NewFinishedEvent(u.RaceID, res))
	if s.onFinish != nil {
		s.onFinish(ctx, a.bot, res)
	}
}

func (s *Simulator) publish(ctx context.Context, ev model.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn(ctx, "publish bot event failed",
			logger.String("type", string(ev.Type)),
			logger.String("race_id", ev.RaceID),
			logger.Error(err))
	}
}

// HandleChat lets bots in the race answer a message from sender. Replies are
// published and returned.
func (s *Simulator) HandleChat(ctx context.Context, raceID, senderID, message string) []model.Event {
	now := s.now()

	s.mu.Lock()
	s.pruneLocked(now)
	var bots []Bot
	for id := range s.byRace[raceID] {
		if id != senderID {
			bots = append(bots, s.seats[id].bot)
		}
	}
	s.mu.Unlock()
	sort.Slice(bots, func(i, j int) bool { return bots[i].ID < bots[j].ID })

	var out []model.Event
	for _, b := range bots {
		line, ok := s.chat.Respond(b.ID, b.Profile.Personality, message, now)
		if !ok {
			continue
		}
		ev := model.NewChatEvent(raceID, b.ID, b.Profile.Name, line, now)
		s.publish(ctx, ev)
		metrics.RecordBotChat()
		out = append(out, ev)
	}
	return out
}

// StopBot removes a bot and its seat. Stopping an unknown or already
// stopped bot is a no-op that returns false.
func (s *Simulator) StopBot(botID string) bool {
	s.mu.Lock()
	st, ok := s.seats[botID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.runs, botID)
	s.removeSeatLocked(botID)
	metrics.UpdateBotsActive(s.activeLocked())
	s.mu.Unlock()

	s.stopped([]Bot{st.bot})
	return true
}

// StopRace stops every bot of a race and returns how many were stopped.
// Their seats stay for the chat grace period so bots can answer after the
// race is over.
func (s *Simulator) StopRace(raceID string) int {
	s.mu.Lock()
	until := s.now().Add(s.chatGrace)
	var bots []Bot
	for id := range s.byRace[raceID] {
		st := s.seats[id]
		if !st.until.IsZero() {
			continue
		}
		st.until = until
		st.final = nil
		delete(s.runs, id)
		bots = append(bots, st.bot)
	}
	metrics.UpdateBotsActive(s.activeLocked())
	s.mu.Unlock()

	sort.Slice(bots, func(i, j int) bool { return bots[i].ID < bots[j].ID })
	s.stopped(bots)
	return len(bots)
}

func (s *Simulator) stopped(bots []Bot) {
	if s.onStop != nil && len(bots) > 0 {
		s.onStop(bots)
	}
}

// pruneLocked drops seats whose chat grace has run out.
func (s *Simulator) pruneLocked(now time.Time) {
	for id, st := range s.seats {
		if st.expired(now) {
			s.removeSeatLocked(id)
		}
	}
}

func (s *Simulator) removeSeatLocked(botID string) {
	st, ok := s.seats[botID]
	if !ok {
		return
	}
	delete(s.seats, botID)
	if members := s.byRace[st.bot.RaceID]; members != nil {
		delete(members, botID)
		if len(members) == 0 {
			delete(s.byRace, st.bot.RaceID)
		}
	}
	s.chat.Forget(botID)
}

// Status returns the current state of a typing bot, or the final state of
// one that finished in a race that is still live.
func (s *Simulator) Status(botID string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[botID]; ok {
		return r.status(), true
	}
	if st, ok := s.seats[botID]; ok && st.final != nil && st.until.IsZero() {
		return *st.final, true
	}
	return Status{}, false
}

// Seats returns the number of seats, including those in their chat grace.
func (s *Simulator) Seats() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seats)
}

// Active returns the number of bots still typing.
func (s *Simulator) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

func (s *Simulator) activeLocked() int {
	n := 0
	for _, r := range s.runs {
		if !r.done {
			n++
		}
	}
	return n
}

// Run ticks the simulator until ctx is done or Stop is called.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopChan:
			return nil
		case <-ticker.C:
			s.Advance(ctx, s.now())
		}
	}
}

// Start runs the simulator in the background.
func (s *Simulator) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.Run(ctx)
	}()
	s.logger.Info(ctx, "bot simulator started", logger.Duration("tick", s.tick))
}

// Stop halts the ticker. Bots keep their state and can be advanced manually.
func (s *Simulator) Stop(ctx context.Context) {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	s.logger.Info(ctx, "bot simulator stopped", logger.Int("active", s.Active()))
}
