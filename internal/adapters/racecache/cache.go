// Package racecache keeps live races in memory with TTL expiry, LRU and
// memory-budget eviction, and a write-behind buffer for progress updates.
package racecache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/okian/typerace/internal/domain/model"
	"github.com/okian/typerace/pkg/logger"
	"github.com/okian/typerace/pkg/metrics"
)

// Default cache configuration constants.
const (
	defaultTTL           = 30 * time.Minute
	defaultMaxEntries    = 10_000
	defaultMemoryBudget  = 64 << 20
	defaultFlushInterval = 500 * time.Millisecond
	defaultSweepInterval = time.Minute
)

// Eviction reasons.
const (
	ReasonLRU    = "lru"
	ReasonMemory = "memory"
	ReasonTTL    = "ttl"
)

// Rough per-object overheads used by the memory estimate.
const (
	entryOverhead       = 256
	participantOverhead = 192
)

// FlushFunc persists a batch of buffered progress updates.
type FlushFunc func(ctx context.Context, batch []model.ProgressUpdate) error

// Spiller keeps a batch that could not be flushed at shutdown.
type Spiller interface {
	Spill(ctx context.Context, batch []model.ProgressUpdate) error
}

// Entry is a cached race view. Values returned by the cache are copies.
type Entry struct {
	Race         model.Race
	Participants []model.Participant
	Version      uint64
	LastAccess   time.Time
	UpdatedAt    time.Time
}

type entry struct {
	Entry
	size int64
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Hits           uint64 `json:"hits"`
	Misses         uint64 `json:"misses"`
	Evictions      uint64 `json:"evictions"`
	Flushes        uint64 `json:"flushes"`
	FlushErrors    uint64 `json:"flushErrors"`
	FlushedEntries uint64 `json:"flushedEntries"`
	Size           int    `json:"size"`
	Buffered       int    `json:"buffered"`
	Dirty          int    `json:"dirty"`
	MemoryBytes    int64  `json:"memoryBytes"`
}

// Cache is the race state cache. Entries and the progress buffer are guarded
// by separate locks and never held together.
type Cache struct {
	mu      sync.Mutex
	entries *simplelru.LRU[string, *entry]
	memory  int64

	bufMu  sync.Mutex
	buffer map[string]*bufferEntry

	flushMu sync.Mutex

	ttl           time.Duration
	maxEntries    int
	memoryBudget  int64
	flushInterval time.Duration
	sweepInterval time.Duration
	flush         FlushFunc
	spill         Spiller
	now           func() time.Time
	logger        logger.Logger

	hits, misses, evictions              atomic.Uint64
	flushes, flushErrors, flushedEntries atomic.Uint64

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// New constructs a cache. flush may be nil, in which case Flush only clears
// dirty flags.
func New(flush FlushFunc, opts ...Option) *Cache {
	c := &Cache{
		buffer:        make(map[string]*bufferEntry),
		ttl:           defaultTTL,
		maxEntries:    defaultMaxEntries,
		memoryBudget:  defaultMemoryBudget,
		flushInterval: defaultFlushInterval,
		sweepInterval: defaultSweepInterval,
		flush:         flush,
		now:           time.Now,
		logger:        logger.Get().Named("racecache"),
		stopChan:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	// Only fails for a non-positive size, which WithMaxEntries rejects.
	c.entries, _ = simplelru.NewLRU[string, *entry](c.maxEntries, func(_ string, e *entry) {
		c.memory -= e.size
	})
	return c
}

func estimateSize(e *entry) int64 {
	n := int64(entryOverhead + len(e.Race.ID) + len(e.Race.RoomCode) + len(e.Race.Paragraph))
	for i := range e.Participants {
		p := &e.Participants[i]
		n += int64(participantOverhead + len(p.ID) + len(p.RaceID) + len(p.UserID) + len(p.GuestName))
	}
	return n
}

func (e *entry) snapshot() Entry {
	out := e.Entry
	out.Participants = model.CloneParticipants(e.Participants)
	return out
}

// SetRace inserts or replaces the cached view of a race.
func (c *Cache) SetRace(race model.Race, participants []model.Participant) {
	now := c.now()
	e := &entry{Entry: Entry{
		Race:         race,
		Participants: model.CloneParticipants(participants),
		LastAccess:   now,
		UpdatedAt:    now,
	}}
	e.size = estimateSize(e)

	c.mu.Lock()
	if old, ok := c.entries.Peek(race.ID); ok {
		e.Version = old.Version + 1
		c.entries.Remove(race.ID)
	} else {
		e.Version = 1
	}
	c.memory += e.size
	if c.entries.Add(race.ID, e) {
		c.evictions.Add(1)
		metrics.RecordCacheEviction(ReasonLRU)
	}
	c.enforceBudget()
	size, mem := c.entries.Len(), c.memory
	c.mu.Unlock()

	metrics.UpdateCacheEntries(size)
	metrics.UpdateCacheMemoryBytes(mem)
}

// enforceBudget evicts least-recently-accessed entries until the estimate is
// under budget. The newest entry is kept. Caller holds c.mu.
func (c *Cache) enforceBudget() {
	for c.memoryBudget > 0 && c.memory > c.memoryBudget && c.entries.Len() > 1 {
		if _, _, ok := c.entries.RemoveOldest(); !ok {
			return
		}
		c.evictions.Add(1)
		metrics.RecordCacheEviction(ReasonMemory)
	}
}

// expired reports whether e is past its TTL at now.
func (c *Cache) expired(e *entry, now time.Time) bool {
	return now.Sub(e.UpdatedAt) > c.ttl
}

// GetRace returns the cached race if it is within TTL. Expired entries are
// evicted and reported as a miss.
func (c *Cache) GetRace(raceID string) (Entry, bool) {
	now := c.now()
	c.mu.Lock()
	e, ok := c.entries.Peek(raceID)
	if ok && c.expired(e, now) {
		c.entries.Remove(raceID)
		c.evictions.Add(1)
		metrics.RecordCacheEviction(ReasonTTL)
		ok = false
	}
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		metrics.RecordCacheMiss()
		return Entry{}, false
	}
	c.entries.Get(raceID) // bump recency
	e.LastAccess = now
	out := e.snapshot()
	c.mu.Unlock()

	c.hits.Add(1)
	metrics.RecordCacheHit()
	return out, true
}

// mutate applies fn to a live entry and bumps its version. It reports false
// when the race is not cached or has expired.
func (c *Cache) mutate(raceID string, fn func(e *entry) bool) bool {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Peek(raceID)
	if !ok {
		return false
	}
	if c.expired(e, now) {
		c.entries.Remove(raceID)
		c.evictions.Add(1)
		metrics.RecordCacheEviction(ReasonTTL)
		return false
	}
	if !fn(e) {
		return false
	}
	c.entries.Get(raceID)
	e.Version++
	e.UpdatedAt = now
	e.LastAccess = now
	size := estimateSize(e)
	c.memory += size - e.size
	e.size = size
	c.enforceBudget()
	return true
}

// UpdateParticipants replaces the participant list of a cached race.
func (c *Cache) UpdateParticipants(raceID string, participants []model.Participant) bool {
	return c.mutate(raceID, func(e *entry) bool {
		e.Participants = model.CloneParticipants(participants)
		return true
	})
}

// AddParticipant appends p, or replaces the participant with the same id.
func (c *Cache) AddParticipant(raceID string, p model.Participant) bool {
	return c.mutate(raceID, func(e *entry) bool {
		for i := range e.Participants {
			if e.Participants[i].ID == p.ID {
				e.Participants[i] = p
				return true
			}
		}
		e.Participants = append(e.Participants, p)
		return true
	})
}

// RemoveParticipant marks a participant inactive. Rows are kept so the
// participant can rejoin.
func (c *Cache) RemoveParticipant(raceID, participantID string) bool {
	return c.mutate(raceID, func(e *entry) bool {
		for i := range e.Participants {
			if e.Participants[i].ID == participantID {
				e.Participants[i].IsActive = false
				return true
			}
		}
		return false
	})
}

// UpdateRaceStatus sets the status of a cached race and stamps the matching
// timestamp.
func (c *Cache) UpdateRaceStatus(raceID string, status model.RaceStatus, at time.Time) bool {
	return c.mutate(raceID, func(e *entry) bool {
		e.Race.Status = status
		switch status {
		case model.StatusRacing:
			e.Race.StartedAt = at
		case model.StatusFinished:
			e.Race.FinishedAt = at
		}
		return true
	})
}

// FinishParticipant records a finish position assigned by the store.
func (c *Cache) FinishParticipant(raceID, participantID string, position int, at time.Time) bool {
	return c.mutate(raceID, func(e *entry) bool {
		for i := range e.Participants {
			p := &e.Participants[i]
			if p.ID != participantID {
				continue
			}
			p.IsFinished = true
			p.FinishPosition = position
			p.FinishedAt = at
			if position > e.Race.FinishCounter {
				e.Race.FinishCounter = position
			}
			return true
		}
		return false
	})
}

// RemoveRace evicts a race. Buffered progress is left for the next flush.
func (c *Cache) RemoveRace(raceID string) bool {
	c.mu.Lock()
	ok := c.entries.Remove(raceID)
	size, mem := c.entries.Len(), c.memory
	c.mu.Unlock()
	if ok {
		metrics.UpdateCacheEntries(size)
		metrics.UpdateCacheMemoryBytes(mem)
	}
	return ok
}

// Sweep evicts expired entries and prunes clean buffer entries older than the
// TTL. It returns the number of evicted races.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	evicted := 0
	for _, id := range c.entries.Keys() {
		if e, ok := c.entries.Peek(id); ok && c.expired(e, now) {
			c.entries.Remove(id)
			evicted++
			metrics.RecordCacheEviction(ReasonTTL)
		}
	}
	c.evictions.Add(uint64(evicted))
	size, mem := c.entries.Len(), c.memory
	c.mu.Unlock()

	c.pruneBuffer(now)
	metrics.UpdateCacheEntries(size)
	metrics.UpdateCacheMemoryBytes(mem)
	return evicted
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	size, mem := c.entries.Len(), c.memory
	c.mu.Unlock()
	buffered, dirty := c.bufferCounts()
	return Stats{
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		Evictions:      c.evictions.Load(),
		Flushes:        c.flushes.Load(),
		FlushErrors:    c.flushErrors.Load(),
		FlushedEntries: c.flushedEntries.Load(),
		Size:           size,
		Buffered:       buffered,
		Dirty:          dirty,
		MemoryBytes:    mem,
	}
}

// Run drives the flush and sweep loops until ctx is cancelled or Stop is
// called. It always returns nil.
func (c *Cache) Run(ctx context.Context) error {
	flush := time.NewTicker(c.flushInterval)
	defer flush.Stop()
	sweep := time.NewTicker(c.sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stopChan:
			return nil
		case <-flush.C:
			if err := c.Flush(ctx); err != nil {
				c.logger.Warn(ctx, "progress flush failed, will retry", logger.Error(err))
			}
		case <-sweep.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug(ctx, "swept expired races", logger.Int("evicted", n))
			}
		}
	}
}

// Start runs the background loops in a goroutine.
func (c *Cache) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.Run(ctx)
	}()
}

// Stop ends the loops and performs a final flush. If that flush fails and a
// spill is configured, the dirty batch is written to the spill instead.
func (c *Cache) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()

	err := c.Flush(ctx)
	if err == nil || c.spill == nil {
		return err
	}
	batch := c.takeDirty(nil)
	if len(batch) == 0 {
		return err
	}
	if serr := c.spill.Spill(ctx, batch); serr != nil {
		c.restoreDirty(batch)
		c.logger.Error(ctx, "spill failed, progress lost on exit",
			logger.Int("entries", len(batch)), logger.Error(serr))
		return serr
	}
	c.logger.Warn(ctx, "final flush failed, progress spilled",
		logger.Int("entries", len(batch)), logger.Error(err))
	return nil
}
