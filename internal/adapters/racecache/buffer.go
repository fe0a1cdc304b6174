package racecache

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/typerace/internal/domain/model"
	"github.com/okian/typerace/pkg/metrics"
)

type bufferEntry struct {
	update    model.ProgressUpdate
	dirty     bool
	updatedAt time.Time
}

// BufferProgress records u for the next flush and mirrors it into the cached
// participant so readers see it immediately. It reports whether the cached
// race was updated.
func (c *Cache) BufferProgress(u model.ProgressUpdate) bool {
	now := c.now()
	if u.At.IsZero() {
		u.At = now
	}

	c.bufMu.Lock()
	b, ok := c.buffer[u.ParticipantID]
	if !ok {
		b = &bufferEntry{}
		c.buffer[u.ParticipantID] = b
	}
	b.update = u
	b.dirty = true
	b.updatedAt = now
	c.bufMu.Unlock()

	return c.mutate(u.RaceID, func(e *entry) bool {
		for i := range e.Participants {
			if e.Participants[i].ID == u.ParticipantID {
				e.Participants[i].Apply(u)
				return true
			}
		}
		return false
	})
}

// Release writes the dirty progress of the given participants and forgets
// their buffer entries. On a failed write the entries stay dirty for the next
// flush and the error is returned.
func (c *Cache) Release(ctx context.Context, participantIDs ...string) error {
	if len(participantIDs) == 0 {
		return nil
	}
	only := make(map[string]struct{}, len(participantIDs))
	for _, id := range participantIDs {
		only[id] = struct{}{}
	}

	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	if err := c.write(ctx, c.takeDirty(only)); err != nil {
		return err
	}

	c.bufMu.Lock()
	for id := range only {
		// progress buffered since the write is kept for the next flush
		if b, ok := c.buffer[id]; ok && !b.dirty {
			delete(c.buffer, id)
		}
	}
	c.bufMu.Unlock()
	return nil
}

// takeDirty collects dirty entries and clears their flag. A nil only takes
// every participant.
func (c *Cache) takeDirty(only map[string]struct{}) []model.ProgressUpdate {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	var batch []model.ProgressUpdate
	for id, b := range c.buffer {
		if !b.dirty {
			continue
		}
		if _, ok := only[id]; only != nil && !ok {
			continue
		}
		b.dirty = false
		batch = append(batch, b.update)
	}
	return batch
}

// restoreDirty re-marks a failed batch. Entries updated since the batch was
// taken are already dirty with newer data and are left alone.
func (c *Cache) restoreDirty(batch []model.ProgressUpdate) {
	now := c.now()
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	for _, u := range batch {
		b, ok := c.buffer[u.ParticipantID]
		if !ok {
			c.buffer[u.ParticipantID] = &bufferEntry{update: u, dirty: true, updatedAt: now}
			continue
		}
		b.dirty = true
	}
}

// Flush hands every dirty buffer entry to the flush callback. Dirty flags are
// cleared before the call and restored if it fails, so no update is lost.
func (c *Cache) Flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	return c.write(ctx, c.takeDirty(nil))
}

// write hands batch to the flush callback. Callers hold flushMu.
func (c *Cache) write(ctx context.Context, batch []model.ProgressUpdate) error {
	if len(batch) == 0 {
		return nil
	}
	if c.flush == nil {
		c.flushes.Add(1)
		c.flushedEntries.Add(uint64(len(batch)))
		return nil
	}

	start := time.Now()
	if err := c.flush(ctx, batch); err != nil {
		c.restoreDirty(batch)
		c.flushErrors.Add(1)
		metrics.RecordCacheFlushError()
		metrics.UpdateCacheDirtyEntries(c.dirtyCount())
		return fmt.Errorf("flush %d progress entries: %w", len(batch), err)
	}
	c.flushes.Add(1)
	c.flushedEntries.Add(uint64(len(batch)))
	metrics.RecordCacheFlush(len(batch), float64(time.Since(start).Milliseconds()))
	metrics.UpdateCacheDirtyEntries(c.dirtyCount())
	return nil
}

// pruneBuffer drops clean entries not touched within the TTL.
func (c *Cache) pruneBuffer(now time.Time) {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	for id, b := range c.buffer {
		if !b.dirty && now.Sub(b.updatedAt) > c.ttl {
			delete(c.buffer, id)
		}
	}
}

func (c *Cache) bufferCounts() (buffered, dirty int) {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	for _, b := range c.buffer {
		if b.dirty {
			dirty++
		}
	}
	return len(c.buffer), dirty
}

func (c *Cache) dirtyCount() int {
	_, dirty := c.bufferCounts()
	return dirty
}
