package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pagemill/pagemill/convert"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// Memory is the in-process result cache. It is the read-through front layer;
// correctness never depends on it surviving a restart.
type Memory struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

type memoryEntry struct {
	result   *convert.Result
	storedAt time.Time
}

// NewMemory creates an in-process cache. A zero ttl means entries never expire.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
	}
}

func (m *Memory) Get(ctx context.Context, fileID string) (*convert.Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[fileID]
	if !ok {
		return nil, false
	}
	if m.ttl > 0 && time.Since(entry.storedAt) > m.ttl {
		return nil, false
	}
	return entry.result, true
}

// Put stores a result, replacing any existing entry (last write wins).
func (m *Memory) Put(ctx context.Context, fileID string, result *convert.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[fileID] = memoryEntry{result: result, storedAt: time.Now()}
}

// Sweep drops expired entries and reports how many were removed. Driven by the
// janitor schedule.
func (m *Memory) Sweep() int {
	if m.ttl == 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for fileID, entry := range m.entries {
		if time.Since(entry.storedAt) > m.ttl {
			delete(m.entries, fileID)
			removed++
		}
	}
	return removed
}

// Len reports the number of live entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Tiered layers a fast front cache over a persistent back cache. Back-layer
// hits are promoted into the front; back-layer failures are already reported
// as misses by the implementations, so no error handling happens here.
type Tiered struct {
	Front convert.ResultCache
	Back  convert.ResultCache
}

func NewTiered(front, back convert.ResultCache) *Tiered {
	return &Tiered{Front: front, Back: back}
}

func (t *Tiered) Get(ctx context.Context, fileID string) (*convert.Result, bool) {
	if result, ok := t.Front.Get(ctx, fileID); ok {
		return result, true
	}
	result, ok := t.Back.Get(ctx, fileID)
	if ok {
		t.Front.Put(ctx, fileID, result)
	}
	return result, ok
}

func (t *Tiered) Put(ctx context.Context, fileID string, result *convert.Result) {
	t.Front.Put(ctx, fileID, result)
	t.Back.Put(ctx, fileID, result)
}
