package governor

import (
	"context"
	"sync"
	"time"
)

// Limit is one fixed-window counter. A window opens on the first admitted
// event and resets once Period has elapsed.
type Limit struct {
	Key    string
	Max    int
	Period time.Duration
}

// Store holds window counters.
type Store interface {
	// Acquire checks every limit and increments all of them only when all
	// have room. When refused it returns the index of the first full limit
	// and the time until that window resets.
	Acquire(ctx context.Context, now time.Time, limits []Limit) (ok bool, blocked int, retryAfter time.Duration, err error)
	// Peek returns the current count of a limit without changing it.
	Peek(ctx context.Context, now time.Time, l Limit) (int, error)
}

type window struct {
	start time.Time
	count int
}

// MemoryStore keeps windows in process memory. Counts reset on restart.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

func (m *MemoryStore) current(now time.Time, l Limit) *window {
	w := m.windows[l.Key]
	if w == nil || now.Sub(w.start) >= l.Period {
		w = &window{start: now}
		m.windows[l.Key] = w
	}
	return w
}

func (m *MemoryStore) Acquire(_ context.Context, now time.Time, limits []Limit) (bool, int, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws := make([]*window, len(limits))
	for i, l := range limits {
		w := m.current(now, l)
		if w.count >= l.Max {
			return false, i, w.start.Add(l.Period).Sub(now), nil
		}
		ws[i] = w
	}
	for _, w := range ws {
		w.count++
	}
	return true, -1, 0, nil
}

func (m *MemoryStore) Peek(_ context.Context, now time.Time, l Limit) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.windows[l.Key]
	if w == nil || now.Sub(w.start) >= l.Period {
		return 0, nil
	}
	return w.count, nil
}
