// Package index is the in-memory event tier: an id-keyed cache that answers
// snapshot queries at subscribe time and suppresses duplicate deliveries.
package index

import (
	"sort"
	"sync"

	"github.com/alfredjeanlab/relaymux/internal/model"
)

// DefaultCapacity bounds the index when no capacity is given.
const DefaultCapacity = 10000

// Memory holds recently seen events keyed by id. When full, the oldest
// insertion is evicted; an evicted id can be admitted again.
type Memory struct {
	mu       sync.RWMutex
	byID     map[string]*model.Event
	order    []string // insertion order, oldest first
	head     int      // index of the oldest live entry in order
	capacity int
}

// NewMemory returns an index holding at most capacity events.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{
		byID:     make(map[string]*model.Event),
		capacity: capacity,
	}
}

// Add stores ev and reports whether it was new. A false return means an
// event with the same id is already indexed and ev should not be dispatched.
func (m *Memory) Add(ev *model.Event) bool {
	if ev == nil || ev.ID == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[ev.ID]; ok {
		return false
	}
	m.byID[ev.ID] = ev
	m.order = append(m.order, ev.ID)

	for len(m.byID) > m.capacity {
		oldest := m.order[m.head]
		m.order[m.head] = ""
		m.head++
		delete(m.byID, oldest)
	}
	// Compact once the dead prefix dominates.
	if m.head > len(m.order)/2 {
		m.order = append([]string(nil), m.order[m.head:]...)
		m.head = 0
	}
	return true
}

// Get returns the event with id, if indexed.
func (m *Memory) Get(id string) (*model.Event, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.byID[id]
	return ev, ok
}

// Len returns the number of indexed events.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// Find returns indexed events matching filter, newest first, truncated to
// filter.Limit when it is positive.
func (m *Memory) Find(filter model.Filter) []*model.Event {
	m.mu.RLock()
	var out []*model.Event
	if filter.IDs != nil {
		for _, id := range filter.IDs {
			if ev, ok := m.byID[id]; ok && filter.Matches(ev) {
				out = append(out, ev)
			}
		}
	} else {
		for _, ev := range m.byID {
			if filter.Matches(ev) {
				out = append(out, ev)
			}
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func sortNewestFirst(events []*model.Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt > events[j].CreatedAt
		}
		return events[i].ID < events[j].ID
	})
}
