package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/alfredjeanlab/relaymux/internal/model"
)

// mockStore is a minimal in-memory store for sync tests.
type mockStore struct {
	mu       sync.Mutex
	events   map[string]*model.Event
	kv       map[string]json.RawMessage
	queryErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		events: make(map[string]*model.Event),
		kv:     make(map[string]json.RawMessage),
	}
}

func (m *mockStore) add(evs ...*model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range evs {
		m.events[ev.ID] = ev
	}
}

func (m *mockStore) SaveEvents(_ context.Context, evs []*model.Event) (int, error) {
	m.add(evs...)
	return len(evs), nil
}

func (m *mockStore) GetEvent(_ context.Context, id string) (*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return ev, nil
}

func (m *mockStore) QueryEvents(_ context.Context, f model.Filter) ([]*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var out []*model.Event
	for _, ev := range m.events {
		if f.Matches(ev) {
			out = append(out, ev)
		}
	}
	// Newest first, like the real store.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

func (m *mockStore) CountEvents(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events), nil
}

func (m *mockStore) GetValue(_ context.Context, key string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return v, nil
}

func (m *mockStore) PutValue(_ context.Context, key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !json.Valid(value) {
		return errors.New("invalid json")
	}
	m.kv[key] = value
	return nil
}

func (m *mockStore) Close() error { return nil }
