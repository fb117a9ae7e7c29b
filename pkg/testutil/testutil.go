// Package testutil provides in-memory sink and state store fakes for
// tests. Both record enough about how they were called to assert on
// checkpoint cadence and idempotent replay.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowsync-io/flowsync/pkg/models"
	"github.com/flowsync-io/flowsync/pkg/state"
)

// MemorySink keeps upserted records in a map keyed by primary key, so a
// replayed batch overwrites rather than duplicates. TotalUpserts counts
// every record handed to Upsert including replays.
type MemorySink struct {
	mu           sync.Mutex
	KeyColumns   []string
	rows         map[string]*models.Record
	TotalUpserts int
	UpsertErr    error
	Flushed      int
	Closed       bool
}

// NewMemorySink builds a sink deduplicating on the given key columns
func NewMemorySink(keyColumns ...string) *MemorySink {
	return &MemorySink{
		KeyColumns: keyColumns,
		rows:       make(map[string]*models.Record),
	}
}

func (m *MemorySink) Upsert(_ context.Context, _ string, records []*models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	for _, rec := range records {
		m.rows[rec.Key(m.KeyColumns)] = rec
		m.TotalUpserts++
	}
	return nil
}

func (m *MemorySink) Update(_ context.Context, _ string, records []*models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		key := rec.Key(m.KeyColumns)
		existing, ok := m.rows[key]
		if !ok {
			continue
		}
		for col, v := range rec.Data {
			existing.Set(col, v)
		}
	}
	return nil
}

func (m *MemorySink) Delete(_ context.Context, _ string, keys []map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		rec := models.NewRecord("test", key)
		delete(m.rows, rec.Key(m.KeyColumns))
	}
	return nil
}

func (m *MemorySink) Flush(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Flushed++
	return nil
}

func (m *MemorySink) Close(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Len reports the number of distinct rows after deduplication
func (m *MemorySink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// Row looks up a stored record by its key string
func (m *MemorySink) Row(key string) (*models.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[key]
	return rec, ok
}

// MemoryStore is an in-memory state.Store. SaveCount tracks how many
// times Save was called, which tests use to assert checkpoint cadence.
type MemoryStore struct {
	mu        sync.Mutex
	state     state.SyncState
	SaveCount int
	SaveErr   error
	LoadErr   error
	// Saves keeps a copy of every state passed to Save, in order
	Saves []state.SyncState
}

// NewMemoryStore starts with the given state (may be nil)
func NewMemoryStore(initial state.SyncState) *MemoryStore {
	if initial == nil {
		initial = make(state.SyncState)
	}
	return &MemoryStore{state: initial}
}

func (m *MemoryStore) Load(_ context.Context) (state.SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return m.state.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, st state.SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.state = st.Clone()
	m.Saves = append(m.Saves, st.Clone())
	m.SaveCount++
	return nil
}

// Current returns a copy of the last saved state
func (m *MemoryStore) Current() state.SyncState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// MakeRecords builds n sequential records with an integer id starting
// at start and an updated_at cursor taken from cursorFor
func MakeRecords(start, n int, cursorFor func(i int) string) []*models.Record {
	records := make([]*models.Record, 0, n)
	for i := 0; i < n; i++ {
		id := start + i
		data := map[string]interface{}{
			"id":   fmt.Sprintf("%d", id),
			"name": fmt.Sprintf("record-%d", id),
		}
		if cursorFor != nil {
			data["updated_at"] = cursorFor(id)
		}
		records = append(records, models.NewRecord("test", data))
	}
	return records
}
