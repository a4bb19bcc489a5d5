package ledger

import (
	"context"
	"strings"
	"sync"
)

// Memory is an in-process Store with the same field semantics as Postgres.
// Used by tests and local development; nothing survives a restart.
type Memory struct {
	mu   sync.Mutex
	data map[string]map[string]Record // domain -> user -> record
}

func NewMemory() *Memory {
	return &Memory{data: map[string]map[string]Record{}}
}

func (m *Memory) domain(name string) map[string]Record {
	d, ok := m.data[name]
	if !ok {
		d = map[string]Record{}
		m.data[name] = d
	}
	return d
}

func cloneRecord(r Record) Record {
	out := NewRecord(r.UserID)
	for k, v := range r.Num {
		out.Num[k] = v
	}
	for k, v := range r.Text {
		out.Text[k] = v
	}
	return out
}

func (m *Memory) Get(_ context.Context, domain, userID string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.domain(domain)[userID]
	if !ok {
		return NewRecord(userID), false, nil
	}
	return cloneRecord(rec), true, nil
}

func (m *Memory) Upsert(_ context.Context, domain string, rec Record) error {
	if strings.TrimSpace(rec.UserID) == "" {
		return ErrInvalidRecord
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.domain(domain)
	cur, ok := d[rec.UserID]
	if !ok {
		cur = NewRecord(rec.UserID)
	}
	for k, v := range rec.Num {
		cur.Num[k] = v
	}
	for k, v := range rec.Text {
		cur.Text[k] = v
	}
	d[rec.UserID] = cur
	return nil
}

func (m *Memory) Add(_ context.Context, domain, userID string, deltas map[string]int64) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.domain(domain)
	cur, ok := d[userID]
	if !ok {
		cur = NewRecord(userID)
	}
	for k, delta := range deltas {
		cur.Num[k] += delta
	}
	d[userID] = cur
	return cloneRecord(cur), nil
}

func (m *Memory) Exists(_ context.Context, domain, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.domain(domain)[userID]
	return ok, nil
}

func (m *Memory) Delete(_ context.Context, domain, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.domain(domain), userID)
	return nil
}

func (m *Memory) All(_ context.Context, domain string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.domain(domain)
	out := make([]Record, 0, len(d))
	for _, rec := range d {
		out = append(out, cloneRecord(rec))
	}
	return out, nil
}
