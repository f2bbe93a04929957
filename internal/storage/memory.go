package storage

import (
	"context"
	"sync"
)

// Memory is a process-lifetime Store.
type Memory struct {
	mu    sync.Mutex
	doc   ScheduleDocument
	audit []AuditEntry
}

func NewMemory() *Memory { return &Memory{doc: ScheduleDocument{}} }

func (m *Memory) LoadSchedules(context.Context) (ScheduleDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Clone(), nil
}

func (m *Memory) SaveSchedules(_ context.Context, doc ScheduleDocument) error {
	m.mu.Lock()
	m.doc = doc.Clone()
	m.mu.Unlock()
	return nil
}

func (m *Memory) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	m.audit = append(m.audit, e)
	m.mu.Unlock()
	return nil
}

// Audit returns a copy of the recorded audit entries.
func (m *Memory) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audit...)
}

func (m *Memory) Close() error { return nil }
