package crm

import (
	"context"
	"sync"
)

// MemoryStore is an in-process RecordStore used when no CRM is configured
// and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	leads   map[int64]Lead
	notes   map[int64][]string
	creates int
	updates int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leads: make(map[int64]Lead),
		notes: make(map[int64][]string),
	}
}

func (m *MemoryStore) FindByPhone(_ context.Context, phone string) (*Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found *Lead
	for id, l := range m.leads {
		if l.Phone == phone && (found == nil || id < found.ID) {
			l := l
			found = &l
		}
	}
	return found, nil
}

func (m *MemoryStore) Create(_ context.Context, lead Lead) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	lead.ID = m.nextID
	m.leads[lead.ID] = lead
	m.creates++
	return lead.ID, nil
}

func (m *MemoryStore) Update(_ context.Context, id int64, patch Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leads[id]
	if !ok {
		return ErrNotFound
	}
	setIf(&l.Title, patch.Title)
	setIf(&l.ContactName, patch.ContactName)
	setIf(&l.Email, patch.Email)
	setIf(&l.City, patch.City)
	setIf(&l.Description, patch.Description)
	setIf(&l.Priority, patch.Priority)
	setIf(&l.BudgetRange, patch.BudgetRange)
	setIf(&l.Quality, patch.Quality)
	if len(patch.ProductInterest) > 0 {
		l.ProductInterest = patch.ProductInterest
	}
	if patch.Confidence > 0 {
		l.Confidence = patch.Confidence
	}
	m.leads[id] = l
	m.updates++
	return nil
}

func (m *MemoryStore) AddNote(_ context.Context, id int64, html string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes[id] = append(m.notes[id], html)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// Lead returns a copy of the stored lead.
func (m *MemoryStore) Lead(id int64) (Lead, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	return l, ok
}

// Counts reports how many creates and updates were applied.
func (m *MemoryStore) Counts() (creates, updates int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates, m.updates
}

func (m *MemoryStore) Notes(id int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.notes[id]...)
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
