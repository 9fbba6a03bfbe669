package store

import (
	"fmt"
	"sync"

	"github.com/nhirsama/rmcs-client/pkg/id"
)

// Memory is a Store held in process memory.
type Memory struct {
	mu      sync.Mutex
	records map[id.ID]Record
	revoked map[id.ID]struct{}
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		records: make(map[id.ID]Record),
		revoked: make(map[id.ID]struct{}),
	}
}

func (m *Memory) Create(r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.AccessID]; ok {
		return fmt.Errorf("%s: %w", r.AccessID, ErrExists)
	}
	if _, ok := m.revoked[r.AccessID]; ok {
		return fmt.Errorf("%s: %w", r.AccessID, ErrExists)
	}
	m.records[r.AccessID] = r
	return nil
}

func (m *Memory) Get(accessID id.ID) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[accessID]
	if !ok {
		return Record{}, fmt.Errorf("%s: %w", accessID, ErrNotFound)
	}
	return r, nil
}

func (m *Memory) ListByAuthToken(authToken string) ([]Record, error) {
	return m.list(func(r Record) bool { return r.AuthToken == authToken }), nil
}

func (m *Memory) ListByUser(userID id.ID) ([]Record, error) {
	return m.list(func(r Record) bool { return r.UserID == userID }), nil
}

func (m *Memory) list(match func(Record) bool) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records {
		if match(r) {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out
}

func (m *Memory) Update(accessID id.ID, fn func(*Record) error) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[accessID]
	if !ok {
		return Record{}, fmt.Errorf("%s: %w", accessID, ErrNotFound)
	}
	if err := fn(&r); err != nil {
		return Record{}, err
	}
	r.AccessID = accessID
	m.records[accessID] = r
	return r, nil
}

// UpdateByAuthToken applies fn to every record in the group. If fn fails
// for any of them, none is changed.
func (m *Memory) UpdateByAuthToken(authToken string, fn func(*Record) error) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var group []Record
	for _, r := range m.records {
		if r.AuthToken == authToken {
			group = append(group, r)
		}
	}
	if len(group) == 0 {
		return nil, fmt.Errorf("auth token: %w", ErrNotFound)
	}
	sortRecords(group)
	for i := range group {
		accessID := group[i].AccessID
		if err := fn(&group[i]); err != nil {
			return nil, err
		}
		group[i].AccessID = accessID
	}
	for _, r := range group {
		m.records[r.AccessID] = r
	}
	return group, nil
}

func (m *Memory) Delete(accessID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[accessID]; !ok {
		return fmt.Errorf("%s: %w", accessID, ErrNotFound)
	}
	m.revoke(accessID)
	return nil
}

func (m *Memory) DeleteByAuthToken(authToken string) (int, error) {
	n := m.deleteWhere(func(r Record) bool { return r.AuthToken == authToken })
	if n == 0 {
		return 0, fmt.Errorf("auth token: %w", ErrNotFound)
	}
	return n, nil
}

func (m *Memory) DeleteByUser(userID id.ID) (int, error) {
	return m.deleteWhere(func(r Record) bool { return r.UserID == userID }), nil
}

func (m *Memory) deleteWhere(match func(Record) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for accessID, r := range m.records {
		if match(r) {
			m.revoke(accessID)
			n++
		}
	}
	return n
}

func (m *Memory) revoke(accessID id.ID) {
	delete(m.records, accessID)
	m.revoked[accessID] = struct{}{}
}

func (m *Memory) Close() error { return nil }
