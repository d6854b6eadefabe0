package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process RefreshStore for development and tests.
type MemoryStore struct {
	mu        sync.Mutex
	byFP      map[string]Record
	byAccount map[string]map[string]struct{}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byFP:      make(map[string]Record),
		byAccount: make(map[string]map[string]struct{}),
	}
}

func (m *MemoryStore) Create(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.byFP[rec.Fingerprint]; dup {
		return ErrFingerprintTaken
	}
	m.byFP[rec.Fingerprint] = rec

	set := m.byAccount[rec.AccountID]
	if set == nil {
		set = make(map[string]struct{})
		m.byAccount[rec.AccountID] = set
	}
	set[rec.Fingerprint] = struct{}{}
	return nil
}

func (m *MemoryStore) Exists(ctx context.Context, fingerprint string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.byFP[fingerprint]
	return ok, nil
}

func (m *MemoryStore) Consume(ctx context.Context, fingerprint string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byFP[fingerprint]
	if !ok {
		return Record{}, ErrSessionNotFound
	}
	m.removeLocked(rec)
	return rec, nil
}

func (m *MemoryStore) Delete(ctx context.Context, fingerprint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.byFP[fingerprint]; ok {
		m.removeLocked(rec)
	}
	return nil
}

func (m *MemoryStore) DeleteAllForAccount(ctx context.Context, accountID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.byAccount[accountID]
	for fp := range set {
		delete(m.byFP, fp)
	}
	delete(m.byAccount, accountID)
	return int64(len(set)), nil
}

func (m *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, rec := range m.byFP {
		if rec.Expired(now) {
			m.removeLocked(rec)
			n++
		}
	}
	return n, nil
}

// Snapshot returns a copy of all records; intended for tests and diagnostics.
func (m *MemoryStore) Snapshot() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, 0, len(m.byFP))
	for _, rec := range m.byFP {
		out = append(out, rec)
	}
	return out
}

func (m *MemoryStore) removeLocked(rec Record) {
	delete(m.byFP, rec.Fingerprint)
	if set := m.byAccount[rec.AccountID]; set != nil {
		delete(set, rec.Fingerprint)
		if len(set) == 0 {
			delete(m.byAccount, rec.AccountID)
		}
	}
}
