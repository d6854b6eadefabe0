package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"splitbill/cmd/identity/ids"
)

// MemoryStore is an in-process Store for development and tests.
// All methods are safe for concurrent use; every check-then-write runs under one lock.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]Account
	byEmail map[string]string // email_norm -> id
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]Account),
		byEmail: make(map[string]string),
	}
}

// GetByID returns the account or NotFoundError.
func (m *MemoryStore) GetByID(ctx context.Context, id string) (Account, error) {
	const op = "identity.GetByID"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Account{}, invalid(op, "missing id")
	}
	if !ids.Valid(id) {
		return Account{}, accountNotFound(op)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.byID[id]
	if !ok {
		return Account{}, accountNotFound(op)
	}
	return cloneAccount(a), nil
}

// GetByEmail returns the account bound to the normalized email or NotFoundError.
func (m *MemoryStore) GetByEmail(ctx context.Context, email string) (Account, error) {
	const op = "identity.GetByEmail"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	norm := NormalizeEmail(email)
	if norm == "" {
		return Account{}, invalid(op, "missing email")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[norm]
	if !ok {
		return Account{}, accountNotFound(op)
	}
	return cloneAccount(m.byID[id]), nil
}

// CreateGuest inserts a guest account.
func (m *MemoryStore) CreateGuest(ctx context.Context, in CreateGuestInput) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	now := nowOrUTC(in.Now)
	id, err := NewULID(now)
	if err != nil {
		return Account{}, err
	}

	a := Account{
		ID:           id,
		DisplayName:  trimPtr(in.DisplayName),
		IsGuest:      true,
		CreatedAt:    now,
		LastActiveAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.byID[id]; dup {
		return Account{}, ConflictError{Op: "identity.CreateGuest", Field: "id"}
	}
	m.byID[id] = a
	return cloneAccount(a), nil
}

// CreateRegistered inserts a registered account.
func (m *MemoryStore) CreateRegistered(ctx context.Context, in CreateRegisteredInput) (Account, error) {
	const op = "identity.CreateRegistered"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	email, norm, err := validateCredentials(op, in.Email, in.PasswordHash)
	if err != nil {
		return Account{}, err
	}

	now := nowOrUTC(in.Now)
	id, err := NewULID(now)
	if err != nil {
		return Account{}, err
	}

	hash := in.PasswordHash
	a := Account{
		ID:           id,
		Email:        &email,
		EmailNorm:    &norm,
		PasswordHash: &hash,
		DisplayName:  trimPtr(in.DisplayName),
		CreatedAt:    now,
		LastActiveAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byEmail[norm]; taken {
		return Account{}, ConflictError{Op: op, Field: "email"}
	}
	if _, dup := m.byID[id]; dup {
		return Account{}, ConflictError{Op: op, Field: "id"}
	}
	m.byID[id] = a
	m.byEmail[norm] = id
	return cloneAccount(a), nil
}

// UpgradeGuest converts a guest account in place.
func (m *MemoryStore) UpgradeGuest(ctx context.Context, in UpgradeGuestInput) (Account, error) {
	const op = "identity.UpgradeGuest"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return Account{}, invalid(op, "missing id")
	}
	email, norm, err := validateCredentials(op, in.Email, in.PasswordHash)
	if err != nil {
		return Account{}, err
	}
	now := nowOrUTC(in.Now)

	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[id]
	if !ok {
		return Account{}, accountNotFound(op)
	}
	if !a.IsGuest {
		return Account{}, notGuest(op)
	}
	if owner, taken := m.byEmail[norm]; taken && owner != id {
		return Account{}, ConflictError{Op: op, Field: "email"}
	}

	hash := in.PasswordHash
	a.Email = &email
	a.EmailNorm = &norm
	a.PasswordHash = &hash
	a.IsGuest = false
	if dn := trimPtr(in.DisplayName); dn != nil {
		a.DisplayName = dn
	}
	if now.After(a.LastActiveAt) {
		a.LastActiveAt = now
	}

	m.byID[id] = a
	m.byEmail[norm] = id
	return cloneAccount(a), nil
}

// Touch bumps LastActiveAt monotonically.
func (m *MemoryStore) Touch(ctx context.Context, id string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now = nowOrUTC(now)

	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[strings.TrimSpace(id)]
	if !ok {
		return nil
	}
	if now.After(a.LastActiveAt) {
		a.LastActiveAt = now
		m.byID[a.ID] = a
	}
	return nil
}

// Len returns the number of stored accounts.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// cloneAccount detaches pointer fields so callers cannot mutate stored state.
func cloneAccount(a Account) Account {
	a.Email = clonePtr(a.Email)
	a.EmailNorm = clonePtr(a.EmailNorm)
	a.PasswordHash = clonePtr(a.PasswordHash)
	a.DisplayName = clonePtr(a.DisplayName)
	return a
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
