// Package credentials stores the account credentials the cache resolves.
package credentials

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	ErrNotFound     = errors.New("credential not found")
	ErrInvalidEmail = errors.New("credential email is required")
)

// Credential is an email and password registered with the remote service,
// optionally paired with an account-level API key used when no UID is known.
type Credential struct {
	Email         string
	Password      string
	AccountAPIKey string
}

// Store is the host's credential storage.
type Store interface {
	// List returns every credential in a stable order.
	List(ctx context.Context) ([]Credential, error)
	Get(ctx context.Context, email string) (Credential, error)
	Put(ctx context.Context, c Credential) error
	Delete(ctx context.Context, email string) error
}

// Normalize trims the email. Lookups use the trimmed form.
func Normalize(email string) string {
	return strings.TrimSpace(email)
}

// MemoryStore keeps credentials in insertion order.
type MemoryStore struct {
	mu    sync.RWMutex
	order []string
	byKey map[string]Credential
}

func NewMemoryStore(creds ...Credential) *MemoryStore {
	m := &MemoryStore{byKey: make(map[string]Credential)}
	for _, c := range creds {
		_ = m.Put(context.Background(), c)
	}
	return m
}

func (m *MemoryStore) List(ctx context.Context) ([]Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Credential, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.byKey[k])
	}
	return out, nil
}

func (m *MemoryStore) Get(ctx context.Context, email string) (Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byKey[Normalize(email)]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) Put(ctx context.Context, c Credential) error {
	c.Email = Normalize(c.Email)
	if c.Email == "" {
		return ErrInvalidEmail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byKey[c.Email]; !ok {
		m.order = append(m.order, c.Email)
	}
	m.byKey[c.Email] = c
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, email string) error {
	email = Normalize(email)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byKey[email]; !ok {
		return ErrNotFound
	}
	delete(m.byKey, email)
	for i, k := range m.order {
		if k == email {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}
