// Package store keeps the offline access token of every shop that installed
// the app, so operator actions can omit the token.
package store

import (
	"context"
	"sync"
	"time"

	"gtm-datalayer/internal/model"
)

// Credential is the access granted by one shop.
type Credential struct {
	Shop        string    `json:"shop"`
	AccessToken string    `json:"access_token"`
	Scope       string    `json:"scope"`
	InstalledAt time.Time `json:"installed_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store persists credentials by shop. Get returns an error wrapping
// model.ErrNotFound when the shop is unknown.
type Store interface {
	Get(ctx context.Context, shop string) (*Credential, error)
	Save(ctx context.Context, cred *Credential) error
	Delete(ctx context.Context, shop string) error
}

func notFound(shop string) error {
	return model.NewNotFoundError("credentials for " + shop)
}

// Memory is an in-process Store used when no database is configured.
type Memory struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{creds: make(map[string]Credential)}
}

func (m *Memory) Get(_ context.Context, shop string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.creds[shop]
	if !ok {
		return nil, notFound(shop)
	}
	return &c, nil
}

func (m *Memory) Save(_ context.Context, cred *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	c := *cred
	if prev, ok := m.creds[c.Shop]; ok {
		c.InstalledAt = prev.InstalledAt
	} else if c.InstalledAt.IsZero() {
		c.InstalledAt = now
	}
	c.UpdatedAt = now
	m.creds[c.Shop] = c
	return nil
}

func (m *Memory) Delete(_ context.Context, shop string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, shop)
	return nil
}
