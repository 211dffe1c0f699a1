package qbo

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// CredentialSource loads a user's stored QBO connection.
type CredentialSource interface {
	Credential(ctx context.Context, userID uuid.UUID) (Credentials, error)
	TokenStore
}

// Manager hands out one Client per user and caches it, so refresh
// serialization holds across concurrent jobs for the same user.
type Manager struct {
	cfg   Config
	creds CredentialSource

	mu      sync.Mutex
	clients map[uuid.UUID]*Client
}

// NewManager creates a Manager using the shared app config.
func NewManager(cfg Config, creds CredentialSource) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		creds:   creds,
		clients: make(map[uuid.UUID]*Client),
	}
}

// ClientFor returns the cached client for a user, creating it from stored
// credentials on first use.
func (m *Manager) ClientFor(ctx context.Context, userID uuid.UUID) (*Client, error) {
	m.mu.Lock()
	if client, ok := m.clients[userID]; ok {
		m.mu.Unlock()
		return client, nil
	}
	m.mu.Unlock()

	creds, err := m.creds.Credential(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("qbo: load credentials for user %s: %w", userID, err)
	}
	if creds.RealmID == "" {
		return nil, fmt.Errorf("qbo: user %s is not connected to QuickBooks", userID)
	}

	client := NewClient(m.cfg, creds, m.creds)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.clients[userID]; ok {
		return existing, nil
	}
	m.clients[userID] = client
	return client, nil
}
