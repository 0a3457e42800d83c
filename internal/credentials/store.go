// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package credentials resolves the credentials handed read-only to task
// workers. Values may reference the OS keyring with keyring://service/key.
package credentials

import (
	"maps"
	"slices"
	"sync"

	stewarderr "github.com/sigil-dev/steward/pkg/errors"
)

// Store provides secure secret storage operations.
type Store interface {
	// Store saves a secret value under the given service and key.
	Store(service, key, value string) error

	// Retrieve fetches the secret value for the given service and key.
	// Returns CodeSecretNotFound (via stewarderr.HasCode) if the key does not exist.
	Retrieve(service, key string) (string, error)

	// Delete removes the secret for the given service and key.
	Delete(service, key string) error

	// List returns all key names stored under the given service.
	List(service string) ([]string, error)
}

// MemoryStore is an in-process Store, used in tests and when no OS keyring
// is available.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]map[string]string)}
}

func (m *MemoryStore) Store(service, key, value string) error {
	if err := checkServiceKey("store", service, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.secrets[service] == nil {
		m.secrets[service] = make(map[string]string)
	}
	m.secrets[service][key] = value
	return nil
}

func (m *MemoryStore) Retrieve(service, key string) (string, error) {
	if err := checkServiceKey("retrieve", service, key); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.secrets[service][key]
	if !ok {
		return "", stewarderr.Errorf(stewarderr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	}
	return v, nil
}

func (m *MemoryStore) Delete(service, key string) error {
	if err := checkServiceKey("delete", service, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.secrets[service][key]; !ok {
		return stewarderr.Errorf(stewarderr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	}
	delete(m.secrets[service], key)
	return nil
}

func (m *MemoryStore) List(service string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.secrets[service])), nil
}

func checkServiceKey(op, service, key string) error {
	if service == "" {
		return stewarderr.Errorf(stewarderr.CodeSecretInvalidInput, "secret %s: service must not be empty", op)
	}
	if key == "" {
		return stewarderr.Errorf(stewarderr.CodeSecretInvalidInput, "secret %s: key must not be empty", op)
	}
	return nil
}
