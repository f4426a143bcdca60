// Package testutil provides shared testing utilities for the fleetwatch test suite.
// This package contains in-memory collaborators, test data factories, and a
// scriptable Docker API.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chis/fleetwatch/internal/model"
	"github.com/chis/fleetwatch/internal/storage"
)

// Common test errors for use in mocks
var (
	ErrMockUnavailable = errors.New("service unavailable")
	ErrMockDatabase    = errors.New("database error")
)

// MemoryStore is an in-memory storage.Store.
type MemoryStore struct {
	mu         sync.Mutex
	devices    map[string]model.Device
	containers map[string]model.Container
	stats      []model.ContainerStats
	accounts   []model.RegistryAccount

	// FailContainers makes every container operation fail with ErrMockDatabase
	FailContainers bool
}

var _ storage.Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:    make(map[string]model.Device),
		containers: make(map[string]model.Container),
	}
}

// AddDevice stores a device.
func (s *MemoryStore) AddDevice(d model.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.ID] = d
}

// AddRegistryAccount stores a registry account.
func (s *MemoryStore) AddRegistryAccount(a model.RegistryAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = append(s.accounts, a)
}

// PutContainer stores a container without touching UpdatedAt.
func (s *MemoryStore) PutContainer(c model.Container) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.containers[c.ID] = c.Clone()
}

// Stats returns the recorded stats snapshots.
func (s *MemoryStore) Stats() []model.ContainerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ContainerStats(nil), s.stats...)
}

func (s *MemoryStore) FindDevice(ctx context.Context, id string) (model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return model.Device{}, fmt.Errorf("device %s: %w", id, storage.ErrNotFound)
	}
	return d, nil
}

func (s *MemoryStore) ListWatchedDevices(ctx context.Context) ([]model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Device{}
	for _, d := range s.devices {
		if d.Watch {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) FindContainer(ctx context.Context, id string) (model.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailContainers {
		return model.Container{}, ErrMockDatabase
	}
	c, ok := s.containers[id]
	if !ok {
		return model.Container{}, fmt.Errorf("container %s: %w", id, storage.ErrNotFound)
	}
	return c.Clone(), nil
}

func (s *MemoryStore) CreateContainer(ctx context.Context, c model.Container) (model.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailContainers {
		return model.Container{}, ErrMockDatabase
	}
	c.UpdatedAt = time.Now().UTC()
	s.containers[c.ID] = c.Clone()
	return c, nil
}

func (s *MemoryStore) UpdateContainer(ctx context.Context, c model.Container) (model.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailContainers {
		return model.Container{}, ErrMockDatabase
	}
	if _, ok := s.containers[c.ID]; !ok {
		return model.Container{}, fmt.Errorf("container %s: %w", c.ID, storage.ErrNotFound)
	}
	c.UpdatedAt = time.Now().UTC()
	s.containers[c.ID] = c.Clone()
	return c, nil
}

func (s *MemoryStore) DeleteContainer(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailContainers {
		return ErrMockDatabase
	}
	delete(s.containers, id)
	return nil
}

func (s *MemoryStore) ListContainersByWatcher(ctx context.Context, watcher string) ([]model.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailContainers {
		return nil, ErrMockDatabase
	}
	out := []model.Container{}
	for _, c := range s.containers {
		if c.Watcher == watcher {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) CreateStats(ctx context.Context, stats model.ContainerStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = append(s.stats, stats)
	return nil
}

func (s *MemoryStore) ListRegistryAccounts(ctx context.Context) ([]model.RegistryAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.RegistryAccount{}, s.accounts...), nil
}

func (s *MemoryStore) Close() error { return nil }

// NewDevice creates a watched device for testing.
func NewDevice(id string) model.Device {
	return model.Device{
		ID:             id,
		Name:           "device-" + id,
		IP:             "10.0.0.10",
		Watch:          true,
		WatchEvents:    false,
		WatchByDefault: true,
	}
}

// StaticCredentials resolves every device to the same credentials.
type StaticCredentials struct {
	Credentials model.SSHCredentials
	Err         error
}

func (s StaticCredentials) SSHCredentials(ctx context.Context, device model.Device) (model.SSHCredentials, error) {
	if s.Err != nil {
		return model.SSHCredentials{}, s.Err
	}
	creds := s.Credentials
	if creds.Host == "" {
		creds.Host = device.IP
	}
	return creds, nil
}
