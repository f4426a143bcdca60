// Package storage defines the persistence collaborators of the watchers and
// the engine, and implements them on SQLite.
package storage

import (
	"context"
	"errors"

	"github.com/chis/fleetwatch/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// DeviceDirectory resolves the devices monitored by watchers.
type DeviceDirectory interface {
	// FindDevice returns the device with the given id, or ErrNotFound.
	FindDevice(ctx context.Context, id string) (model.Device, error)

	// ListWatchedDevices returns the devices flagged for watching.
	ListWatchedDevices(ctx context.Context) ([]model.Device, error)
}

// ContainerRepository persists the containers discovered by watchers.
type ContainerRepository interface {
	// FindContainer returns the stored container, or ErrNotFound.
	FindContainer(ctx context.Context, id string) (model.Container, error)
	CreateContainer(ctx context.Context, c model.Container) (model.Container, error)
	UpdateContainer(ctx context.Context, c model.Container) (model.Container, error)
	DeleteContainer(ctx context.Context, id string) error

	// ListContainersByWatcher returns every container owned by a watcher,
	// ordered by name.
	ListContainersByWatcher(ctx context.Context, watcher string) ([]model.Container, error)
}

// ContainerStatsRepository persists resource usage snapshots.
type ContainerStatsRepository interface {
	CreateStats(ctx context.Context, stats model.ContainerStats) error
}

// RegistryAccountDirectory lists registries with stored credentials.
type RegistryAccountDirectory interface {
	ListRegistryAccounts(ctx context.Context) ([]model.RegistryAccount, error)
}

// Store is the full set of collaborators implemented by SQLiteStorage.
type Store interface {
	DeviceDirectory
	ContainerRepository
	ContainerStatsRepository
	RegistryAccountDirectory
	Close() error
}
