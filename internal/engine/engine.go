// Package engine keeps the process-wide set of registered watchers and
// registry providers.
//
// Components are built from a constructor table keyed by kind and provider
// type, registered under their canonical id and kept in one map per kind.
// Registering an id again replaces the previous component.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chis/fleetwatch/internal/component"
	"github.com/chis/fleetwatch/internal/credentials"
	"github.com/chis/fleetwatch/internal/logging"
	"github.com/chis/fleetwatch/internal/model"
	"github.com/chis/fleetwatch/internal/registry"
	"github.com/chis/fleetwatch/internal/storage"
	"github.com/chis/fleetwatch/internal/watcher"
)

var (
	// ErrUnknownComponent is returned for a kind and provider type with no
	// constructor.
	ErrUnknownComponent = errors.New("unknown component")

	// ErrNotRegistered is returned when deregistering a missing component.
	ErrNotRegistered = errors.New("component is not registered")
)

// Component is the lifecycle shared by watchers and registry providers.
type Component interface {
	ID() string
	Register(ctx context.Context, id string, kind component.Kind, providerType, name string, cfg component.Configuration) error
	Deregister(ctx context.Context) error
}

// Watcher is a registered device watcher.
type Watcher interface {
	Component
	Name() string
	DeviceID() string
	Connected() bool
	Watch(ctx context.Context) ([]model.ContainerReport, error)
}

var _ Watcher = (*watcher.Docker)(nil)

// Key selects a constructor.
type Key struct {
	Kind         component.Kind
	ProviderType string
}

// Factory builds an unregistered component.
type Factory func() Component

// WatcherDefaults are applied to devices without their own schedule.
type WatcherDefaults struct {
	Cron      string
	StatsCron string
}

// Config holds the collaborators of the engine.
type Config struct {
	Devices  storage.DeviceDirectory
	Accounts storage.RegistryAccountDirectory

	// Watcher are the dependencies handed to every watcher. Registries is
	// always the engine.
	Watcher        watcher.Dependencies
	WatcherOptions watcher.Options
	Defaults       WatcherDefaults

	// Vault decrypts sealed registry account secrets
	Vault credentials.Vault

	Log *logging.Logger
}

// Engine is the registry of live components.
type Engine struct {
	cfg       Config
	factories map[Key]Factory
	log       *logging.Logger

	mu         sync.RWMutex
	watchers   map[string]Watcher
	registries map[string]registry.Provider
}

// New creates an engine with the built-in constructors.
func New(cfg Config) *Engine {
	if cfg.Log == nil {
		cfg.Log = logging.Default()
	}
	if cfg.Vault == nil {
		cfg.Vault = credentials.PlainVault{}
	}
	if cfg.Defaults.Cron == "" {
		cfg.Defaults.Cron = watcher.DefaultCron
	}
	if cfg.Defaults.StatsCron == "" {
		cfg.Defaults.StatsCron = watcher.DefaultStatsCron
	}

	e := &Engine{
		cfg:        cfg,
		factories:  make(map[Key]Factory),
		log:        cfg.Log.WithField("component", "engine"),
		watchers:   make(map[string]Watcher),
		registries: make(map[string]registry.Provider),
	}

	for _, providerType := range registry.Types {
		e.factories[Key{component.KindRegistry, providerType}] = func() Component {
			p, _ := registry.New(providerType)
			return p
		}
	}
	e.factories[Key{component.KindWatcher, watcher.ProviderType}] = func() Component {
		deps := e.cfg.Watcher
		deps.Registries = e
		return watcher.New(deps, e.cfg.WatcherOptions)
	}
	return e
}

// SetFactory replaces or adds a constructor.
func (e *Engine) SetFactory(key Key, factory Factory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.factories[key] = factory
}

// RegisterComponent builds the component for kind and providerType,
// registers it and stores it under its id, replacing (and deregistering)
// any component with the same id.
func (e *Engine) RegisterComponent(ctx context.Context, kind component.Kind, providerType, name string, cfg component.Configuration) (Component, error) {
	id := component.ID(kind, providerType, name)
	log := e.log.WithField("id", id)

	e.mu.RLock()
	factory, ok := e.factories[Key{kind, providerType}]
	e.mu.RUnlock()
	if !ok {
		log.Warn("No constructor for %s %s", kind, providerType)
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownComponent, kind, providerType)
	}

	c := factory()
	if err := c.Register(ctx, id, kind, providerType, name, cfg); err != nil {
		log.WithError(err).Warn("Registration failed")
		_ = c.Deregister(ctx)
		return nil, err
	}

	var previous Component
	e.mu.Lock()
	switch v := c.(type) {
	case registry.Provider:
		if old, ok := e.registries[id]; ok {
			previous = old
		}
		e.registries[id] = v
	case Watcher:
		if old, ok := e.watchers[id]; ok {
			previous = old
		}
		e.watchers[id] = v
	default:
		e.mu.Unlock()
		_ = c.Deregister(ctx)
		return nil, fmt.Errorf("%w: %T", ErrUnknownComponent, c)
	}
	e.mu.Unlock()

	if previous != nil {
		log.Info("Replacing registered component")
		if err := previous.Deregister(ctx); err != nil {
			log.WithError(err).Warn("Unable to deregister replaced component")
		}
	}
	return c, nil
}

// RegisterWatcher registers the watcher of a device.
func (e *Engine) RegisterWatcher(ctx context.Context, device model.Device) (Watcher, error) {
	c, err := e.RegisterComponent(ctx, component.KindWatcher, watcher.ProviderType, device.ID, e.watcherConfiguration(device))
	if err != nil {
		return nil, err
	}
	return c.(Watcher), nil
}

// RegisterWatcherAsync registers the watcher of a device in the background.
// Failures are only logged.
func (e *Engine) RegisterWatcherAsync(ctx context.Context, device model.Device) {
	go func() {
		if _, err := e.RegisterWatcher(ctx, device); err != nil {
			e.log.WithError(err).Error("Background registration of device %s failed", device.ID)
		}
	}()
}

func (e *Engine) watcherConfiguration(device model.Device) component.Configuration {
	cfg := component.Configuration{
		"deviceid":       device.ID,
		"cron":           e.cfg.Defaults.Cron,
		"statscron":      e.cfg.Defaults.StatsCron,
		"watchbydefault": device.WatchByDefault,
		"watchall":       device.WatchAll,
		"watchevents":    device.WatchEvents,
	}
	if device.DockerWatcherCron != "" {
		cfg["cron"] = device.DockerWatcherCron
	}
	if device.StatsCron != "" {
		cfg["statscron"] = device.StatsCron
	}
	return cfg
}

// DeregisterWatcher deregisters and forgets the watcher of a device.
func (e *Engine) DeregisterWatcher(ctx context.Context, deviceID string) error {
	id := component.ID(component.KindWatcher, watcher.ProviderType, deviceID)

	e.mu.Lock()
	w, ok := e.watchers[id]
	delete(e.watchers, id)
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	return w.Deregister(ctx)
}

// Registry returns the provider registered under id.
func (e *Engine) Registry(id string) (registry.Provider, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.registries[id]
	return p, ok
}

// Registries returns a snapshot of the registered providers by id.
func (e *Engine) Registries() map[string]registry.Provider {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]registry.Provider, len(e.registries))
	for id, p := range e.registries {
		out[id] = p
	}
	return out
}

// Watchers returns the registered watchers sorted by id.
func (e *Engine) Watchers() []Watcher {
	e.mu.RLock()
	out := make([]Watcher, 0, len(e.watchers))
	for _, w := range e.watchers {
		out = append(out, w)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Watcher returns the watcher of a device.
func (e *Engine) Watcher(deviceID string) (Watcher, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.watchers[component.ID(component.KindWatcher, watcher.ProviderType, deviceID)]
	return w, ok
}

var _ watcher.RegistryLookup = (*Engine)(nil)
