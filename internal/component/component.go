// Package component provides the lifecycle and configuration contract shared by
// every watcher and registry provider.
//
// A component is identified by (kind, provider type, name) and is configured
// from a flat key/value bag. Register decodes the bag into the implementation's
// typed schema, validates it with govalidator struct tags and then runs the
// implementation's Init hook. Deregister runs the DeregisterComponent hook.
// Configuration is only ever logged in masked form.
package component

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chis/fleetwatch/internal/logging"
)

// Kind is the kind of a component.
type Kind string

const (
	KindWatcher  Kind = "watcher"
	KindRegistry Kind = "registry"
	KindUnknown  Kind = "unknown"
)

// ParseKind maps a kind string to a Kind, case-insensitively.
func ParseKind(s string) Kind {
	switch Kind(strings.ToLower(s)) {
	case KindWatcher:
		return KindWatcher
	case KindRegistry:
		return KindRegistry
	default:
		return KindUnknown
	}
}

// Configuration is the raw configuration bag of a component.
type Configuration map[string]interface{}

// Copy returns a shallow copy of the configuration.
func (c Configuration) Copy() Configuration {
	out := make(Configuration, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// ID derives the canonical component id. Two components with the same
// kind, provider type and name share an id.
func ID(kind Kind, providerType, name string) string {
	return fmt.Sprintf("%s.%s.%s", kind, strings.ToLower(providerType), strings.ToLower(name))
}

// Configurable is implemented by every component. ConfigurationSchema returns a
// pointer to the implementation's typed configuration, prefilled with defaults.
// Register decodes the raw configuration into it.
type Configurable interface {
	ConfigurationSchema() interface{}
}

// Initializer is implemented by components that need to set up state once the
// configuration is valid.
type Initializer interface {
	Init(ctx context.Context) error
}

// Deregisterer is implemented by components holding timers or connections.
type Deregisterer interface {
	DeregisterComponent(ctx context.Context) error
}

// Masker is implemented by components holding secrets in their configuration.
type Masker interface {
	MaskConfiguration(cfg Configuration) Configuration
}

// Component is embedded by watcher and registry implementations.
type Component struct {
	mu            sync.RWMutex
	id            string
	kind          Kind
	providerType  string
	name          string
	configuration Configuration
	masked        Configuration
	log           *logging.Logger
	impl          Configurable
}

// Register validates configuration against impl's schema, records the identity
// and runs impl's Init hook. A schema violation returns a *ValidationError.
func (c *Component) Register(ctx context.Context, impl Configurable, id string, kind Kind, providerType, name string, configuration Configuration) error {
	if configuration == nil {
		configuration = Configuration{}
	}

	if err := Validate(impl.ConfigurationSchema(), configuration); err != nil {
		return err
	}

	masked := configuration.Copy()
	if m, ok := impl.(Masker); ok {
		masked = m.MaskConfiguration(configuration.Copy())
	}

	c.mu.Lock()
	c.id = id
	c.kind = kind
	c.providerType = providerType
	c.name = name
	c.configuration = configuration
	c.masked = masked
	c.impl = impl
	c.log = logging.Default().WithFields(logging.Fields{
		"component": id,
	})
	c.mu.Unlock()

	c.Log().Info("Register with configuration %v", masked)

	if init, ok := impl.(Initializer); ok {
		if err := init.Init(ctx); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", id, err)
		}
	}
	return nil
}

// Deregister runs the implementation's DeregisterComponent hook.
func (c *Component) Deregister(ctx context.Context) error {
	c.mu.RLock()
	impl := c.impl
	c.mu.RUnlock()

	c.Log().Info("Deregister")

	if d, ok := impl.(Deregisterer); ok {
		if err := d.DeregisterComponent(ctx); err != nil {
			return fmt.Errorf("failed to deregister %s: %w", c.ID(), err)
		}
	}
	return nil
}

// ID returns the canonical id.
func (c *Component) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Kind returns the component kind.
func (c *Component) Kind() Kind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.kind
}

// ProviderType returns the provider type (hub, ecr, docker, ...).
func (c *Component) ProviderType() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.providerType
}

// Name returns the component name.
func (c *Component) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Configuration returns the raw configuration. Never log it.
func (c *Component) Configuration() Configuration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.configuration
}

// MaskedConfiguration returns the display-safe configuration.
func (c *Component) MaskedConfiguration() Configuration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.masked
}

// Log returns the component logger.
func (c *Component) Log() *logging.Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.log == nil {
		return logging.Default()
	}
	return c.log
}
