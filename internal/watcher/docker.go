// Package watcher implements the per-device Docker watcher.
//
// A watcher reaches its device's daemon through the SSH dial-stdio tunnel
// (or a local socket or TCP daemon when configured), scans its containers on
// a cron schedule and after container create/destroy events, and resolves
// each container's newest image version against the matching registry
// provider. Results are persisted through the storage collaborators and
// published as events.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chis/fleetwatch/internal/component"
	"github.com/chis/fleetwatch/internal/credentials"
	"github.com/chis/fleetwatch/internal/docker"
	"github.com/chis/fleetwatch/internal/events"
	"github.com/chis/fleetwatch/internal/model"
	"github.com/chis/fleetwatch/internal/registry"
	"github.com/chis/fleetwatch/internal/storage"
	"github.com/chis/fleetwatch/internal/tunnel"
)

// ProviderType is the provider type of the Docker watcher.
const ProviderType = "docker"

// ErrNotConnected is returned by scans of a watcher whose daemon could not
// be reached at registration.
var ErrNotConnected = errors.New("watcher is not connected to its daemon")

// CredentialResolver returns the SSH credentials of a device.
type CredentialResolver interface {
	SSHCredentials(ctx context.Context, device model.Device) (model.SSHCredentials, error)
}

var _ CredentialResolver = (*credentials.Resolver)(nil)

// RegistryLookup exposes the registered registry providers by id.
type RegistryLookup interface {
	Registries() map[string]registry.Provider
}

// Dependencies are the collaborators of a watcher.
type Dependencies struct {
	Devices     storage.DeviceDirectory
	Containers  storage.ContainerRepository
	Stats       storage.ContainerStatsRepository
	Credentials CredentialResolver
	Registries  RegistryLookup
	Events      events.Sink
}

// ClientFactory opens the Docker API of a device.
type ClientFactory func(ctx context.Context, cfg Configuration, device model.Device) (docker.API, error)

// Options tune timings and the client factory. Zero values use defaults.
type Options struct {
	StartupDelay   time.Duration
	DebounceWindow time.Duration
	EventsRetry    time.Duration
	NewClient      ClientFactory
}

// Docker is the Docker watcher component.
type Docker struct {
	component.Component

	deps    Dependencies
	options Options
	config  Configuration

	mu       sync.RWMutex
	device   model.Device
	api      docker.API
	agent    *tunnel.Agent
	handles  *handles
	debounce *debouncer
	closing  bool

	// inflight tracks running scans so the client outlives them
	inflight sync.WaitGroup
}

// New creates an unregistered Docker watcher.
func New(deps Dependencies, options Options) *Docker {
	if deps.Events == nil {
		deps.Events = events.Discard{}
	}
	if options.StartupDelay == 0 {
		options.StartupDelay = DefaultStartupDelay
	}
	if options.DebounceWindow == 0 {
		options.DebounceWindow = DefaultDebounceWindow
	}
	if options.EventsRetry == 0 {
		options.EventsRetry = DefaultEventsRetry
	}
	return &Docker{deps: deps, options: options}
}

// Register validates the configuration and connects to the device.
func (w *Docker) Register(ctx context.Context, id string, kind component.Kind, providerType, name string, cfg component.Configuration) error {
	return w.Component.Register(ctx, w, id, kind, providerType, name, cfg)
}

// ConfigurationSchema returns the watcher configuration prefilled with
// defaults.
func (w *Docker) ConfigurationSchema() interface{} {
	w.config = defaultConfiguration()
	return &w.config
}

// MaskConfiguration hides the password.
func (w *Docker) MaskConfiguration(cfg component.Configuration) component.Configuration {
	return component.MaskFields(cfg, "password")
}

// Config returns the decoded configuration.
func (w *Docker) Config() Configuration {
	return w.config
}

// DeviceID returns the id of the watched device.
func (w *Docker) DeviceID() string {
	return w.config.DeviceID
}

// Connected reports whether the watcher reached its daemon.
func (w *Docker) Connected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.api != nil
}

// Init resolves the device, connects to its daemon and schedules scans.
// Connection failures are logged and leave the watcher registered but idle.
func (w *Docker) Init(ctx context.Context) error {
	log := w.Log()

	h := &handles{}
	w.mu.Lock()
	w.handles = h
	w.mu.Unlock()

	device, err := w.deps.Devices.FindDevice(ctx, w.config.DeviceID)
	if err != nil {
		log.WithError(err).Warn("Unable to resolve device %s", w.config.DeviceID)
		return nil
	}

	api, err := w.connect(ctx, device)
	if err != nil {
		log.WithError(err).Warn("Unable to connect to the Docker daemon of %s", device.Name)
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	_, err = api.Ping(pingCtx)
	cancel()
	if err != nil {
		log.WithError(err).Warn("Unable to ping the Docker daemon of %s", device.Name)
		api.Close()
		w.closeAgent()
		return nil
	}

	w.mu.Lock()
	w.device = device
	w.api = api
	w.mu.Unlock()

	if err := w.schedule(h); err != nil {
		h.release()
		w.closeClient()
		return err
	}

	w.deps.Events.Publish(events.WatcherLifecycle(events.EventWatcherStart, w.ID(), device.ID))
	log.Info("Watching device %s (%s)", device.Name, device.IP)
	return nil
}

// connect opens the daemon selected by the configuration: the options
// factory, a unix socket, a TCP host or, by default, the SSH tunnel.
func (w *Docker) connect(ctx context.Context, device model.Device) (docker.API, error) {
	switch {
	case w.options.NewClient != nil:
		return w.options.NewClient(ctx, w.config, device)
	case w.config.Socket != "":
		return docker.NewSocketClient(w.config.Socket)
	case w.config.Host != "":
		return docker.NewTCPClient(w.config.Host, w.config.Port, docker.TLSFiles{
			CAFile:   w.config.CAFile,
			CertFile: w.config.CertFile,
			KeyFile:  w.config.KeyFile,
		})
	}

	if w.deps.Credentials == nil {
		return nil, errors.New("no SSH credential resolver")
	}
	creds, err := w.deps.Credentials.SSHCredentials(ctx, device)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve SSH credentials: %w", err)
	}
	if w.config.Username != "" {
		creds.Username = w.config.Username
	}
	if w.config.Password != "" {
		creds.Password = w.config.Password
	}
	if w.config.Port != 0 {
		creds.Port = w.config.Port
	}

	agent, err := tunnel.New(tunnel.ConfigFromCredentials(creds), w.Log())
	if err != nil {
		return nil, err
	}
	api, err := docker.NewTunnelClient(agent)
	if err != nil {
		agent.Close()
		return nil, err
	}

	w.mu.Lock()
	w.agent = agent
	w.mu.Unlock()
	return api, nil
}

// schedule starts the scan and stats crons, the delayed first scan and the
// event subscription. Every started resource is added to h.
func (w *Docker) schedule(h *handles) error {
	log := w.Log()

	c := cron.New()
	if _, err := c.AddFunc(w.config.Cron, func() { w.runScan("cron") }); err != nil {
		return fmt.Errorf("invalid cron %q: %w", w.config.Cron, err)
	}
	if _, err := c.AddFunc(w.config.StatsCron, w.runStats); err != nil {
		return fmt.Errorf("invalid stats cron %q: %w", w.config.StatsCron, err)
	}
	c.Start()
	h.add(func() { c.Stop() })
	log.Info("Cron started (%s), stats cron started (%s)", w.config.Cron, w.config.StatsCron)

	d := newDebouncer(w.options.DebounceWindow, func() { w.runScan("event") })
	w.mu.Lock()
	w.debounce = d
	w.mu.Unlock()
	h.add(d.stop)

	startup := time.AfterFunc(w.options.StartupDelay, func() { w.runScan("startup") })
	h.add(func() { startup.Stop() })

	if w.config.WatchEvents {
		ctx, cancel := context.WithCancel(context.Background())
		h.add(cancel)
		subscribe := time.AfterFunc(w.options.StartupDelay, func() { w.listenEvents(ctx) })
		h.add(func() { subscribe.Stop() })
	}
	return nil
}

// DeregisterComponent stops every scheduled job and releases the daemon
// connection once in-flight scans end.
func (w *Docker) DeregisterComponent(ctx context.Context) error {
	w.mu.Lock()
	h := w.handles
	connected := w.api != nil
	device := w.device
	w.closing = true
	w.mu.Unlock()

	if h != nil {
		h.release()
	}
	if connected {
		w.deps.Events.Publish(events.WatcherLifecycle(events.EventWatcherStop, w.ID(), device.ID))
	}

	go func() {
		w.inflight.Wait()
		w.closeClient()
	}()
	return nil
}

func (w *Docker) closeClient() {
	w.mu.Lock()
	api := w.api
	w.api = nil
	w.mu.Unlock()

	if api != nil {
		api.Close()
	}
	w.closeAgent()
}

func (w *Docker) closeAgent() {
	w.mu.Lock()
	agent := w.agent
	w.agent = nil
	w.mu.Unlock()

	if agent != nil {
		agent.Close()
	}
}

// client returns the daemon client and registers an in-flight operation.
// The caller must call done when api is not nil.
func (w *Docker) client() (api docker.API, done func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.api == nil || w.closing {
		return nil, nil
	}
	w.inflight.Add(1)
	return w.api, w.inflight.Done
}

func (w *Docker) runScan(trigger string) {
	if _, err := w.Watch(context.Background()); err != nil {
		w.Log().WithError(err).Warn("Scan triggered by %s failed", trigger)
	}
}

func (w *Docker) runStats() {
	if err := w.CollectStats(context.Background()); err != nil {
		w.Log().WithError(err).Warn("Stats collection failed")
	}
}

// providers returns the registry providers in lookup order: authenticated
// providers first, each group sorted by id.
func (w *Docker) providers() []registry.Provider {
	if w.deps.Registries == nil {
		return nil
	}
	all := w.deps.Registries.Registries()
	out := make([]registry.Provider, 0, len(all))
	for _, p := range all {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].Anonymous(), out[j].Anonymous()
		if ai != aj {
			return !ai
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// provider returns the provider with the given id.
func (w *Docker) provider(id string) (registry.Provider, bool) {
	if w.deps.Registries == nil {
		return nil, false
	}
	p, ok := w.deps.Registries.Registries()[id]
	return p, ok
}
