package bootstrap

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chis/fleetwatch/internal/config"
	"github.com/chis/fleetwatch/internal/credentials"
	"github.com/chis/fleetwatch/internal/events"
	"github.com/chis/fleetwatch/internal/logging"
)

type recordingPublisher struct {
	mu     sync.Mutex
	types  []string
	closed bool
}

func (p *recordingPublisher) Send(_ context.Context, event events.Event, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, event.Type)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *recordingPublisher) received() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	cfg.Database.Path = filepath.Join(t.TempDir(), "fleetwatch.db")
	cfg.Devices = []config.DeviceConfig{{
		ID:  "nas",
		IP:  "10.0.0.2",
		SSH: credentials.Identity{Username: "admin"},
	}}
	cfg.Registries = []config.RegistryConfig{{
		Provider:       "hub",
		Authentication: map[string]string{"login": "me", "password": "secret"},
	}}
	return cfg
}

func TestInitializeServicesSeedsStorage(t *testing.T) {
	ctx := context.Background()
	deps, cleanup, err := InitializeServices(ctx, InitOptions{Config: testConfig(t), Log: logging.Discard()})
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, deps.Engine)
	require.NotNil(t, deps.EventBus)
	assert.IsType(t, credentials.PlainVault{}, deps.Vault)

	device, err := deps.Storage.FindDevice(ctx, "nas")
	require.NoError(t, err)
	assert.Equal(t, "nas", device.Name)
	assert.True(t, device.Watch)

	accounts, err := deps.Storage.ListRegistryAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "hub", accounts[0].Name)

	require.NoError(t, deps.Engine.RegisterRegistries(ctx))
	hub, ok := deps.Engine.Registry("registry.hub.hub")
	require.True(t, ok)
	assert.False(t, hub.Anonymous())
}

func TestInitializeServicesForwardsEvents(t *testing.T) {
	publisher := &recordingPublisher{}
	deps, cleanup, err := InitializeServices(context.Background(), InitOptions{
		Config:     testConfig(t),
		Log:        logging.Discard(),
		Publishers: []events.Publisher{publisher},
	})
	require.NoError(t, err)

	deps.EventBus.Publish(events.WatcherLifecycle(events.EventWatcherStart, "watcher.docker.nas", "nas"))
	assert.Eventually(t, func() bool {
		return len(publisher.received()) == 1
	}, time.Second, 5*time.Millisecond)

	cleanup()
	assert.Equal(t, []string{events.EventWatcherStart}, publisher.received())
	publisher.mu.Lock()
	assert.True(t, publisher.closed)
	publisher.mu.Unlock()
}

func TestInitializeServicesVault(t *testing.T) {
	cfg := testConfig(t)
	cfg.Vault.Key = "not a key"
	_, _, err := InitializeServices(context.Background(), InitOptions{Config: cfg, Log: logging.Discard()})
	assert.ErrorIs(t, err, credentials.ErrInvalidKey)

	cfg = testConfig(t)
	cfg.Vault.Key = "q83vEjRWeJq83vEjRWeJq83vEjRWeJq83vEjRWeJq80="
	deps, cleanup, err := InitializeServices(context.Background(), InitOptions{Config: cfg, Log: logging.Discard()})
	require.NoError(t, err)
	defer cleanup()
	assert.IsType(t, &credentials.SecretBox{}, deps.Vault)
}

func TestInitializeServicesRequiresConfig(t *testing.T) {
	_, _, err := InitializeServices(context.Background(), InitOptions{})
	assert.Error(t, err)
}
