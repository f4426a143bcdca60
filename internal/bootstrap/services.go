// Package bootstrap wires the storage, credentials, event and engine
// services of a fleetwatch process from its configuration.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/chis/fleetwatch/internal/config"
	"github.com/chis/fleetwatch/internal/credentials"
	"github.com/chis/fleetwatch/internal/engine"
	"github.com/chis/fleetwatch/internal/events"
	"github.com/chis/fleetwatch/internal/logging"
	"github.com/chis/fleetwatch/internal/storage"
	"github.com/chis/fleetwatch/internal/watcher"
)

// ServiceDependencies holds all initialized service dependencies for CLI commands.
type ServiceDependencies struct {
	Storage  *storage.SQLiteStorage
	Vault    credentials.Vault
	EventBus *events.Bus
	Engine   *engine.Engine
}

// InitOptions configures service initialization behavior.
type InitOptions struct {
	Config *config.Config
	Log    *logging.Logger

	// WatcherOptions are handed to every watcher
	WatcherOptions watcher.Options

	// Publishers receive every bus event in addition to the configured
	// brokers
	Publishers []events.Publisher
}

// InitializeServices initializes all service dependencies with consistent error handling.
// Returns ServiceDependencies and a cleanup function that should be deferred.
func InitializeServices(ctx context.Context, opts InitOptions) (*ServiceDependencies, func(), error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, nil, fmt.Errorf("no configuration")
	}
	log := opts.Log
	if log == nil {
		log = logging.Default()
	}

	deps := &ServiceDependencies{}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	store, err := storage.NewSQLiteStorage(cfg.Database.Path, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	deps.Storage = store
	cleanups = append(cleanups, func() { store.Close() })
	log.Debug("Storage initialized at %s", cfg.Database.Path)

	if err := seed(ctx, store, cfg); err != nil {
		cleanup()
		return nil, nil, err
	}

	deps.Vault = credentials.PlainVault{}
	if cfg.Vault.Key != "" {
		box, err := credentials.NewSecretBox(cfg.Vault.Key)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to initialize vault: %w", err)
		}
		deps.Vault = box
	}
	resolver := credentials.NewResolver(credentials.NewStaticSource(cfg.Identities()), deps.Vault)

	deps.EventBus = events.NewBus()
	publishers, err := brokerPublishers(cfg.Events)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	publishers = append(publishers, opts.Publishers...)

	forwardCtx, stopForwarding := context.WithCancel(context.Background())
	for _, p := range publishers {
		done := events.Forward(forwardCtx, deps.EventBus, p, log.WithField("component", "forward"))
		cleanups = append(cleanups, func() {
			stopForwarding()
			<-done
			if err := p.Close(); err != nil {
				log.WithError(err).Warn("Unable to close event publisher")
			}
		})
	}
	cleanups = append(cleanups, stopForwarding)

	deps.Engine = engine.New(engine.Config{
		Devices:  store,
		Accounts: store,
		Watcher: watcher.Dependencies{
			Devices:     store,
			Containers:  store,
			Stats:       store,
			Credentials: resolver,
			Events:      deps.EventBus,
		},
		WatcherOptions: opts.WatcherOptions,
		Defaults: engine.WatcherDefaults{
			Cron:      cfg.Watcher.Cron,
			StatsCron: cfg.Watcher.StatsCron,
		},
		Vault: deps.Vault,
		Log:   log,
	})
	cleanups = append(cleanups, func() {
		if err := deps.Engine.DeregisterAll(context.Background()); err != nil {
			log.WithError(err).Warn("Deregistration finished with errors")
		}
	})

	return deps, cleanup, nil
}

// seed writes the configured devices and registry accounts.
func seed(ctx context.Context, store *storage.SQLiteStorage, cfg *config.Config) error {
	for _, d := range cfg.Devices {
		if err := store.SaveDevice(ctx, d.Device()); err != nil {
			return fmt.Errorf("failed to seed device %s: %w", d.ID, err)
		}
	}
	for _, r := range cfg.Registries {
		account := r.Account()
		if err := store.SaveRegistryAccount(ctx, account); err != nil {
			return fmt.Errorf("failed to seed registry %s: %w", account.Name, err)
		}
	}
	return nil
}

func brokerPublishers(cfg config.EventsConfig) ([]events.Publisher, error) {
	var publishers []events.Publisher
	if cfg.NATS.URL != "" {
		p, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Prefix)
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, p)
	}
	if cfg.SQS.QueueURL != "" {
		p, err := events.NewSQSPublisher(cfg.SQS.QueueURL, cfg.SQS.Region)
		if err != nil {
			for _, prev := range publishers {
				prev.Close()
			}
			return nil, err
		}
		publishers = append(publishers, p)
	}
	return publishers, nil
}
