package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chis/fleetwatch/internal/component"
	"github.com/chis/fleetwatch/internal/model"
	"github.com/chis/fleetwatch/internal/registry"
	"github.com/chis/fleetwatch/internal/watcher"
)

const shutdownTimeout = 30 * time.Second

type registration struct {
	kind         component.Kind
	providerType string
	name         string
	cfg          component.Configuration
}

// registerAll registers every entry concurrently. Each failure is collected
// without affecting the others.
func (e *Engine) registerAll(ctx context.Context, regs []registration) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, r := range regs {
		g.Go(func() error {
			if _, err := e.RegisterComponent(ctx, r.kind, r.providerType, r.name, r.cfg); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", component.ID(r.kind, r.providerType, r.name), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// RegisterRegistries registers the anonymous default providers and every
// stored registry account. An account replaces the default of the same id.
func (e *Engine) RegisterRegistries(ctx context.Context) error {
	var (
		regs  []registration
		index = make(map[string]int)
		errs  []error
	)
	add := func(r registration) {
		id := component.ID(r.kind, r.providerType, r.name)
		if i, ok := index[id]; ok {
			regs[i] = r
			return
		}
		index[id] = len(regs)
		regs = append(regs, r)
	}

	for _, providerType := range registry.DefaultAnonymous {
		add(registration{kind: component.KindRegistry, providerType: providerType, name: providerType})
	}

	if e.cfg.Accounts != nil {
		accounts, err := e.cfg.Accounts.ListRegistryAccounts(ctx)
		if err != nil {
			e.log.WithError(err).Warn("Unable to list registry accounts, registering defaults only")
			errs = append(errs, fmt.Errorf("failed to list registry accounts: %w", err))
		}
		for _, account := range accounts {
			cfg, err := e.accountConfiguration(ctx, account)
			if err != nil {
				e.log.WithError(err).Warn("Skipping registry account %s", account.Name)
				errs = append(errs, err)
				continue
			}
			add(registration{kind: component.KindRegistry, providerType: account.Provider, name: account.Name, cfg: cfg})
		}
	}

	errs = append(errs, e.registerAll(ctx, regs))
	return errors.Join(errs...)
}

func (e *Engine) accountConfiguration(ctx context.Context, account model.RegistryAccount) (component.Configuration, error) {
	cfg := make(component.Configuration, len(account.Authentication))
	for key, value := range account.Authentication {
		plain, err := e.cfg.Vault.Decrypt(ctx, value)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt %s of registry account %s: %w", key, account.Name, err)
		}
		cfg[key] = plain
	}
	return cfg, nil
}

// RegisterWatchers registers a watcher for every watched device.
func (e *Engine) RegisterWatchers(ctx context.Context) error {
	if e.cfg.Devices == nil {
		return nil
	}
	devices, err := e.cfg.Devices.ListWatchedDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	regs := make([]registration, 0, len(devices))
	for _, device := range devices {
		regs = append(regs, registration{
			kind:         component.KindWatcher,
			providerType: watcher.ProviderType,
			name:         device.ID,
			cfg:          e.watcherConfiguration(device),
		})
	}
	e.log.Info("Registering %d watchers", len(regs))
	return e.registerAll(ctx, regs)
}

// DeregisterAll deregisters every registry, then every watcher.
func (e *Engine) DeregisterAll(ctx context.Context) error {
	e.mu.Lock()
	registries := e.registries
	watchers := e.watchers
	e.registries = make(map[string]registry.Provider)
	e.watchers = make(map[string]Watcher)
	e.mu.Unlock()

	var errs []error
	for _, p := range registries {
		if err := p.Deregister(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, w := range watchers {
		if err := w.Deregister(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	e.log.Info("Deregistered %d registries and %d watchers", len(registries), len(watchers))
	return errors.Join(errs...)
}

// InstallShutdownHook deregisters every component on SIGINT, SIGTERM or
// when ctx is done. The returned channel is closed once deregistration
// finished.
func (e *Engine) InstallShutdownHook(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer close(done)
		defer signal.Stop(signals)

		select {
		case s := <-signals:
			e.log.Info("Received %s, shutting down", s)
		case <-ctx.Done():
			e.log.Info("Shutting down")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.DeregisterAll(shutdownCtx); err != nil {
			e.log.WithError(err).Warn("Deregistration finished with errors")
		}
	}()
	return done
}
