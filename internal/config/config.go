// Package config loads the fleetwatch configuration.
//
// Values come from a YAML file, then from FLEETWATCH_* environment variables,
// which may themselves be provided by .env files. Devices and registry
// accounts listed in the file seed the database at startup; database records
// of the same id are overwritten by the file.
package config

import (
	"github.com/chis/fleetwatch/internal/credentials"
	"github.com/chis/fleetwatch/internal/model"
	"github.com/chis/fleetwatch/internal/watcher"
)

// Defaults
const (
	DefaultDBPath    = "fleetwatch.db"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	DefaultNATSTopic = "fleetwatch"
)

// Config represents the application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Watcher  WatcherConfig  `yaml:"watcher"`
	Vault    VaultConfig    `yaml:"vault"`
	Events   EventsConfig   `yaml:"events"`

	// Devices are seeded into the device directory
	Devices []DeviceConfig `yaml:"devices"`

	// Registries are seeded into the registry account directory
	Registries []RegistryConfig `yaml:"registries"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// JSON reports whether JSON log lines are requested.
func (l LogConfig) JSON() bool {
	return l.Format == "json"
}

// WatcherConfig holds the schedules of devices without their own.
type WatcherConfig struct {
	Cron      string `yaml:"cron"`
	StatsCron string `yaml:"stats_cron"`
}

// VaultConfig holds the key sealing stored secrets. An empty key stores
// secrets in clear.
type VaultConfig struct {
	Key string `yaml:"key"`
}

// EventsConfig selects the brokers events are forwarded to.
type EventsConfig struct {
	NATS NATSConfig `yaml:"nats"`
	SQS  SQSConfig  `yaml:"sqs"`
}

// NATSConfig configures the NATS publisher. An empty URL disables it.
type NATSConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// SQSConfig configures the SQS publisher. An empty queue URL disables it.
type SQSConfig struct {
	QueueURL string `yaml:"queue_url"`
	Region   string `yaml:"region"`
}

// DeviceConfig describes a device and its SSH identities.
type DeviceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	IP   string `yaml:"ip"`

	// Watch, WatchEvents and WatchByDefault default to true
	Watch          *bool `yaml:"watch"`
	WatchEvents    *bool `yaml:"watch_events"`
	WatchByDefault *bool `yaml:"watch_by_default"`
	WatchAll       bool  `yaml:"watch_all"`

	Cron      string `yaml:"cron"`
	StatsCron string `yaml:"stats_cron"`

	SSH       credentials.Identity  `yaml:"ssh"`
	DockerSSH *credentials.Identity `yaml:"docker_ssh"`
}

// Device converts the entry to the device model.
func (d DeviceConfig) Device() model.Device {
	name := d.Name
	if name == "" {
		name = d.ID
	}
	return model.Device{
		ID:                 d.ID,
		Name:               name,
		IP:                 d.IP,
		Watch:              boolOr(d.Watch, true),
		DockerWatcherCron:  d.Cron,
		StatsCron:          d.StatsCron,
		WatchAll:           d.WatchAll,
		WatchEvents:        boolOr(d.WatchEvents, true),
		WatchByDefault:     boolOr(d.WatchByDefault, true),
		UseCustomDockerSSH: d.DockerSSH != nil,
	}
}

// Identities returns the SSH identities of the device.
func (d DeviceConfig) Identities() credentials.DeviceIdentities {
	return credentials.DeviceIdentities{Primary: d.SSH, Docker: d.DockerSSH}
}

// RegistryConfig is a registry account.
type RegistryConfig struct {
	Name           string            `yaml:"name"`
	Provider       string            `yaml:"provider"`
	Authentication map[string]string `yaml:"authentication"`
}

// Account converts the entry to the registry account model.
func (r RegistryConfig) Account() model.RegistryAccount {
	name := r.Name
	if name == "" {
		name = r.Provider
	}
	return model.RegistryAccount{Name: name, Provider: r.Provider, Authentication: r.Authentication}
}

// Identities returns the SSH identities of every configured device.
func (c *Config) Identities() map[string]credentials.DeviceIdentities {
	out := make(map[string]credentials.DeviceIdentities, len(c.Devices))
	for _, d := range c.Devices {
		out[d.ID] = d.Identities()
	}
	return out
}

// applyDefaults fills unset values.
func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = DefaultDBPath
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Watcher.Cron == "" {
		c.Watcher.Cron = watcher.DefaultCron
	}
	if c.Watcher.StatsCron == "" {
		c.Watcher.StatsCron = watcher.DefaultStatsCron
	}
	if c.Events.NATS.Prefix == "" {
		c.Events.NATS.Prefix = DefaultNATSTopic
	}
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
