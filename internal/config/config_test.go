package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chis/fleetwatch/internal/credentials"
	"github.com/chis/fleetwatch/internal/watcher"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create %s: %v", name, err)
	}
	return path
}

// TestLoadYAMLConfig tests that every section of the file is decoded
func TestLoadYAMLConfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "fleetwatch.yaml", `database:
  path: /data/fleet.db
log:
  level: debug
  format: json
watcher:
  cron: "0 * * * *"
devices:
  - id: nas
    ip: 192.168.1.20
    watch_events: false
    ssh:
      username: admin
      password: secret
      port: 2222
  - id: pi
    name: Raspberry
    ip: pi.lan
    docker_ssh:
      username: docker
registries:
  - provider: hub
    authentication:
      login: me
      password: secret
`)

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig failed: %v", err)
	}

	if cfg.Database.Path != "/data/fleet.db" {
		t.Errorf("Expected database path /data/fleet.db, got %q", cfg.Database.Path)
	}
	if !cfg.Log.JSON() {
		t.Errorf("Expected JSON log format, got %q", cfg.Log.Format)
	}
	if cfg.Watcher.Cron != "0 * * * *" {
		t.Errorf("Expected watcher cron from file, got %q", cfg.Watcher.Cron)
	}
	if len(cfg.Devices) != 2 {
		t.Fatalf("Expected 2 devices, got %d", len(cfg.Devices))
	}
	if cfg.Devices[0].SSH.Port != 2222 {
		t.Errorf("Expected ssh port 2222, got %d", cfg.Devices[0].SSH.Port)
	}
	if len(cfg.Registries) != 1 || cfg.Registries[0].Authentication["login"] != "me" {
		t.Errorf("Expected hub registry with login me, got %+v", cfg.Registries)
	}
}

// TestLoadYAMLConfigMissingFile tests that a missing file is not an error
func TestLoadYAMLConfigMissingFile(t *testing.T) {
	cfg, err := LoadYAMLConfig(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Errorf("LoadYAMLConfig should not fail for missing file, got error: %v", err)
	}
	if len(cfg.Devices) != 0 {
		t.Errorf("Expected empty config, got %d devices", len(cfg.Devices))
	}
}

// TestLoadYAMLConfigInvalid tests that malformed YAML is reported
func TestLoadYAMLConfigInvalid(t *testing.T) {
	path := writeFile(t, t.TempDir(), "broken.yaml", "devices: [unclosed\n")
	if _, err := LoadYAMLConfig(path); err == nil {
		t.Error("Expected error for invalid YAML, got nil")
	}
}

// TestLoadAppliesDefaults tests that unset values receive defaults
func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Path != DefaultDBPath {
		t.Errorf("Expected default database path, got %q", cfg.Database.Path)
	}
	if cfg.Log.Level != DefaultLogLevel || cfg.Log.Format != DefaultLogFormat {
		t.Errorf("Expected default log settings, got %+v", cfg.Log)
	}
	if cfg.Watcher.Cron != watcher.DefaultCron {
		t.Errorf("Expected default cron %q, got %q", watcher.DefaultCron, cfg.Watcher.Cron)
	}
	if cfg.Watcher.StatsCron != watcher.DefaultStatsCron {
		t.Errorf("Expected default stats cron %q, got %q", watcher.DefaultStatsCron, cfg.Watcher.StatsCron)
	}
	if cfg.Events.NATS.Prefix != DefaultNATSTopic {
		t.Errorf("Expected default nats prefix, got %q", cfg.Events.NATS.Prefix)
	}
}

// TestLoadEnvironmentOverridesFile tests that FLEETWATCH_* variables win over the file
func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "fleetwatch.yaml", `database:
  path: /data/fleet.db
log:
  level: warn
`)
	t.Setenv(EnvDBPath, "/tmp/other.db")
	t.Setenv(EnvNATSURL, "nats://broker:4222")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Path != "/tmp/other.db" {
		t.Errorf("Expected database path from environment, got %q", cfg.Database.Path)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Expected log level from file, got %q", cfg.Log.Level)
	}
	if cfg.Events.NATS.URL != "nats://broker:4222" {
		t.Errorf("Expected nats url from environment, got %q", cfg.Events.NATS.URL)
	}
}

// TestLoadEnvFile tests that .env files feed the environment without
// overriding variables already set
func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := writeFile(t, dir, ".env", EnvLogLevel+"=debug\n"+EnvSQSRegion+"=eu-west-1\n")
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvSQSRegion, "")
	os.Unsetenv(EnvSQSRegion)

	cfg, err := Load(filepath.Join(dir, "missing.yaml"), envFile, filepath.Join(dir, "absent.env"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("Expected process environment to win, got %q", cfg.Log.Level)
	}
	if cfg.Events.SQS.Region != "eu-west-1" {
		t.Errorf("Expected region from env file, got %q", cfg.Events.SQS.Region)
	}
}

// TestDeviceConversion tests the device model built from an entry
func TestDeviceConversion(t *testing.T) {
	off := false
	d := DeviceConfig{ID: "nas", IP: "10.0.0.2", WatchEvents: &off, Cron: "*/5 * * * *"}

	device := d.Device()
	if device.Name != "nas" {
		t.Errorf("Expected name to default to id, got %q", device.Name)
	}
	if !device.Watch || !device.WatchByDefault {
		t.Errorf("Expected watch and watch_by_default to default to true, got %+v", device)
	}
	if device.WatchEvents {
		t.Error("Expected watch_events false")
	}
	if device.DockerWatcherCron != "*/5 * * * *" {
		t.Errorf("Expected device cron, got %q", device.DockerWatcherCron)
	}
	if device.UseCustomDockerSSH {
		t.Error("Expected no custom docker ssh")
	}

	d.DockerSSH = &credentials.Identity{Username: "docker"}
	if !d.Device().UseCustomDockerSSH {
		t.Error("Expected custom docker ssh when docker_ssh is set")
	}
}

// TestRegistryAccountConversion tests that the name defaults to the provider
func TestRegistryAccountConversion(t *testing.T) {
	account := RegistryConfig{Provider: "ghcr"}.Account()
	if account.Name != "ghcr" {
		t.Errorf("Expected name ghcr, got %q", account.Name)
	}
}

// TestIdentities tests that identities are keyed by device id
func TestIdentities(t *testing.T) {
	cfg := &Config{Devices: []DeviceConfig{
		{ID: "nas"},
		{ID: "pi"},
	}}
	cfg.Devices[0].SSH.Username = "admin"

	ids := cfg.Identities()
	if len(ids) != 2 {
		t.Fatalf("Expected 2 identities, got %d", len(ids))
	}
	if ids["nas"].Primary.Username != "admin" {
		t.Errorf("Expected admin, got %q", ids["nas"].Primary.Username)
	}
}
