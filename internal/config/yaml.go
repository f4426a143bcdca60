package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables overriding the file.
const (
	EnvDBPath      = "FLEETWATCH_DB_PATH"
	EnvLogLevel    = "FLEETWATCH_LOG_LEVEL"
	EnvLogFormat   = "FLEETWATCH_LOG_FORMAT"
	EnvWatcherCron = "FLEETWATCH_WATCHER_CRON"
	EnvStatsCron   = "FLEETWATCH_STATS_CRON"
	EnvVaultKey    = "FLEETWATCH_VAULT_KEY"
	EnvNATSURL     = "FLEETWATCH_NATS_URL"
	EnvNATSPrefix  = "FLEETWATCH_NATS_PREFIX"
	EnvSQSQueueURL = "FLEETWATCH_SQS_QUEUE_URL"
	EnvSQSRegion   = "FLEETWATCH_SQS_REGION"
)

// LoadYAMLConfig loads configuration from a YAML file.
// Returns an empty config if the file doesn't exist (not an error).
// Returns an error only if the file exists but cannot be parsed.
func LoadYAMLConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read YAML config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return cfg, nil
}

// Load reads the YAML file at path, applies the environment and fills
// defaults. Existing envFiles are loaded first; variables already set in
// the process environment win over them.
func Load(path string, envFiles ...string) (*Config, error) {
	var files []string
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			files = append(files, f)
		}
	}
	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return nil, fmt.Errorf("failed to load env files: %w", err)
		}
	}

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	for env, dst := range map[string]*string{
		EnvDBPath:      &c.Database.Path,
		EnvLogLevel:    &c.Log.Level,
		EnvLogFormat:   &c.Log.Format,
		EnvWatcherCron: &c.Watcher.Cron,
		EnvStatsCron:   &c.Watcher.StatsCron,
		EnvVaultKey:    &c.Vault.Key,
		EnvNATSURL:     &c.Events.NATS.URL,
		EnvNATSPrefix:  &c.Events.NATS.Prefix,
		EnvSQSQueueURL: &c.Events.SQS.QueueURL,
		EnvSQSRegion:   &c.Events.SQS.Region,
	} {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*dst = v
		}
	}
}
