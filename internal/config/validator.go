package config

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/robfig/cron/v3"

	"github.com/chis/fleetwatch/internal/component"
	"github.com/chis/fleetwatch/internal/credentials"
	"github.com/chis/fleetwatch/internal/registry"
)

// ValidationResult contains the results of configuration validation.
// Separates errors (blocking issues) from warnings (non-blocking issues).
type ValidationResult struct {
	// Errors contains validation failures that should block operations
	Errors []string

	// Warnings contains validation issues that should be logged but not block operations
	Warnings []string
}

// IsValid returns true if there are no validation errors.
// Warnings do not affect validity.
func (vr *ValidationResult) IsValid() bool {
	return len(vr.Errors) == 0
}

// HasWarnings returns true if there are any validation warnings.
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// AddError adds an error message to the validation result.
func (vr *ValidationResult) AddError(msg string) {
	vr.Errors = append(vr.Errors, msg)
}

// AddWarning adds a warning message to the validation result.
func (vr *ValidationResult) AddWarning(msg string) {
	vr.Warnings = append(vr.Warnings, msg)
}

// Merge combines multiple validation results into a single result.
func (vr *ValidationResult) Merge(other ValidationResult) {
	vr.Errors = append(vr.Errors, other.Errors...)
	vr.Warnings = append(vr.Warnings, other.Warnings...)
}

// ValidateCron validates a standard 5-field cron expression.
func ValidateCron(field, expr string) ValidationResult {
	result := ValidationResult{}
	if expr == "" {
		return result
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		result.AddError(fmt.Sprintf("invalid %s expression %q: %v", field, expr, err))
	}
	return result
}

// ValidateDevice validates a device entry.
// A device without SSH username is accepted with a warning since its
// identity may be stored elsewhere.
func ValidateDevice(d DeviceConfig) ValidationResult {
	result := ValidationResult{}

	if strings.TrimSpace(d.ID) == "" {
		result.AddError("device id cannot be empty")
		return result
	}
	if d.IP == "" {
		result.AddError(fmt.Sprintf("device %s: ip cannot be empty", d.ID))
	} else if !govalidator.IsHost(d.IP) {
		result.AddError(fmt.Sprintf("device %s: invalid ip or host %q", d.ID, d.IP))
	}
	if d.SSH.Port < 0 || d.SSH.Port > 65535 {
		result.AddError(fmt.Sprintf("device %s: ssh port %d is out of range", d.ID, d.SSH.Port))
	}
	if d.SSH.Username == "" {
		result.AddWarning(fmt.Sprintf("device %s: no ssh username configured", d.ID))
	}
	if d.DockerSSH != nil && d.DockerSSH.Username == "" {
		result.AddError(fmt.Sprintf("device %s: docker_ssh requires a username", d.ID))
	}

	result.Merge(ValidateCron(fmt.Sprintf("device %s cron", d.ID), d.Cron))
	result.Merge(ValidateCron(fmt.Sprintf("device %s stats_cron", d.ID), d.StatsCron))
	return result
}

// ValidateRegistry validates a registry account by registering it on a
// throwaway provider.
func ValidateRegistry(r RegistryConfig) ValidationResult {
	result := ValidationResult{}

	account := r.Account()
	p, ok := registry.New(account.Provider)
	if !ok {
		result.AddError(fmt.Sprintf("registry %s: unknown provider %q", account.Name, account.Provider))
		return result
	}

	cfg := make(component.Configuration, len(account.Authentication))
	for k, v := range account.Authentication {
		cfg[k] = v
	}
	ctx := context.Background()
	id := component.ID(component.KindRegistry, account.Provider, account.Name)
	if err := p.Register(ctx, id, component.KindRegistry, account.Provider, account.Name, cfg); err != nil {
		result.AddError(fmt.Sprintf("registry %s: %v", account.Name, err))
	}
	_ = p.Deregister(ctx)
	return result
}

// ValidateVaultKey validates the vault key. An empty key is accepted with a
// warning.
func ValidateVaultKey(key string) ValidationResult {
	result := ValidationResult{}
	if key == "" {
		result.AddWarning("no vault key configured, secrets are stored in clear")
		return result
	}
	if _, err := credentials.NewSecretBox(key); err != nil {
		result.AddError(fmt.Sprintf("invalid vault key: %v", err))
	}
	return result
}

// ValidateEvents validates the broker settings.
func ValidateEvents(e EventsConfig) ValidationResult {
	result := ValidationResult{}
	if e.NATS.URL != "" {
		u, err := url.Parse(e.NATS.URL)
		if err != nil || u.Host == "" {
			result.AddError(fmt.Sprintf("invalid nats url %q", e.NATS.URL))
		}
	}
	if e.SQS.QueueURL != "" {
		if !govalidator.IsURL(e.SQS.QueueURL) {
			result.AddError(fmt.Sprintf("invalid sqs queue url %q", e.SQS.QueueURL))
		}
		if e.SQS.Region == "" {
			result.AddWarning("no sqs region configured, using the AWS default")
		}
	}
	return result
}

// ValidateConfig validates an entire configuration object.
// Aggregates validation results from all configured values.
// Returns a combined ValidationResult with all errors and warnings.
func ValidateConfig(cfg *Config) ValidationResult {
	result := ValidationResult{}

	if cfg.Log.Format != "" && cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		result.AddError(fmt.Sprintf("invalid log format %q: must be text or json", cfg.Log.Format))
	}
	result.Merge(ValidateCron("watcher cron", cfg.Watcher.Cron))
	result.Merge(ValidateCron("watcher stats_cron", cfg.Watcher.StatsCron))
	result.Merge(ValidateVaultKey(cfg.Vault.Key))
	result.Merge(ValidateEvents(cfg.Events))

	devices := make(map[string]bool, len(cfg.Devices))
	for _, d := range cfg.Devices {
		if devices[d.ID] {
			result.AddError(fmt.Sprintf("duplicate device id %s", d.ID))
		}
		devices[d.ID] = true
		result.Merge(ValidateDevice(d))
	}

	registries := make(map[string]bool, len(cfg.Registries))
	for _, r := range cfg.Registries {
		a := r.Account()
		id := component.ID(component.KindRegistry, a.Provider, a.Name)
		if registries[id] {
			result.AddError(fmt.Sprintf("duplicate registry %s", id))
		}
		registries[id] = true
		result.Merge(ValidateRegistry(r))
	}
	return result
}
