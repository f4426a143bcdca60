package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chis/fleetwatch/internal/model"
)

// ErrNoIdentity is returned when a device has no usable SSH identity.
var ErrNoIdentity = errors.New("no SSH identity")

// Identity is an SSH identity as stored. Secret fields may be sealed.
type Identity struct {
	Host       string `yaml:"host,omitempty"`
	Port       int    `yaml:"port,omitempty"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password,omitempty"`
	PrivateKey string `yaml:"privatekey,omitempty"`
	Passphrase string `yaml:"passphrase,omitempty"`
}

// DeviceIdentities holds the identities of one device.
type DeviceIdentities struct {
	// Primary is the device's SSH identity.
	Primary Identity `yaml:"primary"`

	// Docker is used instead of Primary when the device asks for a
	// dedicated Docker SSH identity.
	Docker *Identity `yaml:"docker,omitempty"`
}

// Source looks up the stored identities of a device.
type Source interface {
	DeviceIdentities(ctx context.Context, deviceID string) (DeviceIdentities, error)
}

// StaticSource serves identities from memory.
type StaticSource struct {
	mu         sync.RWMutex
	identities map[string]DeviceIdentities
}

// NewStaticSource returns a source holding the given identities.
func NewStaticSource(identities map[string]DeviceIdentities) *StaticSource {
	s := &StaticSource{identities: make(map[string]DeviceIdentities, len(identities))}
	for id, ids := range identities {
		s.identities[id] = ids
	}
	return s
}

// Set replaces the identities of a device.
func (s *StaticSource) Set(deviceID string, ids DeviceIdentities) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[deviceID] = ids
}

// DeviceIdentities implements Source.
func (s *StaticSource) DeviceIdentities(_ context.Context, deviceID string) (DeviceIdentities, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, ok := s.identities[deviceID]
	if !ok {
		return DeviceIdentities{}, fmt.Errorf("device %s: %w", deviceID, ErrNoIdentity)
	}
	return ids, nil
}

// Resolver returns decrypted SSH credentials for devices.
type Resolver struct {
	source Source
	vault  Vault
}

// NewResolver creates a resolver. A nil vault leaves values unchanged.
func NewResolver(source Source, vault Vault) *Resolver {
	if vault == nil {
		vault = PlainVault{}
	}
	return &Resolver{source: source, vault: vault}
}

// SSHCredentials returns the connection parameters for device. The custom
// Docker identity is used when the device selects it; the host defaults to
// the device IP.
func (r *Resolver) SSHCredentials(ctx context.Context, device model.Device) (model.SSHCredentials, error) {
	ids, err := r.source.DeviceIdentities(ctx, device.ID)
	if err != nil {
		return model.SSHCredentials{}, err
	}

	identity := ids.Primary
	if device.UseCustomDockerSSH {
		if ids.Docker == nil {
			return model.SSHCredentials{}, fmt.Errorf("device %s has no custom Docker SSH identity: %w", device.ID, ErrNoIdentity)
		}
		identity = *ids.Docker
	}

	creds := model.SSHCredentials{
		Host:     identity.Host,
		Port:     identity.Port,
		Username: identity.Username,
	}
	if creds.Host == "" {
		creds.Host = device.IP
	}

	secrets := []struct {
		name  string
		value string
		dst   *string
	}{
		{"password", identity.Password, &creds.Password},
		{"private key", identity.PrivateKey, &creds.PrivateKey},
		{"passphrase", identity.Passphrase, &creds.Passphrase},
	}
	for _, s := range secrets {
		if s.value == "" {
			continue
		}
		plain, err := r.vault.Decrypt(ctx, s.value)
		if err != nil {
			return model.SSHCredentials{}, fmt.Errorf("failed to decrypt %s of device %s: %w", s.name, device.ID, err)
		}
		*s.dst = plain
	}

	if creds.Username == "" || (creds.Password == "" && creds.PrivateKey == "") {
		return model.SSHCredentials{}, fmt.Errorf("device %s: incomplete SSH identity: %w", device.ID, ErrNoIdentity)
	}
	return creds, nil
}
