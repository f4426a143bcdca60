package credentials

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chis/fleetwatch/internal/model"
)

var testKey = strings.Repeat("ab", 32)

func TestSecretBoxRoundTrip(t *testing.T) {
	box, err := NewSecretBox(testKey)
	require.NoError(t, err)

	sealed, err := box.Encrypt("hunter2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "enc:v1:"))
	assert.NotContains(t, sealed, "hunter2")

	plain, err := box.Decrypt(context.Background(), sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)

	plain, err = box.Decrypt(context.Background(), "not sealed")
	require.NoError(t, err)
	assert.Equal(t, "not sealed", plain)
}

func TestSecretBoxRejectsTamperingAndWrongKey(t *testing.T) {
	box, err := NewSecretBox(testKey)
	require.NoError(t, err)
	sealed, err := box.Encrypt("hunter2")
	require.NoError(t, err)

	other, err := NewSecretBox(hex.EncodeToString(make([]byte, 32)))
	require.NoError(t, err)
	_, err = other.Decrypt(context.Background(), sealed)
	assert.Error(t, err)

	_, err = box.Decrypt(context.Background(), sealedPrefix+"AAAA")
	assert.Error(t, err)
}

func TestNewSecretBoxKeyFormats(t *testing.T) {
	_, err := NewSecretBox("too short")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewSecretBox("q83vEjRWeJq83vEjRWeJq83vEjRWeJq83vEjRWeJq80=")
	assert.NoError(t, err)
}

func TestResolverPrimaryIdentity(t *testing.T) {
	box, err := NewSecretBox(testKey)
	require.NoError(t, err)
	sealed, err := box.Encrypt("pw")
	require.NoError(t, err)

	source := NewStaticSource(map[string]DeviceIdentities{
		"d1": {Primary: Identity{Username: "root", Password: sealed}},
	})
	creds, err := NewResolver(source, box).SSHCredentials(context.Background(), model.Device{ID: "d1", IP: "10.0.0.9"})
	require.NoError(t, err)

	assert.Equal(t, model.SSHCredentials{Host: "10.0.0.9", Username: "root", Password: "pw"}, creds)
}

func TestResolverCustomDockerIdentity(t *testing.T) {
	source := NewStaticSource(map[string]DeviceIdentities{
		"d1": {
			Primary: Identity{Username: "root", Password: "pw"},
			Docker:  &Identity{Host: "docker.lan", Port: 2222, Username: "docker", PrivateKey: "KEY", Passphrase: "pp"},
		},
	})
	resolver := NewResolver(source, nil)

	creds, err := resolver.SSHCredentials(context.Background(), model.Device{ID: "d1", IP: "10.0.0.9", UseCustomDockerSSH: true})
	require.NoError(t, err)
	assert.Equal(t, "docker.lan", creds.Host)
	assert.Equal(t, 2222, creds.Port)
	assert.Equal(t, "docker", creds.Username)
	assert.Equal(t, "KEY", creds.PrivateKey)
	assert.Equal(t, "pp", creds.Passphrase)
	assert.Empty(t, creds.Password)
}

func TestResolverErrors(t *testing.T) {
	source := NewStaticSource(map[string]DeviceIdentities{
		"nokey":    {Primary: Identity{Username: "root"}},
		"nodocker": {Primary: Identity{Username: "root", Password: "pw"}},
	})
	resolver := NewResolver(source, nil)
	ctx := context.Background()

	_, err := resolver.SSHCredentials(ctx, model.Device{ID: "missing"})
	assert.ErrorIs(t, err, ErrNoIdentity)

	_, err = resolver.SSHCredentials(ctx, model.Device{ID: "nokey"})
	assert.ErrorIs(t, err, ErrNoIdentity)

	_, err = resolver.SSHCredentials(ctx, model.Device{ID: "nodocker", UseCustomDockerSSH: true})
	assert.ErrorIs(t, err, ErrNoIdentity)

	failing := NewResolver(NewStaticSource(map[string]DeviceIdentities{
		"d1": {Primary: Identity{Username: "root", Password: "x"}},
	}), failingVault{})
	_, err = failing.SSHCredentials(ctx, model.Device{ID: "d1"})
	assert.ErrorContains(t, err, "failed to decrypt password")
}

type failingVault struct{}

func (failingVault) Decrypt(context.Context, string) (string, error) {
	return "", errors.New("vault sealed")
}
