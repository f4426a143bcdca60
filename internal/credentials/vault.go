// Package credentials resolves the SSH identity used to reach a device's
// Docker daemon.
package credentials

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// sealedPrefix marks a value sealed by SecretBox.
const sealedPrefix = "enc:v1:"

// ErrInvalidKey is returned for vault keys that are not 32 bytes.
var ErrInvalidKey = errors.New("vault key must be 32 bytes, hex or base64 encoded")

// Vault decrypts stored secrets.
type Vault interface {
	Decrypt(ctx context.Context, value string) (string, error)
}

// PlainVault returns values unchanged.
type PlainVault struct{}

// Decrypt implements Vault.
func (PlainVault) Decrypt(_ context.Context, value string) (string, error) {
	return value, nil
}

// SecretBox seals secrets with XChaCha20-Poly1305.
type SecretBox struct {
	key []byte
}

// NewSecretBox parses a 32-byte key given as hex or base64.
func NewSecretBox(key string) (*SecretBox, error) {
	key = strings.TrimSpace(key)
	raw, err := hex.DecodeString(key)
	if err != nil || len(raw) != chacha20poly1305.KeySize {
		raw, err = base64.StdEncoding.DecodeString(key)
	}
	if err != nil || len(raw) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	return &SecretBox{key: raw}, nil
}

// Encrypt seals value. The result carries a version prefix.
func (b *SecretBox) Encrypt(value string) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(value)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(value), nil)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt implements Vault. Values without the sealed prefix are returned
// unchanged so that plaintext configuration keeps working.
func (b *SecretBox) Decrypt(_ context.Context, value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	sealed, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode sealed value: %w", err)
	}

	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	if len(sealed) < aead.NonceSize() {
		return "", errors.New("sealed value too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to open sealed value: %w", err)
	}
	return string(plain), nil
}
