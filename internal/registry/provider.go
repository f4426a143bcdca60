// Package registry implements the registry providers used to find newer
// versions of container images.
//
// Every provider speaks the Docker Registry HTTP API v2 through the shared V2
// base: tags are listed page by page following the Link header, and manifest
// digests are resolved for manifest lists, OCI indexes, single manifests and
// legacy schema 1 manifests. Flavors differ in how they match an image to
// themselves, how they rewrite its registry URL and how they authenticate.
package registry

import (
	"context"
	"errors"
	"net/http"

	"github.com/chis/fleetwatch/internal/component"
	"github.com/chis/fleetwatch/internal/model"
)

// ErrNoManifest is returned when a manifest response matches no known schema.
var ErrNoManifest = errors.New("no manifest found")

// ManifestDigest is the outcome of a manifest digest lookup.
type ManifestDigest struct {
	Digest  string
	Version int
	Created string

	// Legacy is set for schema 1 manifests, whose digest is the config image
	// recorded in the v1 compatibility history rather than a content digest.
	Legacy bool
}

// Provider is a registry flavor.
type Provider interface {
	ID() string
	ProviderType() string
	Name() string
	MaskedConfiguration() component.Configuration

	Register(ctx context.Context, id string, kind component.Kind, providerType, name string, cfg component.Configuration) error
	Deregister(ctx context.Context) error

	// Match reports whether the provider owns the image's registry.
	Match(image model.Image) bool

	// NormalizeImage sets the registry name to the provider id and the
	// registry URL to the absolute /v2 endpoint.
	NormalizeImage(image model.Image) model.Image

	// Authenticate adds credentials to an outbound registry request.
	Authenticate(ctx context.Context, image model.Image, req *http.Request) error

	// GetTags lists every tag of the image, sorted in descending order.
	GetTags(ctx context.Context, image model.Image) ([]string, error)

	// GetImageManifestDigest resolves the digest of the image's tag, or of
	// digest when not empty.
	GetImageManifestDigest(ctx context.Context, image model.Image, digest string) (*ManifestDigest, error)

	// Anonymous reports whether the provider holds no credentials.
	Anonymous() bool
}

// Provider types
const (
	TypeHub     = "hub"
	TypeECR     = "ecr"
	TypeGCR     = "gcr"
	TypeGHCR    = "ghcr"
	TypeLSCR    = "lscr"
	TypeQuay    = "quay"
	TypeGitLab  = "gitlab"
	TypeGitea   = "gitea"
	TypeForgejo = "forgejo"
	TypeACR     = "acr"
	TypeCustom  = "custom"
)

// Types lists every provider type known to New.
var Types = []string{TypeHub, TypeECR, TypeGCR, TypeGHCR, TypeLSCR, TypeQuay, TypeGitLab, TypeGitea, TypeForgejo, TypeACR, TypeCustom}

// DefaultAnonymous lists the providers registered without credentials at
// startup. A configured account of the same name replaces the default.
var DefaultAnonymous = []string{TypeECR, TypeGCR, TypeGHCR, TypeHub, TypeQuay, TypeLSCR}

// New creates an unregistered provider of the given type. It returns false
// for unknown types.
func New(providerType string) (Provider, bool) {
	switch providerType {
	case TypeHub:
		return NewHub(), true
	case TypeECR:
		return NewECR(), true
	case TypeGCR:
		return NewGCR(), true
	case TypeGHCR:
		return NewGHCR(), true
	case TypeLSCR:
		return NewLSCR(), true
	case TypeQuay:
		return NewQuay(), true
	case TypeGitLab:
		return NewGitLab(), true
	case TypeGitea:
		return NewGitea(), true
	case TypeForgejo:
		return NewForgejo(), true
	case TypeACR:
		return NewACR(), true
	case TypeCustom:
		return NewCustom(), true
	default:
		return nil, false
	}
}
