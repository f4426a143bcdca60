package registry

import "time"

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests to registries
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultTokenTTL is used when a token response carries no expires_in
	DefaultTokenTTL = 5 * time.Minute

	// tagsPageSize is the page size requested from tags/list endpoints
	tagsPageSize = 1000
)

// Manifest media types
const (
	MediaTypeManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
	MediaTypeOCIIndex     = "application/vnd.oci.image.index.v1+json"
	MediaTypeManifestV2   = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeOCIManifest  = "application/vnd.oci.image.manifest.v1+json"
	MediaTypeImageConfig  = "application/vnd.docker.container.image.v1+json"
	MediaTypeOCIConfig    = "application/vnd.oci.image.config.v1+json"
)

const (
	headerContentDigest  = "Docker-Content-Digest"
	manifestAcceptHeader = MediaTypeManifestList + ", " + MediaTypeOCIIndex + ", " + MediaTypeManifestV2 + ", " + MediaTypeOCIManifest
)
