package docker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/distribution/reference"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
)

const defaultTag = "latest"

// Reference is a parsed image reference.
type Reference struct {
	// Domain is the registry host, docker.io for Docker Hub
	Domain string

	// Path is the repository path, library/<name> for official images
	Path string

	Tag string
}

// ParseReference parses an image reference such as "nginx",
// "ghcr.io/owner/app:1.2" or "registry:5000/app". The tag defaults to latest.
func ParseReference(ref string) (Reference, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return Reference{}, fmt.Errorf("invalid image reference %q: %w", ref, err)
	}

	out := Reference{
		Domain: reference.Domain(named),
		Path:   reference.Path(named),
		Tag:    defaultTag,
	}
	if tagged, ok := named.(reference.Tagged); ok {
		out.Tag = tagged.Tag()
	}
	return out, nil
}

// ImageReference returns the reference to parse for a container: the image
// it was created from or, when that is a bare digest, the first repo tag.
func ImageReference(c container.Summary, img image.InspectResponse) (string, bool) {
	if !strings.Contains(c.Image, "sha256:") {
		return c.Image, true
	}
	if len(img.RepoTags) == 0 {
		return "", false
	}
	return img.RepoTags[0], true
}

// RepoDigest returns the digest the daemon recorded when pulling the image.
func RepoDigest(img image.InspectResponse) string {
	if len(img.RepoDigests) == 0 {
		return ""
	}
	d := img.RepoDigests[0]
	if i := strings.Index(d, "@"); i >= 0 {
		return d[i+1:]
	}
	return d
}

// ConfigImage returns the config image of a raw image inspect body, the
// value legacy schema 1 manifests record in their v1 compatibility history.
// Config.Image is absent from the typed response, so it is read from the raw
// body, falling back to ContainerConfig.Image.
func ConfigImage(raw []byte) string {
	var inspect struct {
		Config struct {
			Image string `json:"Image"`
		} `json:"Config"`
		ContainerConfig struct {
			Image string `json:"Image"`
		} `json:"ContainerConfig"`
	}
	if err := json.Unmarshal(raw, &inspect); err != nil {
		return ""
	}
	if inspect.Config.Image != "" {
		return inspect.Config.Image
	}
	return inspect.ContainerConfig.Image
}

// ContainerName returns the primary name of a container without the leading
// slash.
func ContainerName(c container.Summary) string {
	if len(c.Names) == 0 {
		return c.ID
	}
	return strings.TrimPrefix(c.Names[0], "/")
}
