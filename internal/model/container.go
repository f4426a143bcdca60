// Package model holds the data shared between the watcher, the registry
// providers and the persistence collaborators.
package model

import (
	"time"
)

// ImageRegistry identifies the registry an image is served from.
type ImageRegistry struct {
	// Name is the canonical name of the provider that owns the image
	Name string `json:"name"`

	// URL is the registry endpoint. After normalization it is an absolute
	// http(s) URL ending in /v2.
	URL string `json:"url"`
}

// ImageDigest tracks digest watching for an image.
type ImageDigest struct {
	Watch bool   `json:"watch"`
	Repo  string `json:"repo,omitempty"`  // digest recorded by the daemon (RepoDigests)
	Value string `json:"value,omitempty"` // content digest used for comparison
}

// ImageTag is the tag the container currently runs.
type ImageTag struct {
	Value  string `json:"value"`
	Semver bool   `json:"semver"`
}

// Image describes the image of a container.
type Image struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Registry     ImageRegistry `json:"registry"`
	Digest       ImageDigest   `json:"digest"`
	Tag          ImageTag      `json:"tag"`
	OS           string        `json:"os"`
	Architecture string        `json:"architecture"`
	Variant      []string      `json:"variant,omitempty"`
	Created      string        `json:"created,omitempty"`
}

// Clone returns a deep copy of the image.
func (i Image) Clone() Image {
	out := i
	if i.Variant != nil {
		out.Variant = append([]string(nil), i.Variant...)
	}
	return out
}

// Result is the latest version found on the registry for a container.
type Result struct {
	Tag     string `json:"tag"`
	Digest  string `json:"digest,omitempty"`
	Created string `json:"created,omitempty"`
	Link    string `json:"link,omitempty"`
}

// ContainerError is a per-container failure captured during a scan.
type ContainerError struct {
	Message string `json:"message"`
}

// Update kinds
const (
	UpdateKindTag     = "tag"
	UpdateKindDigest  = "digest"
	UpdateKindUnknown = "unknown"
)

// UpdateKind describes what changed between the local image and the result.
type UpdateKind struct {
	Kind        string `json:"kind"`
	LocalValue  string `json:"localValue,omitempty"`
	RemoteValue string `json:"remoteValue,omitempty"`
	SemverDiff  string `json:"semverDiff,omitempty"`
}

// Container is a container discovered on a device.
type Container struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Status          string          `json:"status"`
	Watcher         string          `json:"watcher"`
	IncludeTags     string          `json:"includeTags,omitempty"`
	ExcludeTags     string          `json:"excludeTags,omitempty"`
	TransformTags   string          `json:"transformTags,omitempty"`
	LinkTemplate    string          `json:"linkTemplate,omitempty"`
	DisplayName     string          `json:"displayName,omitempty"`
	DisplayIcon     string          `json:"displayIcon,omitempty"`
	CustomName      string          `json:"customName,omitempty"`
	Image           Image           `json:"image"`
	Result          *Result         `json:"result,omitempty"`
	Error           *ContainerError `json:"error,omitempty"`
	UpdateAvailable bool            `json:"updateAvailable"`
	UpdateKind      UpdateKind      `json:"updateKind"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy of the container.
func (c Container) Clone() Container {
	out := c
	out.Image = c.Image.Clone()
	if c.Result != nil {
		r := *c.Result
		out.Result = &r
	}
	if c.Error != nil {
		e := *c.Error
		out.Error = &e
	}
	return out
}

// ResultChanged reports whether the reportable result fields differ from
// another container's.
func (c Container) ResultChanged(other Container) bool {
	if c.Result == nil || other.Result == nil {
		return c.Result != other.Result
	}
	return c.Result.Tag != other.Result.Tag ||
		c.Result.Digest != other.Result.Digest ||
		c.Result.Created != other.Result.Created
}

// ContainerReport is emitted after resolving a container.
type ContainerReport struct {
	Container Container `json:"container"`
	Changed   bool      `json:"changed"`
}

// ContainerStats is a point-in-time resource usage snapshot.
type ContainerStats struct {
	ID            string    `json:"id"`
	ContainerID   string    `json:"containerId"`
	CPUPercent    float64   `json:"cpuPercent"`
	MemoryUsage   uint64    `json:"memoryUsage"`
	MemoryLimit   uint64    `json:"memoryLimit"`
	MemoryPercent float64   `json:"memoryPercent"`
	NetworkRx     uint64    `json:"networkRx"`
	NetworkTx     uint64    `json:"networkTx"`
	CreatedAt     time.Time `json:"createdAt"`
}
