package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/chis/fleetwatch/internal/component"
	"github.com/chis/fleetwatch/internal/model"
)

// flavor is the part of a provider that differs between registries.
type flavor interface {
	component.Configurable
	Match(image model.Image) bool
	NormalizeImage(image model.Image) model.Image
	Authenticate(ctx context.Context, image model.Image, req *http.Request) error
	Anonymous() bool
}

// pager computes the query of the next tags page from the current page and
// its Link header. It returns false when there is no next page.
type pager func(page []string, link string) (url.Values, bool)

// V2 implements the registry HTTP API v2 protocol shared by every flavor.
type V2 struct {
	component.Component

	// HTTPClient is used for every registry call
	HTTPClient *http.Client

	// Tokens caches bearer tokens from token exchanges
	Tokens *TokenCache

	flavor   flavor
	nextPage pager
}

func (v *V2) init(f flavor) {
	v.flavor = f
	v.nextPage = lastItemPager
	v.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	v.Tokens = NewTokenCache(DefaultTokenTTL)
}

// Register validates the configuration against the flavor's schema and runs
// its Init hook.
func (v *V2) Register(ctx context.Context, id string, kind component.Kind, providerType, name string, cfg component.Configuration) error {
	return v.Component.Register(ctx, v.flavor, id, kind, providerType, name, cfg)
}

type tagsResponse struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// lastItemPager continues after the last tag of the page while the server
// sends a Link header.
func lastItemPager(page []string, link string) (url.Values, bool) {
	if link == "" || len(page) == 0 {
		return nil, false
	}
	return url.Values{"last": {page[len(page)-1]}}, true
}

// GetTags lists all tags of an image, following Link continuations, and
// returns them in descending lexicographic order.
func (v *V2) GetTags(ctx context.Context, image model.Image) ([]string, error) {
	v.Log().Debug("Get %s tags", image.Name)

	seen := make(map[string]struct{})
	tags := []string{}
	var cursor url.Values

	for {
		query := url.Values{"n": {strconv.Itoa(tagsPageSize)}}
		for k, vals := range cursor {
			query[k] = vals
		}
		endpoint := fmt.Sprintf("%s/%s/tags/list?%s", image.Registry.URL, image.Name, query.Encode())

		var page tagsResponse
		header, err := v.call(ctx, image, http.MethodGet, endpoint, "", "tags request", &page)
		if err != nil {
			return nil, err
		}

		for _, tag := range page.Tags {
			if _, dup := seen[tag]; dup {
				continue
			}
			seen[tag] = struct{}{}
			tags = append(tags, tag)
		}

		next, ok := v.nextPage(page.Tags, header.Get("Link"))
		if !ok || next.Encode() == cursor.Encode() {
			break
		}
		cursor = next
	}

	sort.Sort(sort.Reverse(sort.StringSlice(tags)))
	return tags, nil
}

type platform struct {
	Architecture string `json:"architecture"`
	OS           string `json:"os"`
	Variant      string `json:"variant"`
}

type descriptor struct {
	MediaType string   `json:"mediaType"`
	Digest    string   `json:"digest"`
	Platform  platform `json:"platform"`
}

type manifestResponse struct {
	SchemaVersion int          `json:"schemaVersion"`
	MediaType     string       `json:"mediaType"`
	Manifests     []descriptor `json:"manifests"`
	Config        descriptor   `json:"config"`
	History       []struct {
		V1Compatibility string `json:"v1Compatibility"`
	} `json:"history"`
}

type v1Compatibility struct {
	Created string `json:"created"`
	Config  struct {
		Image string `json:"Image"`
	} `json:"config"`
}

// GetImageManifestDigest resolves the manifest digest of an image.
//
// For a manifest list or OCI index the platform entry matching the image's
// architecture and os is selected, preferring the recorded variant. If that
// entry is a manifest, a HEAD request yields its content digest (version 2).
// If it is an image config, its digest is returned as is (version 1). A
// single manifest resolves through its config descriptor the same way.
// Legacy schema 1 manifests yield the config image from the v1
// compatibility history (version 1, Legacy set). A HEAD response without a
// content digest header is an error.
func (v *V2) GetImageManifestDigest(ctx context.Context, image model.Image, digest string) (*ManifestDigest, error) {
	reference := image.Tag.Value
	if digest != "" {
		reference = digest
	}
	v.Log().Debug("Get %s:%s manifest", image.Name, reference)

	endpoint := fmt.Sprintf("%s/%s/manifests/%s", image.Registry.URL, image.Name, reference)
	var manifest manifestResponse
	if _, err := v.call(ctx, image, http.MethodGet, endpoint, manifestAcceptHeader, "manifest request", &manifest); err != nil {
		return nil, err
	}

	var found descriptor
	switch manifest.SchemaVersion {
	case 2:
		switch {
		case isIndex(manifest):
			found = selectPlatform(manifest.Manifests, image)
		case isSingleManifest(manifest):
			found = manifest.Config
		}
	case 1:
		if len(manifest.History) == 0 {
			return nil, ErrNoManifest
		}
		var compat v1Compatibility
		if err := json.Unmarshal([]byte(manifest.History[0].V1Compatibility), &compat); err != nil {
			return nil, fmt.Errorf("failed to decode v1 compatibility: %w", err)
		}
		return &ManifestDigest{
			Digest:  compat.Config.Image,
			Created: compat.Created,
			Version: 1,
			Legacy:  true,
		}, nil
	}

	if found.Digest == "" {
		return nil, ErrNoManifest
	}

	switch found.MediaType {
	case MediaTypeManifestV2, MediaTypeOCIManifest:
		endpoint := fmt.Sprintf("%s/%s/manifests/%s", image.Registry.URL, image.Name, found.Digest)
		header, err := v.call(ctx, image, http.MethodHead, endpoint, found.MediaType, "manifest digest request", nil)
		if err != nil {
			return nil, err
		}
		content := header.Get(headerContentDigest)
		if content == "" {
			return nil, fmt.Errorf("manifest digest request: no %s header for %s@%s", headerContentDigest, image.Name, found.Digest)
		}
		return &ManifestDigest{
			Digest:  content,
			Version: 2,
		}, nil
	case MediaTypeImageConfig, MediaTypeOCIConfig:
		return &ManifestDigest{
			Digest:  found.Digest,
			Version: 1,
		}, nil
	default:
		return nil, ErrNoManifest
	}
}

func isIndex(m manifestResponse) bool {
	switch m.MediaType {
	case MediaTypeManifestList, MediaTypeOCIIndex:
		return true
	case "":
		return len(m.Manifests) > 0
	default:
		return false
	}
}

func isSingleManifest(m manifestResponse) bool {
	switch m.MediaType {
	case MediaTypeManifestV2, MediaTypeOCIManifest:
		return true
	case "":
		return m.Config.Digest != ""
	default:
		return false
	}
}

// selectPlatform picks the entry matching the image platform. Among several
// matches the one with the image's variant wins, otherwise the first.
func selectPlatform(manifests []descriptor, image model.Image) descriptor {
	var matches []descriptor
	for _, m := range manifests {
		if m.Platform.Architecture == image.Architecture && m.Platform.OS == image.OS {
			matches = append(matches, m)
		}
	}

	switch len(matches) {
	case 0:
		return descriptor{}
	case 1:
		return matches[0]
	}

	for _, m := range matches {
		for _, variant := range image.Variant {
			if m.Platform.Variant == variant {
				return m
			}
		}
	}
	return matches[0]
}

// call performs an authenticated registry request and decodes a JSON body
// into out when out is not nil.
func (v *V2) call(ctx context.Context, image model.Image, method, endpoint, accept, operation string, out interface{}) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	if err := v.flavor.Authenticate(ctx, image, req); err != nil {
		return nil, fmt.Errorf("failed to authenticate to %s: %w", v.ID(), err)
	}

	resp, err := v.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", operation, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp) {
		return nil, handleHTTPError(resp, operation)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("failed to decode %s response: %w", operation, err)
		}
	}
	return resp.Header, nil
}

// registryHost strips scheme, path and /v2 suffix from a registry URL.
func registryHost(raw string) string {
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

// v2Endpoint turns a host or base URL into an absolute /v2 endpoint.
func v2Endpoint(raw string) string {
	raw = strings.TrimSuffix(raw, "/")
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	if strings.HasSuffix(raw, "/v2") {
		return raw
	}
	return raw + "/v2"
}

// baseURL strips the /v2 suffix from a normalized registry URL.
func baseURL(registryURL string) string {
	return strings.TrimSuffix(strings.TrimSuffix(registryURL, "/"), "/v2")
}

// domainPattern matches a domain and any of its subdomains.
func domainPattern(domain string) *regexp.Regexp {
	return regexp.MustCompile(`^(.*\.)?` + regexp.QuoteMeta(domain) + `$`)
}

// normalize copies the image with the provider id and endpoint set.
func (v *V2) normalize(image model.Image, endpoint string) model.Image {
	out := image.Clone()
	out.Registry.Name = v.ID()
	out.Registry.URL = endpoint
	return out
}
