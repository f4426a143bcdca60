package registry

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"regexp"

	"github.com/chis/fleetwatch/internal/component"
	"github.com/chis/fleetwatch/internal/model"
)

// GHCRConfiguration configures GitHub Container Registry access with a
// personal access token.
type GHCRConfiguration struct {
	Username string `cfg:"username" json:"username"`
	Token    string `cfg:"token" json:"token"`
}

// GHCR is the GitHub Container Registry provider. LSCR, which serves the
// same API under lscr.io, reuses it with another domain.
type GHCR struct {
	V2
	config GHCRConfiguration

	domain *regexp.Regexp
}

// NewGHCR creates a ghcr.io provider.
func NewGHCR() *GHCR {
	return newGHCRFlavor("ghcr.io")
}

// NewLSCR creates a lscr.io provider.
func NewLSCR() *GHCR {
	return newGHCRFlavor("lscr.io")
}

func newGHCRFlavor(domain string) *GHCR {
	g := &GHCR{domain: domainPattern(domain)}
	g.V2.init(g)
	return g
}

// ConfigurationSchema returns the GHCR configuration schema.
func (g *GHCR) ConfigurationSchema() interface{} {
	g.config = GHCRConfiguration{}
	return &g.config
}

// MaskConfiguration hides the token.
func (g *GHCR) MaskConfiguration(cfg component.Configuration) component.Configuration {
	return component.MaskFields(cfg, "token")
}

// Anonymous reports whether no token is configured.
func (g *GHCR) Anonymous() bool {
	return g.config.Token == ""
}

// Match owns the provider domain.
func (g *GHCR) Match(image model.Image) bool {
	return g.domain.MatchString(registryHost(image.Registry.URL))
}

// NormalizeImage points the image to the /v2 endpoint.
func (g *GHCR) NormalizeImage(image model.Image) model.Image {
	return g.normalize(image, v2Endpoint(image.Registry.URL))
}

// Authenticate sends the base64 token as bearer, or an anonymous pull token
// fetched from the registry token endpoint.
func (g *GHCR) Authenticate(ctx context.Context, image model.Image, req *http.Request) error {
	if !g.Anonymous() {
		setBearer(req, base64.StdEncoding.EncodeToString([]byte(g.config.Token)))
		return nil
	}

	tokenURL := fmt.Sprintf("%s/token?scope=repository:%s:pull", baseURL(image.Registry.URL), image.Name)
	token, err := g.exchangeToken(ctx, tokenURL, "")
	if err != nil {
		return err
	}
	setBearer(req, token)
	return nil
}
