package registry

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/chis/fleetwatch/internal/component"
	"github.com/chis/fleetwatch/internal/model"
)

// GitLabConfiguration configures a GitLab container registry.
type GitLabConfiguration struct {
	URL     string `cfg:"url" json:"url" valid:"url"`
	AuthURL string `cfg:"authurl" json:"authurl" valid:"url"`
	Token   string `cfg:"token" json:"token" valid:"required"`
}

// GitLab is the GitLab container registry provider.
type GitLab struct {
	V2
	config GitLabConfiguration
}

// NewGitLab creates a GitLab provider.
func NewGitLab() *GitLab {
	g := &GitLab{}
	g.V2.init(g)
	return g
}

// ConfigurationSchema returns the GitLab configuration schema, defaulting to
// gitlab.com.
func (g *GitLab) ConfigurationSchema() interface{} {
	g.config = GitLabConfiguration{
		URL:     "https://registry.gitlab.com",
		AuthURL: "https://gitlab.com",
	}
	return &g.config
}

// MaskConfiguration hides the token.
func (g *GitLab) MaskConfiguration(cfg component.Configuration) component.Configuration {
	return component.MaskFields(cfg, "token")
}

// Anonymous is always false: a token is required.
func (g *GitLab) Anonymous() bool {
	return false
}

// Match owns images on the configured registry host.
func (g *GitLab) Match(image model.Image) bool {
	return registryHost(image.Registry.URL) == registryHost(g.config.URL)
}

// NormalizeImage points the image to the configured registry.
func (g *GitLab) NormalizeImage(image model.Image) model.Image {
	return g.normalize(image, v2Endpoint(g.config.URL))
}

// Authenticate exchanges the token for a pull token at the GitLab JWT endpoint.
func (g *GitLab) Authenticate(ctx context.Context, image model.Image, req *http.Request) error {
	credentials := base64.StdEncoding.EncodeToString([]byte(":" + g.config.Token))
	tokenURL := fmt.Sprintf("%s/jwt/auth?service=container_registry&scope=repository:%s:pull",
		strings.TrimSuffix(g.config.AuthURL, "/"), image.Name)

	token, err := g.exchangeToken(ctx, tokenURL, credentials)
	if err != nil {
		return err
	}
	setBearer(req, token)
	return nil
}
