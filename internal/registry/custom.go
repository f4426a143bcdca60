package registry

import (
	"context"
	"net/http"

	"github.com/chis/fleetwatch/internal/component"
	"github.com/chis/fleetwatch/internal/model"
)

// CustomConfiguration configures a self-hosted registry. Gitea and Forgejo
// registries use the same configuration.
type CustomConfiguration struct {
	URL      string `cfg:"url" json:"url" valid:"url,required"`
	Login    string `cfg:"login" json:"login"`
	Password string `cfg:"password" json:"password"`
	Auth     string `cfg:"auth" json:"auth" valid:"base64"`
}

// Custom is a self-hosted registry matched by exact host and authenticated
// with static Basic credentials.
type Custom struct {
	V2
	config CustomConfiguration
}

// NewCustom creates a custom registry provider.
func NewCustom() *Custom {
	c := &Custom{}
	c.V2.init(c)
	return c
}

// NewGitea creates a Gitea registry provider.
func NewGitea() *Custom {
	return NewCustom()
}

// NewForgejo creates a Forgejo registry provider.
func NewForgejo() *Custom {
	return NewCustom()
}

// ConfigurationSchema returns the custom registry configuration schema.
func (c *Custom) ConfigurationSchema() interface{} {
	c.config = CustomConfiguration{}
	return &c.config
}

// MaskConfiguration hides the password and auth blob.
func (c *Custom) MaskConfiguration(cfg component.Configuration) component.Configuration {
	return component.MaskFields(cfg, "password", "auth")
}

// Anonymous reports whether no credentials are configured.
func (c *Custom) Anonymous() bool {
	return basicCredentials(c.config.Login, c.config.Password, c.config.Auth) == ""
}

// Match owns images on the configured host.
func (c *Custom) Match(image model.Image) bool {
	return registryHost(image.Registry.URL) == registryHost(c.config.URL)
}

// NormalizeImage points the image to the configured registry.
func (c *Custom) NormalizeImage(image model.Image) model.Image {
	return c.normalize(image, v2Endpoint(c.config.URL))
}

// Authenticate sets static Basic credentials when configured.
func (c *Custom) Authenticate(ctx context.Context, image model.Image, req *http.Request) error {
	setBasic(req, basicCredentials(c.config.Login, c.config.Password, c.config.Auth))
	return nil
}

// ACRConfiguration configures Azure Container Registry access with a service
// principal.
type ACRConfiguration struct {
	ClientID     string `cfg:"clientid" json:"clientid" valid:"required"`
	ClientSecret string `cfg:"clientsecret" json:"clientsecret" valid:"required"`
}

var acrDomain = domainPattern("azurecr.io")

// ACR is the Azure Container Registry provider.
type ACR struct {
	V2
	config ACRConfiguration
}

// NewACR creates an ACR provider.
func NewACR() *ACR {
	a := &ACR{}
	a.V2.init(a)
	return a
}

// ConfigurationSchema returns the ACR configuration schema.
func (a *ACR) ConfigurationSchema() interface{} {
	a.config = ACRConfiguration{}
	return &a.config
}

// MaskConfiguration hides the client secret.
func (a *ACR) MaskConfiguration(cfg component.Configuration) component.Configuration {
	return component.MaskFields(cfg, "clientsecret")
}

// Anonymous is always false: a service principal is required.
func (a *ACR) Anonymous() bool {
	return false
}

// Match owns azurecr.io hosts.
func (a *ACR) Match(image model.Image) bool {
	return acrDomain.MatchString(registryHost(image.Registry.URL))
}

// NormalizeImage points the image to the ACR /v2 endpoint.
func (a *ACR) NormalizeImage(image model.Image) model.Image {
	return a.normalize(image, v2Endpoint(image.Registry.URL))
}

// Authenticate sets the service principal as Basic credentials.
func (a *ACR) Authenticate(ctx context.Context, image model.Image, req *http.Request) error {
	setBasic(req, basicCredentials(a.config.ClientID, a.config.ClientSecret, ""))
	return nil
}
