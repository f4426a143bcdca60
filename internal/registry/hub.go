package registry

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/chis/fleetwatch/internal/component"
	"github.com/chis/fleetwatch/internal/model"
)

const (
	hubRegistryURL = "https://registry-1.docker.io/v2"
	hubAuthURL     = "https://auth.docker.io"
	hubNamespace   = "library"
)

var hubDomain = domainPattern("docker.io")

// HubConfiguration configures Docker Hub access. All fields are optional.
type HubConfiguration struct {
	Login    string `cfg:"login" json:"login"`
	Password string `cfg:"password" json:"password"`
	Token    string `cfg:"token" json:"token"`
	Auth     string `cfg:"auth" json:"auth" valid:"base64"`
}

// Hub is the Docker Hub provider.
type Hub struct {
	V2
	config HubConfiguration

	registryURL string
	authURL     string
}

// NewHub creates a Docker Hub provider.
func NewHub() *Hub {
	h := &Hub{registryURL: hubRegistryURL, authURL: hubAuthURL}
	h.V2.init(h)
	return h
}

// ConfigurationSchema returns the Docker Hub configuration schema.
func (h *Hub) ConfigurationSchema() interface{} {
	h.config = HubConfiguration{}
	return &h.config
}

// MaskConfiguration hides the password, token and auth blob.
func (h *Hub) MaskConfiguration(cfg component.Configuration) component.Configuration {
	return component.MaskFields(cfg, "password", "token", "auth")
}

// Anonymous reports whether no credentials are configured.
func (h *Hub) Anonymous() bool {
	return h.credentials() == ""
}

func (h *Hub) credentials() string {
	secret := h.config.Password
	if secret == "" {
		secret = h.config.Token
	}
	return basicCredentials(h.config.Login, secret, h.config.Auth)
}

// Match owns images without registry and images on docker.io.
func (h *Hub) Match(image model.Image) bool {
	if image.Registry.URL == "" {
		return true
	}
	return hubDomain.MatchString(registryHost(image.Registry.URL))
}

// NormalizeImage points the image to the Docker Hub registry and prefixes
// official images with the library namespace.
func (h *Hub) NormalizeImage(image model.Image) model.Image {
	out := h.normalize(image, h.registryURL)
	if out.Name != "" && !strings.Contains(out.Name, "/") {
		out.Name = hubNamespace + "/" + out.Name
	}
	return out
}

// Authenticate exchanges the configured credentials, or nothing, for a pull
// token scoped to the image repository.
func (h *Hub) Authenticate(ctx context.Context, image model.Image, req *http.Request) error {
	tokenURL := fmt.Sprintf("%s/token?service=registry.docker.io&scope=repository:%s:pull", h.authURL, image.Name)
	token, err := h.exchangeToken(ctx, tokenURL, h.credentials())
	if err != nil {
		return err
	}
	setBearer(req, token)
	return nil
}
