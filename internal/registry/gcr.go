package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/chis/fleetwatch/internal/component"
	"github.com/chis/fleetwatch/internal/model"
)

const gcrTokenURL = "https://gcr.io/v2/token"

var gcrDomain = domainPattern("gcr.io")

// GCRConfiguration configures Google Container Registry access with a
// service account key.
type GCRConfiguration struct {
	ClientEmail string `cfg:"clientemail" json:"clientemail" valid:"email"`
	PrivateKey  string `cfg:"privatekey" json:"privatekey"`
}

// GCR is the Google Container Registry provider.
type GCR struct {
	V2
	config GCRConfiguration

	tokenURL string
}

// NewGCR creates a GCR provider.
func NewGCR() *GCR {
	g := &GCR{tokenURL: gcrTokenURL}
	g.V2.init(g)
	return g
}

// ConfigurationSchema returns the GCR configuration schema.
func (g *GCR) ConfigurationSchema() interface{} {
	g.config = GCRConfiguration{}
	return &g.config
}

// Init checks that the service account key is complete.
func (g *GCR) Init(ctx context.Context) error {
	if g.config.ClientEmail != "" && g.config.PrivateKey == "" {
		return &component.ValidationError{Field: "privatekey", Reason: "required with clientemail"}
	}
	return nil
}

// MaskConfiguration hides the private key.
func (g *GCR) MaskConfiguration(cfg component.Configuration) component.Configuration {
	return component.MaskFields(cfg, "privatekey")
}

// Anonymous reports whether no service account is configured.
func (g *GCR) Anonymous() bool {
	return g.config.ClientEmail == ""
}

// Match owns gcr.io and its regional hosts.
func (g *GCR) Match(image model.Image) bool {
	return gcrDomain.MatchString(registryHost(image.Registry.URL))
}

// NormalizeImage points the image to the GCR /v2 endpoint.
func (g *GCR) NormalizeImage(image model.Image) model.Image {
	return g.normalize(image, v2Endpoint(image.Registry.URL))
}

// Authenticate exchanges the service account key for a pull token.
func (g *GCR) Authenticate(ctx context.Context, image model.Image, req *http.Request) error {
	if g.Anonymous() {
		return nil
	}

	key, err := json.Marshal(map[string]string{
		"client_email": g.config.ClientEmail,
		"private_key":  g.config.PrivateKey,
	})
	if err != nil {
		return fmt.Errorf("failed to encode service account key: %w", err)
	}
	credentials := base64.StdEncoding.EncodeToString([]byte("_json_key:" + string(key)))

	tokenURL := fmt.Sprintf("%s?scope=repository:%s:pull", g.tokenURL, image.Name)
	token, err := g.exchangeToken(ctx, tokenURL, credentials)
	if err != nil {
		return err
	}
	setBearer(req, token)
	return nil
}
