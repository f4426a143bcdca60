package registry

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"regexp"

	"github.com/chis/fleetwatch/internal/component"
	"github.com/chis/fleetwatch/internal/model"
)

const quayAuthURL = "https://quay.io/v2/auth"

var (
	quayDomain   = domainPattern("quay.io")
	quayNextPage = regexp.MustCompile(`next_page=([^&>]+)`)
)

// QuayConfiguration configures Quay access with a robot account.
type QuayConfiguration struct {
	Namespace string `cfg:"namespace" json:"namespace"`
	Account   string `cfg:"account" json:"account"`
	Token     string `cfg:"token" json:"token"`
}

// Quay is the quay.io provider.
type Quay struct {
	V2
	config QuayConfiguration

	authURL string
}

// NewQuay creates a quay.io provider.
func NewQuay() *Quay {
	q := &Quay{authURL: quayAuthURL}
	q.V2.init(q)
	q.nextPage = quayPager
	return q
}

// quayPager continues with the next_page token carried by the Link header.
func quayPager(_ []string, link string) (url.Values, bool) {
	m := quayNextPage.FindStringSubmatch(link)
	if m == nil {
		return nil, false
	}
	token, err := url.QueryUnescape(m[1])
	if err != nil {
		token = m[1]
	}
	return url.Values{"next_page": {token}}, true
}

// ConfigurationSchema returns the Quay configuration schema.
func (q *Quay) ConfigurationSchema() interface{} {
	q.config = QuayConfiguration{}
	return &q.config
}

// Init checks the robot account is complete.
func (q *Quay) Init(ctx context.Context) error {
	if q.config.Token == "" {
		return nil
	}
	if q.config.Namespace == "" {
		return &component.ValidationError{Field: "namespace", Reason: "required with token"}
	}
	if q.config.Account == "" {
		return &component.ValidationError{Field: "account", Reason: "required with token"}
	}
	return nil
}

// MaskConfiguration hides the token.
func (q *Quay) MaskConfiguration(cfg component.Configuration) component.Configuration {
	return component.MaskFields(cfg, "token")
}

// Anonymous reports whether no robot account is configured.
func (q *Quay) Anonymous() bool {
	return q.config.Token == ""
}

// Match owns quay.io.
func (q *Quay) Match(image model.Image) bool {
	return quayDomain.MatchString(registryHost(image.Registry.URL))
}

// NormalizeImage points the image to the quay /v2 endpoint.
func (q *Quay) NormalizeImage(image model.Image) model.Image {
	return q.normalize(image, v2Endpoint(image.Registry.URL))
}

// Authenticate exchanges the robot credentials for a pull token.
func (q *Quay) Authenticate(ctx context.Context, image model.Image, req *http.Request) error {
	if q.Anonymous() {
		return nil
	}

	credentials := base64.StdEncoding.EncodeToString([]byte(q.config.Namespace + "+" + q.config.Account + ":" + q.config.Token))
	tokenURL := fmt.Sprintf("%s?service=quay.io&scope=repository:%s:pull", q.authURL, image.Name)
	token, err := q.exchangeToken(ctx, tokenURL, credentials)
	if err != nil {
		return err
	}
	setBearer(req, token)
	return nil
}
