package registry

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ecr"

	"github.com/chis/fleetwatch/internal/component"
	"github.com/chis/fleetwatch/internal/model"
)

const (
	ecrPublicHost     = "public.ecr.aws"
	ecrPublicTokenURL = "https://public.ecr.aws/token/"
)

var ecrPrivateHost = regexp.MustCompile(`^.*\.dkr\.ecr\..*\.amazonaws\.com$`)

// ecrTokenAPI is the part of the ECR client used for authentication.
type ecrTokenAPI interface {
	GetAuthorizationTokenWithContext(ctx aws.Context, input *ecr.GetAuthorizationTokenInput, opts ...request.Option) (*ecr.GetAuthorizationTokenOutput, error)
}

// ECRConfiguration configures Amazon ECR access. Without credentials only
// public repositories are reachable.
type ECRConfiguration struct {
	AccessKeyID     string `cfg:"accesskeyid" json:"accesskeyid"`
	SecretAccessKey string `cfg:"secretaccesskey" json:"secretaccesskey"`
	Region          string `cfg:"region" json:"region"`
}

// ECR is the Amazon Elastic Container Registry provider, private and public.
type ECR struct {
	V2
	config ECRConfiguration

	api            ecrTokenAPI
	publicTokenURL string
}

// NewECR creates an ECR provider.
func NewECR() *ECR {
	e := &ECR{publicTokenURL: ecrPublicTokenURL}
	e.V2.init(e)
	return e
}

// ConfigurationSchema returns the ECR configuration schema.
func (e *ECR) ConfigurationSchema() interface{} {
	e.config = ECRConfiguration{}
	return &e.config
}

// Init builds the AWS client when credentials are configured.
func (e *ECR) Init(ctx context.Context) error {
	if e.Anonymous() {
		return nil
	}
	if e.config.SecretAccessKey == "" {
		return &component.ValidationError{Field: "secretaccesskey", Reason: "required with accesskeyid"}
	}
	if e.config.Region == "" {
		return &component.ValidationError{Field: "region", Reason: "required with accesskeyid"}
	}
	if e.api != nil {
		return nil
	}

	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String(e.config.Region),
		Credentials: credentials.NewStaticCredentials(e.config.AccessKeyID, e.config.SecretAccessKey, ""),
	})
	if err != nil {
		return fmt.Errorf("failed to create AWS session: %w", err)
	}
	e.api = ecr.New(sess)
	return nil
}

// MaskConfiguration hides the AWS keys.
func (e *ECR) MaskConfiguration(cfg component.Configuration) component.Configuration {
	return component.MaskFields(cfg, "accesskeyid", "secretaccesskey")
}

// Anonymous reports whether no AWS credentials are configured.
func (e *ECR) Anonymous() bool {
	return e.config.AccessKeyID == ""
}

// Match owns private ECR hosts and the public gallery.
func (e *ECR) Match(image model.Image) bool {
	host := registryHost(image.Registry.URL)
	return ecrPrivateHost.MatchString(host) || host == ecrPublicHost
}

// NormalizeImage points the image to the ECR /v2 endpoint.
func (e *ECR) NormalizeImage(image model.Image) model.Image {
	return e.normalize(image, v2Endpoint(image.Registry.URL))
}

// Authenticate uses an anonymous token for the public gallery and an
// ECR authorization token for private registries.
func (e *ECR) Authenticate(ctx context.Context, image model.Image, req *http.Request) error {
	if registryHost(image.Registry.URL) == ecrPublicHost {
		token, err := e.exchangeToken(ctx, e.publicTokenURL, "")
		if err != nil {
			return err
		}
		setBearer(req, token)
		return nil
	}

	if e.Anonymous() {
		return nil
	}

	token, err := e.authorizationToken(ctx)
	if err != nil {
		return err
	}
	setBasic(req, token)
	return nil
}

func (e *ECR) authorizationToken(ctx context.Context) (string, error) {
	key := e.ID() + "|authorization"
	if token, ok := e.Tokens.Get(key); ok {
		return token, nil
	}

	out, err := e.api.GetAuthorizationTokenWithContext(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get ECR authorization token: %w", err)
	}
	if len(out.AuthorizationData) == 0 || out.AuthorizationData[0].AuthorizationToken == nil {
		return "", fmt.Errorf("ECR returned no authorization data")
	}

	data := out.AuthorizationData[0]
	ttl := time.Duration(0)
	if data.ExpiresAt != nil {
		ttl = time.Until(*data.ExpiresAt)
	}
	token := aws.StringValue(data.AuthorizationToken)
	e.Tokens.SetWithTTL(key, token, ttl)
	return token, nil
}
