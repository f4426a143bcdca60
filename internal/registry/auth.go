package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// basicCredentials returns the base64 user:password pair, the raw auth blob
// when set, or an empty string when no credentials are configured.
func basicCredentials(login, password, auth string) string {
	if auth != "" {
		return auth
	}
	if login != "" && password != "" {
		return base64.StdEncoding.EncodeToString([]byte(login + ":" + password))
	}
	return ""
}

func setBasic(req *http.Request, credentials string) {
	if credentials != "" {
		req.Header.Set("Authorization", "Basic "+credentials)
	}
}

func setBearer(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// exchangeToken obtains a bearer token from a registry token endpoint, sending
// credentials as Basic auth when set. Tokens are cached per provider and
// endpoint until they expire.
func (v *V2) exchangeToken(ctx context.Context, tokenURL, credentials string) (string, error) {
	key := v.ID() + "|" + tokenURL
	if token, ok := v.Tokens.Get(key); ok {
		return token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	setBasic(req, credentials)

	resp, err := v.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get auth token: %w", err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp) {
		return "", handleHTTPError(resp, "auth token request")
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	token := body.Token
	if token == "" {
		token = body.AccessToken
	}
	if token == "" {
		return "", fmt.Errorf("auth token response from %s holds no token", tokenURL)
	}

	v.Tokens.SetWithTTL(key, token, time.Duration(body.ExpiresIn)*time.Second)
	return token, nil
}
