package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ecr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chis/fleetwatch/internal/component"
	"github.com/chis/fleetwatch/internal/model"
)

func imageOn(registryURL, name string) model.Image {
	return model.Image{Name: name, Registry: model.ImageRegistry{URL: registryURL}}
}

func register(t *testing.T, p Provider, providerType string, cfg component.Configuration) {
	t.Helper()
	id := component.ID(component.KindRegistry, providerType, providerType)
	require.NoError(t, p.Register(context.Background(), id, component.KindRegistry, providerType, providerType, cfg))
}

func TestNew(t *testing.T) {
	for _, providerType := range Types {
		p, ok := New(providerType)
		assert.True(t, ok, providerType)
		assert.NotNil(t, p, providerType)
	}

	_, ok := New("harbor")
	assert.False(t, ok)
}

func TestECRMatch(t *testing.T) {
	e := NewECR()
	assert.True(t, e.Match(imageOn("123456789012.dkr.ecr.eu-west-1.amazonaws.com", "app")))
	assert.True(t, e.Match(imageOn("public.ecr.aws", "nginx/nginx")))
	assert.False(t, e.Match(imageOn("quay.io", "app")))
	assert.False(t, e.Match(imageOn("", "app")))
}

func TestHubMatchAndNormalize(t *testing.T) {
	h := NewHub()
	register(t, h, TypeHub, nil)

	assert.True(t, h.Match(imageOn("", "nginx")))
	assert.True(t, h.Match(imageOn("docker.io", "nginx")))
	assert.True(t, h.Match(imageOn("registry-1.docker.io", "nginx")))
	assert.False(t, h.Match(imageOn("ghcr.io", "nginx")))
	assert.False(t, h.Match(imageOn("notdocker.io.example.com", "nginx")))

	official := h.NormalizeImage(imageOn("docker.io", "nginx"))
	assert.Equal(t, "library/nginx", official.Name)
	assert.Equal(t, "https://registry-1.docker.io/v2", official.Registry.URL)
	assert.Equal(t, "registry.hub.hub", official.Registry.Name)

	user := h.NormalizeImage(imageOn("docker.io", "linuxserver/plex"))
	assert.Equal(t, "linuxserver/plex", user.Name)
	assert.True(t, h.Anonymous())
}

func TestDomainMatching(t *testing.T) {
	tests := []struct {
		provider Provider
		match    []string
		noMatch  []string
	}{
		{NewGCR(), []string{"gcr.io", "eu.gcr.io"}, []string{"ghcr.io", "quay.io"}},
		{NewGHCR(), []string{"ghcr.io"}, []string{"lscr.io", "gcr.io"}},
		{NewLSCR(), []string{"lscr.io"}, []string{"ghcr.io"}},
		{NewQuay(), []string{"quay.io"}, []string{"docker.io"}},
		{NewACR(), []string{"myregistry.azurecr.io"}, []string{"azurecr.io.example.com"}},
	}

	for _, tt := range tests {
		for _, host := range tt.match {
			assert.True(t, tt.provider.Match(imageOn(host, "app")), host)
		}
		for _, host := range tt.noMatch {
			assert.False(t, tt.provider.Match(imageOn(host, "app")), host)
		}
	}
}

func TestNormalizeAddsV2Endpoint(t *testing.T) {
	g := NewGHCR()
	register(t, g, TypeGHCR, nil)

	out := g.NormalizeImage(imageOn("ghcr.io", "home-assistant/home-assistant"))
	assert.Equal(t, "https://ghcr.io/v2", out.Registry.URL)
	assert.Equal(t, "registry.ghcr.ghcr", out.Registry.Name)
	assert.Equal(t, "home-assistant/home-assistant", out.Name)
}

func TestCustomMatchesConfiguredHost(t *testing.T) {
	c := NewCustom()
	register(t, c, TypeCustom, component.Configuration{"url": "https://registry.local:5000"})

	assert.True(t, c.Match(imageOn("registry.local:5000", "app")))
	assert.False(t, c.Match(imageOn("registry.local", "app")))
	assert.False(t, c.Match(imageOn("", "app")))

	out := c.NormalizeImage(imageOn("registry.local:5000", "app"))
	assert.Equal(t, "https://registry.local:5000/v2", out.Registry.URL)
}

func TestGiteaMatchesConfiguredHost(t *testing.T) {
	g := NewGitea()
	register(t, g, TypeGitea, component.Configuration{"url": "https://git.example.com", "login": "me", "password": "pw"})

	assert.True(t, g.Match(imageOn("git.example.com", "me/app")))
	assert.False(t, g.Anonymous())
}

func TestRequiredConfiguration(t *testing.T) {
	tests := []struct {
		name         string
		provider     Provider
		providerType string
		cfg          component.Configuration
		field        string
	}{
		{"custom without url", NewCustom(), TypeCustom, component.Configuration{}, "url"},
		{"forgejo without url", NewForgejo(), TypeForgejo, component.Configuration{"login": "me"}, "url"},
		{"gitlab without token", NewGitLab(), TypeGitLab, component.Configuration{}, "token"},
		{"acr without secret", NewACR(), TypeACR, component.Configuration{"clientid": "id"}, "clientsecret"},
		{"ecr without secret", NewECR(), TypeECR, component.Configuration{"accesskeyid": "AKIA"}, "secretaccesskey"},
		{"quay without account", NewQuay(), TypeQuay, component.Configuration{"namespace": "org", "token": "x"}, "account"},
		{"gcr with bad email", NewGCR(), TypeGCR, component.Configuration{"clientemail": "nope"}, "clientemail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.provider.Register(context.Background(), "registry.x.x", component.KindRegistry, tt.providerType, "x", tt.cfg)
			var verr *component.ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestMaskedConfiguration(t *testing.T) {
	h := NewHub()
	register(t, h, TypeHub, component.Configuration{"login": "me", "password": "supersecret"})

	masked := h.MaskedConfiguration()
	assert.Equal(t, "me", masked["login"])
	assert.Equal(t, "s*********t", masked["password"])
}

func TestHubTokenExchange(t *testing.T) {
	var tokenRequests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			atomic.AddInt32(&tokenRequests, 1)
			assert.Equal(t, "registry.docker.io", r.URL.Query().Get("service"))
			assert.Equal(t, "repository:library/nginx:pull", r.URL.Query().Get("scope"))
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "me", user)
			assert.Equal(t, "pat", pass)
			fmt.Fprint(w, `{"token":"hub-token","expires_in":300}`)
		case "/v2/library/nginx/tags/list":
			if r.Header.Get("Authorization") != "Bearer hub-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `{"tags":["1.25","1.24"]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	h := NewHub()
	h.authURL = server.URL
	h.registryURL = server.URL + "/v2"
	register(t, h, TypeHub, component.Configuration{"login": "me", "token": "pat"})

	image := h.NormalizeImage(imageOn("docker.io", "nginx"))
	for i := 0; i < 2; i++ {
		tags, err := h.GetTags(context.Background(), image)
		require.NoError(t, err)
		assert.Equal(t, []string{"1.25", "1.24"}, tags)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenRequests), "token must be cached")
}

func TestQuayNextPagePagination(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		assert.Empty(t, r.URL.Query().Get("last"))
		switch r.URL.Query().Get("next_page") {
		case "":
			w.Header().Set("Link", `</v2/org/app/tags/list?n=1000&next_page=gAAAAAB%3D>; rel="next"`)
			fmt.Fprint(w, `{"tags":["a","c"]}`)
		case "gAAAAAB=":
			fmt.Fprint(w, `{"tags":["b","d"]}`)
		default:
			t.Errorf("unexpected next_page %q", r.URL.Query().Get("next_page"))
		}
	}))
	defer server.Close()

	q := NewQuay()
	register(t, q, TypeQuay, nil)

	image := model.Image{Name: "org/app", Registry: model.ImageRegistry{URL: server.URL + "/v2"}}
	tags, err := q.GetTags(context.Background(), image)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c", "b", "a"}, tags)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestGHCRAuthentication(t *testing.T) {
	t.Run("token as base64 bearer", func(t *testing.T) {
		g := NewGHCR()
		register(t, g, TypeGHCR, component.Configuration{"token": "ghp_abc"})

		req := httptest.NewRequest(http.MethodGet, "https://ghcr.io/v2/org/app/tags/list", nil)
		require.NoError(t, g.Authenticate(context.Background(), imageOn("https://ghcr.io/v2", "org/app"), req))
		assert.Equal(t, "Bearer "+base64.StdEncoding.EncodeToString([]byte("ghp_abc")), req.Header.Get("Authorization"))
	})

	t.Run("anonymous token exchange", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/token", r.URL.Path)
			assert.Equal(t, "repository:org/app:pull", r.URL.Query().Get("scope"))
			fmt.Fprint(w, `{"token":"anon"}`)
		}))
		defer server.Close()

		g := NewGHCR()
		register(t, g, TypeGHCR, nil)

		req := httptest.NewRequest(http.MethodGet, server.URL+"/v2/org/app/tags/list", nil)
		require.NoError(t, g.Authenticate(context.Background(), imageOn(server.URL+"/v2", "org/app"), req))
		assert.Equal(t, "Bearer anon", req.Header.Get("Authorization"))
	})
}

func TestGitLabTokenExchange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jwt/auth", r.URL.Path)
		assert.Equal(t, "container_registry", r.URL.Query().Get("service"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "", user)
		assert.Equal(t, "glpat", pass)
		fmt.Fprint(w, `{"token":"jwt"}`)
	}))
	defer server.Close()

	g := NewGitLab()
	register(t, g, TypeGitLab, component.Configuration{"token": "glpat", "authurl": server.URL})

	req := httptest.NewRequest(http.MethodGet, "https://registry.gitlab.com/v2/group/app/tags/list", nil)
	require.NoError(t, g.Authenticate(context.Background(), imageOn("https://registry.gitlab.com/v2", "group/app"), req))
	assert.Equal(t, "Bearer jwt", req.Header.Get("Authorization"))
	assert.True(t, g.Match(imageOn("registry.gitlab.com", "group/app")))
}

type fakeECRTokens struct {
	calls int
}

func (f *fakeECRTokens) GetAuthorizationTokenWithContext(ctx aws.Context, input *ecr.GetAuthorizationTokenInput, opts ...request.Option) (*ecr.GetAuthorizationTokenOutput, error) {
	f.calls++
	return &ecr.GetAuthorizationTokenOutput{
		AuthorizationData: []*ecr.AuthorizationData{{
			AuthorizationToken: aws.String("QVdTOnNlY3JldA=="),
			ExpiresAt:          aws.Time(time.Now().Add(time.Hour)),
		}},
	}, nil
}

func TestECRPrivateAuthentication(t *testing.T) {
	fake := &fakeECRTokens{}
	e := NewECR()
	e.api = fake
	register(t, e, TypeECR, component.Configuration{
		"accesskeyid":     "AKIAEXAMPLE",
		"secretaccesskey": "secret",
		"region":          "eu-west-1",
	})

	image := e.NormalizeImage(imageOn("123456789012.dkr.ecr.eu-west-1.amazonaws.com", "app"))
	assert.Equal(t, "https://123456789012.dkr.ecr.eu-west-1.amazonaws.com/v2", image.Registry.URL)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, image.Registry.URL+"/app/tags/list", nil)
		require.NoError(t, e.Authenticate(context.Background(), image, req))
		assert.Equal(t, "Basic QVdTOnNlY3JldA==", req.Header.Get("Authorization"))
	}
	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, "A*********E", e.MaskedConfiguration()["accesskeyid"])
}

func TestECRPublicAuthentication(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"token":"public"}`)
	}))
	defer server.Close()

	e := NewECR()
	e.publicTokenURL = server.URL + "/token/"
	register(t, e, TypeECR, nil)
	assert.True(t, e.Anonymous())

	req := httptest.NewRequest(http.MethodGet, "https://public.ecr.aws/v2/nginx/nginx/tags/list", nil)
	require.NoError(t, e.Authenticate(context.Background(), imageOn("https://public.ecr.aws/v2", "nginx/nginx"), req))
	assert.Equal(t, "Bearer public", req.Header.Get("Authorization"))
}

func TestTokenCacheExpiry(t *testing.T) {
	cache := NewTokenCache(time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.SetWithTTL("a", "token", 0)
	cache.SetWithTTL("b", "short", time.Second)

	now = now.Add(2 * time.Second)
	got, ok := cache.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "token", got)
	_, ok = cache.Get("b")
	assert.False(t, ok)
	assert.Len(t, cache.entries, 1)
}

func TestTokenCacheEvictsExpiredOnSet(t *testing.T) {
	cache := NewTokenCache(time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }

	for _, repo := range []string{"library/nginx", "library/redis", "library/postgres"} {
		cache.SetWithTTL(repo, "token", time.Second)
	}
	require.Len(t, cache.entries, 3)

	now = now.Add(2 * time.Second)
	cache.SetWithTTL("library/alpine", "token", 0)
	assert.Len(t, cache.entries, 1)
	_, ok := cache.Get("library/alpine")
	assert.True(t, ok)
}
