package session_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmcloud/auth-gateway/internal/claims"
	"github.com/osmcloud/auth-gateway/internal/config"
	"github.com/osmcloud/auth-gateway/internal/serviceerr"
	"github.com/osmcloud/auth-gateway/internal/session"
)

// fakeProvider is an httptest-backed OAuth2 provider with a token and a
// user-info endpoint.
type fakeProvider struct {
	server *httptest.Server

	tokenStatus    int
	userInfoStatus int
	userInfoBody   string

	tokenCalls    atomic.Int64
	userInfoCalls atomic.Int64

	lastAuthorization string
	lastTokenForm     url.Values
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	p := &fakeProvider{
		tokenStatus:    http.StatusOK,
		userInfoStatus: http.StatusOK,
		userInfoBody:   `{"user":{"id":123,"display_name":"Alice","img":{"href":"http://x/a.png"}}}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		p.tokenCalls.Add(1)

		require.NoError(t, r.ParseForm())
		p.lastTokenForm = r.Form

		if p.tokenStatus != http.StatusOK {
			w.WriteHeader(p.tokenStatus)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "provider-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("GET /userinfo", func(w http.ResponseWriter, r *http.Request) {
		p.userInfoCalls.Add(1)
		p.lastAuthorization = r.Header.Get("Authorization")

		if p.userInfoStatus != http.StatusOK {
			w.WriteHeader(p.userInfoStatus)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(p.userInfoBody))
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)

	return p
}

func newTestConfig(providerURL string) *config.Config {
	return &config.Config{
		OAuth: config.OAuth{
			ClientID:              commoncfg.SourceRef{Source: "embedded", Value: "my-client-id"},
			ClientSecret:          commoncfg.SourceRef{Source: "embedded", Value: "my-client-secret"},
			AuthorizationEndpoint: providerURL + "/authorize",
			TokenEndpoint:         providerURL + "/token",
			UserInfoEndpoint:      providerURL + "/userinfo",
			Scopes:                []string{"read_prefs"},
			SchemeName:            "OpenStreetMap",
		},
		Gateway: config.Gateway{
			PublicURL:          "https://gateway.example.com",
			CallbackPath:       "/callback",
			AllowedReturnURLs:  []string{"/map", "https://ui.example.com/after-login"},
			SessionDuration:    time.Hour,
			LoginTimeout:       10 * time.Minute,
			BackchannelTimeout: 5 * time.Second,
			SessionSecret:      commoncfg.SourceRef{Source: "embedded", Value: testSecret},
			SessionCookie: config.CookieTemplate{
				Name: "gateway_session", Path: "/", Secure: true, HTTPOnly: true, SameSite: config.CookieSameSiteLax,
			},
			StateCookie: config.CookieTemplate{
				Name: "gateway_auth_state", Path: "/", Secure: true, HTTPOnly: true, SameSite: config.CookieSameSiteLax,
			},
		},
	}
}

func newTestManager(t *testing.T, provider *fakeProvider) *session.Manager {
	t.Helper()

	mapper, err := claims.NewMapper(claims.DefaultRules())
	require.NoError(t, err)

	manager, err := session.NewManager(newTestConfig(provider.server.URL), mapper, provider.server.Client())
	require.NoError(t, err)

	return manager
}

func TestManager_Begin(t *testing.T) {
	provider := newFakeProvider(t)
	manager := newTestManager(t, provider)

	authURL, stateCookie, err := manager.Begin(t.Context(), "/map")
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "/authorize", u.Path)

	q := u.Query()
	assert.Equal(t, "my-client-id", q.Get("client_id"))
	assert.Equal(t, "https://gateway.example.com/callback", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "read_prefs", q.Get("scope"))
	assert.NotEmpty(t, q.Get("state"))

	require.NotNil(t, stateCookie)
	assert.Equal(t, "gateway_auth_state", stateCookie.Name)
	assert.True(t, stateCookie.HttpOnly)
	assert.Positive(t, stateCookie.MaxAge)
}

func TestManager_Begin_UnlistedReturnURLDegrades(t *testing.T) {
	provider := newFakeProvider(t)
	manager := newTestManager(t, provider)

	state, stateCookie := beginForState(t, manager, "https://evil.example.com/")

	result, err := manager.Finalise(t.Context(), "auth-code", state, stateCookie.Value)
	require.NoError(t, err)
	assert.Equal(t, "/", result.RedirectURL)
}

// beginForState wraps Begin and extracts the state parameter from the
// generated auth URL; the same token sits inside the signed cookie.
func beginForState(t *testing.T, manager *session.Manager, returnURL string) (string, *http.Cookie) {
	t.Helper()

	authURL, stateCookie, err := manager.Begin(t.Context(), returnURL)
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)

	return u.Query().Get("state"), stateCookie
}

func TestManager_Finalise(t *testing.T) {
	provider := newFakeProvider(t)
	manager := newTestManager(t, provider)

	state, stateCookie := beginForState(t, manager, "/map")

	result, err := manager.Finalise(t.Context(), "auth-code", state, stateCookie.Value)
	require.NoError(t, err)

	assert.Equal(t, "/map", result.RedirectURL)
	assert.Equal(t, claims.Identity{
		SubjectID:   "123",
		DisplayName: "Alice",
		AvatarURL:   "http://x/a.png",
	}, result.Identity)

	// The code exchange posted the expected grant.
	assert.Equal(t, "authorization_code", provider.lastTokenForm.Get("grant_type"))
	assert.Equal(t, "auth-code", provider.lastTokenForm.Get("code"))
	assert.Equal(t, "my-client-id", provider.lastTokenForm.Get("client_id"))
	assert.Equal(t, "my-client-secret", provider.lastTokenForm.Get("client_secret"))
	assert.Equal(t, "https://gateway.example.com/callback", provider.lastTokenForm.Get("redirect_uri"))

	// The user-info fetch carried the bearer token.
	assert.Equal(t, "Bearer provider-access-token", provider.lastAuthorization)

	// The minted session verifies and round-trips the identity.
	req := httptest.NewRequest(http.MethodGet, "/userinfo", nil)
	req.AddCookie(manager.MakeSessionCookie(result.SessionToken))

	identity, err := manager.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, result.Identity, identity)
}

func TestManager_Finalise_StateMismatchBeforeExchange(t *testing.T) {
	provider := newFakeProvider(t)
	manager := newTestManager(t, provider)

	_, stateCookie := beginForState(t, manager, "/map")

	_, err := manager.Finalise(t.Context(), "auth-code", "forged-state", stateCookie.Value)
	assert.ErrorIs(t, err, serviceerr.ErrInvalidState)

	// Rejected before any backchannel call was made.
	assert.Zero(t, provider.tokenCalls.Load())
	assert.Zero(t, provider.userInfoCalls.Load())
}

func TestManager_Finalise_MissingStateCookie(t *testing.T) {
	provider := newFakeProvider(t)
	manager := newTestManager(t, provider)

	_, err := manager.Finalise(t.Context(), "auth-code", "some-state", "")
	assert.ErrorIs(t, err, serviceerr.ErrInvalidState)
	assert.Zero(t, provider.tokenCalls.Load())
}

func TestManager_Finalise_Replay(t *testing.T) {
	provider := newFakeProvider(t)
	manager := newTestManager(t, provider)

	state, stateCookie := beginForState(t, manager, "/map")

	_, err := manager.Finalise(t.Context(), "auth-code", state, stateCookie.Value)
	require.NoError(t, err)

	// Playing the same callback again must fail without a new exchange.
	exchanges := provider.tokenCalls.Load()

	_, err = manager.Finalise(t.Context(), "auth-code", state, stateCookie.Value)
	assert.ErrorIs(t, err, serviceerr.ErrInvalidState)
	assert.Equal(t, exchanges, provider.tokenCalls.Load())
}

func TestManager_Finalise_TokenExchangeFails(t *testing.T) {
	provider := newFakeProvider(t)
	provider.tokenStatus = http.StatusInternalServerError
	manager := newTestManager(t, provider)

	state, stateCookie := beginForState(t, manager, "/map")

	_, err := manager.Finalise(t.Context(), "auth-code", state, stateCookie.Value)

	var serviceErr *serviceerr.Error
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, serviceerr.CodeTokenExchange, serviceErr.Err)
	assert.Zero(t, provider.userInfoCalls.Load())
}

func TestManager_Finalise_UserInfoFails(t *testing.T) {
	provider := newFakeProvider(t)
	provider.userInfoStatus = http.StatusForbidden
	manager := newTestManager(t, provider)

	state, stateCookie := beginForState(t, manager, "/map")

	_, err := manager.Finalise(t.Context(), "auth-code", state, stateCookie.Value)

	var serviceErr *serviceerr.Error
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, serviceerr.CodeUserInfoFetch, serviceErr.Err)
}

func TestManager_Finalise_ClaimsMappingFails(t *testing.T) {
	provider := newFakeProvider(t)
	provider.userInfoBody = `{"user":{"display_name":"Alice"}}`
	manager := newTestManager(t, provider)

	state, stateCookie := beginForState(t, manager, "/map")

	_, err := manager.Finalise(t.Context(), "auth-code", state, stateCookie.Value)

	var serviceErr *serviceerr.Error
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, serviceerr.CodeClaimsMapping, serviceErr.Err)
}

func TestManager_Finalise_CancelledContext(t *testing.T) {
	provider := newFakeProvider(t)
	manager := newTestManager(t, provider)

	state, stateCookie := beginForState(t, manager, "/map")

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := manager.Finalise(ctx, "auth-code", state, stateCookie.Value)
	require.Error(t, err)

	var serviceErr *serviceerr.Error
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, serviceerr.CodeTokenExchange, serviceErr.Err)
}

func TestManager_Authenticate_NoCookie(t *testing.T) {
	provider := newFakeProvider(t)
	manager := newTestManager(t, provider)

	req := httptest.NewRequest(http.MethodGet, "/userinfo", nil)

	_, err := manager.Authenticate(req)
	assert.ErrorIs(t, err, serviceerr.ErrSessionInvalid)
}

func TestManager_ClearCookies(t *testing.T) {
	provider := newFakeProvider(t)
	manager := newTestManager(t, provider)

	cleared := manager.ClearSessionCookie()
	assert.Equal(t, "gateway_session", cleared.Name)
	assert.Equal(t, -1, cleared.MaxAge)
	assert.Empty(t, cleared.Value)

	state := manager.ClearStateCookie()
	assert.Equal(t, "gateway_auth_state", state.Name)
	assert.Equal(t, -1, state.MaxAge)
}
