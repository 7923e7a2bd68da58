package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"golang.org/x/oauth2"

	slogctx "github.com/veqryn/slog-context"

	"github.com/osmcloud/auth-gateway/internal/claims"
	"github.com/osmcloud/auth-gateway/internal/config"
	"github.com/osmcloud/auth-gateway/internal/randtoken"
	"github.com/osmcloud/auth-gateway/internal/returnurl"
	"github.com/osmcloud/auth-gateway/internal/serviceerr"
)

// Manager orchestrates the authorization code flow against the provider
// and owns the cookie contracts with the browser. It keeps no server-side
// session state: the pending-auth attempt and the session itself both live
// in signed cookies, so concurrent logins need no coordination.
type Manager struct {
	oauth            *oauth2.Config
	userInfoEndpoint string
	schemeName       string

	signer     *Signer
	mapper     *claims.Mapper
	returnURLs *returnurl.Validator
	random     randtoken.Source
	replay     *ReplayGuard

	secureClient *http.Client

	sessionDuration    time.Duration
	loginTimeout       time.Duration
	backchannelTimeout time.Duration

	sessionCookieTemplate config.CookieTemplate
	stateCookieTemplate   config.CookieTemplate
}

// LoginResult is what a finalised login hands back to the HTTP layer.
type LoginResult struct {
	SessionToken string
	Identity     claims.Identity
	RedirectURL  string
}

func NewManager(cfg *config.Config, mapper *claims.Mapper, httpClient *http.Client) (*Manager, error) {
	secret, err := commoncfg.LoadValueFromSourceRef(cfg.Gateway.SessionSecret)
	if err != nil {
		return nil, fmt.Errorf("loading session secret from source ref: %w", err)
	}

	signer, err := NewSigner(secret)
	if err != nil {
		return nil, err
	}

	clientID, err := commoncfg.LoadValueFromSourceRef(cfg.OAuth.ClientID)
	if err != nil {
		return nil, fmt.Errorf("loading client id from source ref: %w", err)
	}

	clientSecret, err := commoncfg.LoadValueFromSourceRef(cfg.OAuth.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("loading client secret from source ref: %w", err)
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Gateway.BackchannelTimeout}
	}

	return &Manager{
		oauth: &oauth2.Config{
			ClientID:     string(clientID),
			ClientSecret: string(clientSecret),
			RedirectURL:  strings.TrimSuffix(cfg.Gateway.PublicURL, "/") + cfg.Gateway.CallbackPath,
			Scopes:       cfg.OAuth.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.OAuth.AuthorizationEndpoint,
				TokenURL:  cfg.OAuth.TokenEndpoint,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoEndpoint:      cfg.OAuth.UserInfoEndpoint,
		schemeName:            cfg.OAuth.SchemeName,
		signer:                signer,
		mapper:                mapper,
		returnURLs:            returnurl.NewValidator(cfg.Gateway.AllowedReturnURLs),
		replay:                NewReplayGuard(cfg.Gateway.LoginTimeout),
		secureClient:          httpClient,
		sessionDuration:       cfg.Gateway.SessionDuration,
		loginTimeout:          cfg.Gateway.LoginTimeout,
		backchannelTimeout:    cfg.Gateway.BackchannelTimeout,
		sessionCookieTemplate: cfg.Gateway.SessionCookie,
		stateCookieTemplate:   cfg.Gateway.StateCookie,
	}, nil
}

// Begin starts the login challenge for an unauthenticated caller: it mints
// a pending-auth state, binds it to the browser through a short-lived
// signed cookie, and returns the provider authorization URL carrying the
// same state token.
func (m *Manager) Begin(ctx context.Context, returnURL string) (string, *http.Cookie, error) {
	pending := PendingState{
		State:     m.random.State(),
		ReturnURL: m.returnURLs.Validate(returnURL),
		Expiry:    time.Now().Add(m.loginTimeout),
	}

	raw, err := m.signer.IssueState(pending)
	if err != nil {
		return "", nil, fmt.Errorf("issuing state cookie: %w", err)
	}

	slogctx.Info(ctx, "Starting login challenge", "scheme", m.schemeName)

	cookie := m.stateCookieTemplate.ToCookie(raw, int(m.loginTimeout.Seconds()))

	return m.oauth.AuthCodeURL(pending.State), cookie, nil
}

// Finalise completes the flow on the provider callback: it checks the
// state against the signed cookie, exchanges the code, fetches user info
// over the backchannel, maps the claims, and mints the session token.
// Both backchannel calls are bounded by the inbound request context plus a
// fixed per-call timeout; a disconnected client aborts them and no session
// is issued.
func (m *Manager) Finalise(ctx context.Context, code, state, stateCookie string) (LoginResult, error) {
	pending, err := m.signer.VerifyState(stateCookie)
	if err != nil {
		return LoginResult{}, err
	}

	if subtle.ConstantTimeCompare([]byte(pending.State), []byte(state)) != 1 {
		return LoginResult{}, serviceerr.ErrInvalidState
	}

	if !m.replay.MarkUsed(pending.State) {
		slogctx.Warn(ctx, "Pending auth state was presented twice", "scheme", m.schemeName)
		return LoginResult{}, serviceerr.ErrInvalidState
	}

	token, err := m.exchangeCode(ctx, code)
	if err != nil {
		return LoginResult{}, &serviceerr.Error{Err: serviceerr.CodeTokenExchange, Description: err.Error()}
	}

	slogctx.Info(ctx, "Exchanged the auth code for an access token")

	payload, err := m.fetchUserInfo(ctx, token)
	if err != nil {
		return LoginResult{}, &serviceerr.Error{Err: serviceerr.CodeUserInfoFetch, Description: err.Error()}
	}

	identity, err := m.mapper.Map(payload)
	if err != nil {
		return LoginResult{}, err
	}

	sessionToken, err := m.signer.IssueSession(identity, m.sessionDuration)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issuing session token: %w", err)
	}

	slogctx.Info(ctx, "Login finalised", "subject", identity.SubjectID)

	return LoginResult{
		SessionToken: sessionToken,
		Identity:     identity,
		RedirectURL:  m.returnURLs.Validate(pending.ReturnURL),
	}, nil
}

// Authenticate resolves the caller's identity from the session cookie on
// the request. Absent, expired, or tampered cookies are reported as an
// invalid session so the caller is treated as anonymous.
func (m *Manager) Authenticate(r *http.Request) (claims.Identity, error) {
	cookie, err := r.Cookie(m.sessionCookieTemplate.Name)
	if err != nil || cookie.Value == "" {
		return claims.Identity{}, serviceerr.ErrSessionInvalid
	}

	return m.signer.VerifySession(cookie.Value)
}

// ValidateReturnURL applies the allowlist check; non-members degrade to
// the safe default path instead of failing.
func (m *Manager) ValidateReturnURL(candidate string) string {
	return m.returnURLs.Validate(candidate)
}

func (m *Manager) MakeSessionCookie(token string) *http.Cookie {
	return m.sessionCookieTemplate.ToCookie(token, int(m.sessionDuration.Seconds()))
}

// ClearSessionCookie signs the browser out locally. The provider keeps its
// own browser session, so a later login may complete without prompting for
// credentials; that is accepted behavior, not a defect.
func (m *Manager) ClearSessionCookie() *http.Cookie {
	return m.sessionCookieTemplate.Expired()
}

func (m *Manager) ClearStateCookie() *http.Cookie {
	return m.stateCookieTemplate.Expired()
}

func (m *Manager) StateCookieName() string {
	return m.stateCookieTemplate.Name
}

func (m *Manager) exchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, m.backchannelTimeout)
	defer cancel()

	// The oauth2 package picks the HTTP client up from the context.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.secureClient)

	token, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	if token.AccessToken == "" {
		return nil, errors.New("token endpoint returned an empty access token")
	}

	return token, nil
}

func (m *Manager) fetchUserInfo(ctx context.Context, token *oauth2.Token) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, m.backchannelTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.userInfoEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating user info request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	token.SetAuthHeader(req)

	resp, err := m.secureClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing user info request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("user info endpoint returned status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading user info response: %w", err)
	}

	return payload, nil
}
