package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/otlp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	slogctx "github.com/veqryn/slog-context"

	"github.com/osmcloud/auth-gateway/internal/config"
	"github.com/osmcloud/auth-gateway/internal/serviceerr"
	"github.com/osmcloud/auth-gateway/internal/session"
)

// gatewayServer implements the public HTTP API of the gateway.
type gatewayServer struct {
	cfg      *config.Config
	sManager *session.Manager
}

func newGatewayServer(cfg *config.Config, sManager *session.Manager) *gatewayServer {
	return &gatewayServer{cfg: cfg, sManager: sManager}
}

// instrument wraps a handler with a request id, an OTEL span, and the
// request counter and duration metrics.
func (s *gatewayServer) instrument(operationID string, next http.HandlerFunc) http.HandlerFunc {
	traceAttrs := otlp.CreateAttributesFrom(s.cfg.Application,
		attribute.String(commoncfg.AttrOperation, operationID),
	)

	tracer := otel.Tracer(operationID, trace.WithInstrumentationAttributes(traceAttrs...))

	return func(w http.ResponseWriter, r *http.Request) {
		// Request Id will be propagated through all method calls of this HTTP handler
		ctx := slogctx.With(r.Context(),
			commoncfg.AttrRequestID, uuid.NewString(),
			commoncfg.AttrOperation, operationID,
		)

		parentCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(r.Header))

		ctx, span := tracer.Start(parentCtx, operationID+"-span", trace.WithAttributes(traceAttrs...))
		defer span.End()

		requestStartTime := time.Now()

		defer func() {
			attrs := metric.WithAttributes(
				otlp.CreateAttributesFrom(s.cfg.Application,
					attribute.String("userAgent", r.UserAgent()),
					attribute.String(commoncfg.AttrOperation, operationID),
				)...,
			)

			counter.Add(ctx, 1, attrs)
			hist.Record(ctx, time.Since(requestStartTime).Milliseconds(), attrs)
		}()

		next(w, r.WithContext(ctx))
	}
}

// handleLogin is the protected entrypoint of the flow. A caller with a
// valid session is simply redirected to the validated return URL; an
// anonymous caller is intercepted by the login challenge first.
func (s *gatewayServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	returnURL := r.URL.Query().Get("returnUrl")

	if _, err := s.sManager.Authenticate(r); err == nil {
		http.Redirect(w, r, s.sManager.ValidateReturnURL(returnURL), http.StatusFound)
		return
	}

	authURL, stateCookie, err := s.sManager.Begin(ctx, returnURL)
	if err != nil {
		slogctx.Error(ctx, "Failed to start the login challenge", "error", err)
		s.writeError(w, err)

		return
	}

	http.SetCookie(w, stateCookie)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleCallback is invoked by the provider redirecting the browser back.
func (s *gatewayServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		s.writeError(w, &serviceerr.Error{Err: serviceerr.CodeInvalidRequest, Description: "missing code or state parameter"})
		return
	}

	var stateCookieValue string
	if cookie, err := r.Cookie(s.sManager.StateCookieName()); err == nil {
		stateCookieValue = cookie.Value
	}

	// The pending state is consumed either way.
	http.SetCookie(w, s.sManager.ClearStateCookie())

	result, err := s.sManager.Finalise(ctx, code, state, stateCookieValue)
	if err != nil {
		slogctx.Error(ctx, "Failed to finalise login", "error", err)
		s.writeError(w, err)

		return
	}

	http.SetCookie(w, s.sManager.MakeSessionCookie(result.SessionToken))

	slogctx.Debug(ctx, "Redirecting user", "to", result.RedirectURL)
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// handleLogout removes the local session cookie. The cookie set by the
// provider persists, so it may log the user in again without prompting
// for credentials.
func (s *gatewayServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, s.sManager.ClearSessionCookie())
	http.Redirect(w, r, s.sManager.ValidateReturnURL(r.URL.Query().Get("returnUrl")), http.StatusFound)
}

type userInfoResponse struct {
	ID       string  `json:"id"`
	UserName string  `json:"userName"`
	ImageURL *string `json:"imageUrl"`
}

// handleUserInfo returns the claims of the active session. The browser
// holds the session token in an httpOnly cookie, so JavaScript cannot read
// it directly; this endpoint is how the frontend learns who is logged in.
func (s *gatewayServer) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := s.sManager.Authenticate(r)
	if err != nil {
		slogctx.Debug(ctx, "Rejecting user info request", "error", err)
		s.writeError(w, serviceerr.ErrUnauthorized)

		return
	}

	response := userInfoResponse{
		ID:       identity.SubjectID,
		UserName: identity.DisplayName,
	}
	if identity.AvatarURL != "" {
		response.ImageURL = &identity.AvatarURL
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(response); err != nil {
		slogctx.Error(ctx, "Failed to encode user info response", "error", err)
	}
}

// handlePing is a connectivity probe; it requires no login.
func (s *gatewayServer) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("pong"))
}

type errorModel struct {
	Error string `json:"error"`
}

// writeError maps an error onto the generic client-facing representation.
// Failure detail stays in the server-side logs; clients only ever see the
// error code and status.
func (s *gatewayServer) writeError(w http.ResponseWriter, err error) {
	var serviceErr *serviceerr.Error
	if !errors.As(err, &serviceErr) {
		serviceErr = serviceerr.ErrUnknown
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(serviceErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(errorModel{Error: string(serviceErr.Err)})
}
