package business

import (
	"context"
	"fmt"
	"net/http"

	slogctx "github.com/veqryn/slog-context"

	"github.com/osmcloud/auth-gateway/internal/business/server"
	"github.com/osmcloud/auth-gateway/internal/claims"
	"github.com/osmcloud/auth-gateway/internal/config"
	"github.com/osmcloud/auth-gateway/internal/session"
)

// Main wires the session manager and runs the public HTTP API server
// until the context is cancelled.
func Main(ctx context.Context, cfg *config.Config) error {
	sessionManager, err := initSessionManager(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the session manager: %w", err)
	}

	return server.StartHTTPServer(ctx, cfg, sessionManager)
}

func initSessionManager(ctx context.Context, cfg *config.Config) (*session.Manager, error) {
	mapper, err := claims.NewMapper(claims.DefaultRules())
	if err != nil {
		return nil, fmt.Errorf("building the claims mapper: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.Gateway.BackchannelTimeout}

	sessionManager, err := session.NewManager(cfg, mapper, httpClient)
	if err != nil {
		return nil, fmt.Errorf("creating session manager: %w", err)
	}

	slogctx.Info(ctx, "Session manager initialised",
		"scheme", cfg.OAuth.SchemeName,
		"allowed_return_urls", len(cfg.Gateway.AllowedReturnURLs),
	)

	return sessionManager, nil
}
