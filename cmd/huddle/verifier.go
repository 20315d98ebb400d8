package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/huddlehq/huddle/pkg/authz"
	"github.com/huddlehq/huddle/pkg/config"
	"github.com/huddlehq/huddle/pkg/middleware"
	"github.com/huddlehq/huddle/pkg/observability"
)

// identityVerifier resolves bearer tokens against the identity service. Huddle
// never mints tokens itself; the collaborator owns the credential lifecycle.
type identityVerifier struct {
	url    string
	client *http.Client
	logger *observability.Logger
}

func newIdentityVerifier(cfg config.AuthConfig, logger *observability.Logger) *identityVerifier {
	return &identityVerifier{
		url: cfg.IdentityURL,
		client: &http.Client{
			Timeout:   cfg.VerifyTimeout,
			Transport: otelhttp.NewTransport(nil),
		},
		logger: logger,
	}
}

func (v *identityVerifier) Verify(ctx context.Context, token string) (*middleware.Principal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.WithError(err).Warn("identity service unreachable")
		return nil, fmt.Errorf("identity verification failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity service rejected token (status %d)", resp.StatusCode)
	}

	var principal middleware.Principal
	if err := json.NewDecoder(resp.Body).Decode(&principal); err != nil {
		return nil, fmt.Errorf("failed to decode identity response: %w", err)
	}
	if principal.ID == 0 {
		return nil, fmt.Errorf("identity response carried no principal id")
	}
	return &principal, nil
}

// insecureLocalVerifier treats the bearer token as a principal email and
// resolves it against the users table. Local development only.
type insecureLocalVerifier struct {
	store *authz.Store
}

func (v *insecureLocalVerifier) Verify(ctx context.Context, token string) (*middleware.Principal, error) {
	id, err := v.store.ResolvePrincipalByEmail(ctx, token)
	if err != nil {
		return nil, err
	}
	return &middleware.Principal{ID: id, Email: token}, nil
}

func newTokenVerifier(cfg config.AuthConfig, store *authz.Store, logger *observability.Logger) middleware.TokenVerifier {
	if cfg.InsecureLocal {
		logger.Warn("insecure local auth enabled; bearer tokens are treated as emails")
		return &insecureLocalVerifier{store: store}
	}
	return newIdentityVerifier(cfg, logger)
}
