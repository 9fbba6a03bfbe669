// Package client is the command-line side of the SDK: a connection to one
// auth server and a session cache in the OS keyring.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nhirsama/rmcs-client/pkg"
	"github.com/nhirsama/rmcs-client/pkg/auth"
	"github.com/nhirsama/rmcs-client/pkg/id"
	"github.com/nhirsama/rmcs-client/pkg/rpc"
	"github.com/nhirsama/rmcs-client/pkg/token"
)

type ServerConnection struct {
	httpClient *http.Client
	baseURL    string
	handshake  *auth.Handshake
	logger     *slog.Logger
}

type Option func(*ServerConnection)

// WithHTTPClient replaces the default client, whose timeout comes from the
// configuration.
func WithHTTPClient(c *http.Client) Option {
	return func(s *ServerConnection) { s.httpClient = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *ServerConnection) { s.logger = l }
}

func NewServerConnection(cfg *pkg.ClientConfig, opts ...Option) (*ServerConnection, error) {
	padding, err := auth.ParsePadding(cfg.Padding)
	if err != nil {
		return nil, err
	}
	sc := &ServerConnection{
		httpClient: &http.Client{Timeout: time.Duration(cfg.Timeout)},
		baseURL:    cfg.ServerURL,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(sc)
	}
	if sc.baseURL == "" {
		sc.baseURL = "http://localhost:9975"
	}
	authClient := rpc.NewAuthServiceClient(sc.httpClient, sc.baseURL)
	sc.handshake = auth.NewHandshake(authClient,
		auth.WithKeyBits(cfg.KeyBits),
		auth.WithPadding(padding),
		auth.WithLogger(sc.logger),
	)
	return sc, nil
}

func (s *ServerConnection) BaseURL() string {
	return s.baseURL
}

func (s *ServerConnection) Login(ctx context.Context, username string, password *auth.Credential) (*auth.Session, error) {
	return s.handshake.UserLogin(ctx, username, password)
}

func (s *ServerConnection) ApiLogin(ctx context.Context, apiID id.ID, password *auth.Credential) (*auth.ApiKey, error) {
	return s.handshake.ApiLogin(ctx, apiID, password)
}

// Refresh rotates the session's token for apiID and returns the updated
// session.
func (s *ServerConnection) Refresh(ctx context.Context, session *auth.Session, apiID id.ID) (*auth.Session, error) {
	return session.Refresh(ctx, s.handshake, apiID)
}

func (s *ServerConnection) Logout(ctx context.Context, session *auth.Session) error {
	return s.handshake.UserLogout(ctx, session)
}

// Tokens returns a token manager authorized with the session's bearer token
// for apiID.
func (s *ServerConnection) Tokens(session *auth.Session, apiID id.ID) (*token.Manager, error) {
	interceptor, err := session.Interceptor(apiID)
	if err != nil {
		return nil, fmt.Errorf("no token for api %s: %w", apiID, err)
	}
	c := rpc.NewTokenServiceClient(s.httpClient, s.baseURL, interceptor.ClientOption())
	return token.NewManager(c, token.WithLogger(s.logger)), nil
}
