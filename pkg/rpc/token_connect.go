package rpc

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// TokenServiceClient is the client side of rmcs.auth.v1.TokenService. Every
// call needs a bearer token, so construct it with an authorization
// interceptor.
type TokenServiceClient interface {
	CreateAccessToken(context.Context, *connect.Request[TokenSchema]) (*connect.Response[TokenCreateResponse], error)
	CreateAuthToken(context.Context, *connect.Request[AuthTokenCreate]) (*connect.Response[AuthTokenCreateResponse], error)
	ReadAccessToken(context.Context, *connect.Request[AccessID]) (*connect.Response[TokenReadResponse], error)
	ListAuthToken(context.Context, *connect.Request[AuthToken]) (*connect.Response[TokenListResponse], error)
	ListTokenByUser(context.Context, *connect.Request[UserID]) (*connect.Response[TokenListResponse], error)
	UpdateAccessToken(context.Context, *connect.Request[TokenUpdate]) (*connect.Response[TokenUpdateResponse], error)
	UpdateAuthToken(context.Context, *connect.Request[TokenUpdate]) (*connect.Response[TokenUpdateResponse], error)
	DeleteAccessToken(context.Context, *connect.Request[AccessID]) (*connect.Response[TokenChangeResponse], error)
	DeleteAuthToken(context.Context, *connect.Request[AuthToken]) (*connect.Response[TokenChangeResponse], error)
	DeleteTokenByUser(context.Context, *connect.Request[UserID]) (*connect.Response[TokenChangeResponse], error)
}

func NewTokenServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) TokenServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{WithCodec()}, opts...)
	return &tokenServiceClient{
		createAccessToken: connect.NewClient[TokenSchema, TokenCreateResponse](httpClient, baseURL+TokenServiceCreateAccessTokenProcedure, opts...),
		createAuthToken:   connect.NewClient[AuthTokenCreate, AuthTokenCreateResponse](httpClient, baseURL+TokenServiceCreateAuthTokenProcedure, opts...),
		readAccessToken:   connect.NewClient[AccessID, TokenReadResponse](httpClient, baseURL+TokenServiceReadAccessTokenProcedure, opts...),
		listAuthToken:     connect.NewClient[AuthToken, TokenListResponse](httpClient, baseURL+TokenServiceListAuthTokenProcedure, opts...),
		listTokenByUser:   connect.NewClient[UserID, TokenListResponse](httpClient, baseURL+TokenServiceListTokenByUserProcedure, opts...),
		updateAccessToken: connect.NewClient[TokenUpdate, TokenUpdateResponse](httpClient, baseURL+TokenServiceUpdateAccessTokenProcedure, opts...),
		updateAuthToken:   connect.NewClient[TokenUpdate, TokenUpdateResponse](httpClient, baseURL+TokenServiceUpdateAuthTokenProcedure, opts...),
		deleteAccessToken: connect.NewClient[AccessID, TokenChangeResponse](httpClient, baseURL+TokenServiceDeleteAccessTokenProcedure, opts...),
		deleteAuthToken:   connect.NewClient[AuthToken, TokenChangeResponse](httpClient, baseURL+TokenServiceDeleteAuthTokenProcedure, opts...),
		deleteTokenByUser: connect.NewClient[UserID, TokenChangeResponse](httpClient, baseURL+TokenServiceDeleteTokenByUserProcedure, opts...),
	}
}

type tokenServiceClient struct {
	createAccessToken *connect.Client[TokenSchema, TokenCreateResponse]
	createAuthToken   *connect.Client[AuthTokenCreate, AuthTokenCreateResponse]
	readAccessToken   *connect.Client[AccessID, TokenReadResponse]
	listAuthToken     *connect.Client[AuthToken, TokenListResponse]
	listTokenByUser   *connect.Client[UserID, TokenListResponse]
	updateAccessToken *connect.Client[TokenUpdate, TokenUpdateResponse]
	updateAuthToken   *connect.Client[TokenUpdate, TokenUpdateResponse]
	deleteAccessToken *connect.Client[AccessID, TokenChangeResponse]
	deleteAuthToken   *connect.Client[AuthToken, TokenChangeResponse]
	deleteTokenByUser *connect.Client[UserID, TokenChangeResponse]
}

func (c *tokenServiceClient) CreateAccessToken(ctx context.Context, req *connect.Request[TokenSchema]) (*connect.Response[TokenCreateResponse], error) {
	return c.createAccessToken.CallUnary(ctx, req)
}

func (c *tokenServiceClient) CreateAuthToken(ctx context.Context, req *connect.Request[AuthTokenCreate]) (*connect.Response[AuthTokenCreateResponse], error) {
	return c.createAuthToken.CallUnary(ctx, req)
}

func (c *tokenServiceClient) ReadAccessToken(ctx context.Context, req *connect.Request[AccessID]) (*connect.Response[TokenReadResponse], error) {
	return c.readAccessToken.CallUnary(ctx, req)
}

func (c *tokenServiceClient) ListAuthToken(ctx context.Context, req *connect.Request[AuthToken]) (*connect.Response[TokenListResponse], error) {
	return c.listAuthToken.CallUnary(ctx, req)
}

func (c *tokenServiceClient) ListTokenByUser(ctx context.Context, req *connect.Request[UserID]) (*connect.Response[TokenListResponse], error) {
	return c.listTokenByUser.CallUnary(ctx, req)
}

func (c *tokenServiceClient) UpdateAccessToken(ctx context.Context, req *connect.Request[TokenUpdate]) (*connect.Response[TokenUpdateResponse], error) {
	return c.updateAccessToken.CallUnary(ctx, req)
}

func (c *tokenServiceClient) UpdateAuthToken(ctx context.Context, req *connect.Request[TokenUpdate]) (*connect.Response[TokenUpdateResponse], error) {
	return c.updateAuthToken.CallUnary(ctx, req)
}

func (c *tokenServiceClient) DeleteAccessToken(ctx context.Context, req *connect.Request[AccessID]) (*connect.Response[TokenChangeResponse], error) {
	return c.deleteAccessToken.CallUnary(ctx, req)
}

func (c *tokenServiceClient) DeleteAuthToken(ctx context.Context, req *connect.Request[AuthToken]) (*connect.Response[TokenChangeResponse], error) {
	return c.deleteAuthToken.CallUnary(ctx, req)
}

func (c *tokenServiceClient) DeleteTokenByUser(ctx context.Context, req *connect.Request[UserID]) (*connect.Response[TokenChangeResponse], error) {
	return c.deleteTokenByUser.CallUnary(ctx, req)
}

// TokenServiceHandler is implemented by the server.
type TokenServiceHandler interface {
	CreateAccessToken(context.Context, *connect.Request[TokenSchema]) (*connect.Response[TokenCreateResponse], error)
	CreateAuthToken(context.Context, *connect.Request[AuthTokenCreate]) (*connect.Response[AuthTokenCreateResponse], error)
	ReadAccessToken(context.Context, *connect.Request[AccessID]) (*connect.Response[TokenReadResponse], error)
	ListAuthToken(context.Context, *connect.Request[AuthToken]) (*connect.Response[TokenListResponse], error)
	ListTokenByUser(context.Context, *connect.Request[UserID]) (*connect.Response[TokenListResponse], error)
	UpdateAccessToken(context.Context, *connect.Request[TokenUpdate]) (*connect.Response[TokenUpdateResponse], error)
	UpdateAuthToken(context.Context, *connect.Request[TokenUpdate]) (*connect.Response[TokenUpdateResponse], error)
	DeleteAccessToken(context.Context, *connect.Request[AccessID]) (*connect.Response[TokenChangeResponse], error)
	DeleteAuthToken(context.Context, *connect.Request[AuthToken]) (*connect.Response[TokenChangeResponse], error)
	DeleteTokenByUser(context.Context, *connect.Request[UserID]) (*connect.Response[TokenChangeResponse], error)
}

func NewTokenServiceHandler(svc TokenServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{WithCodec()}, opts...)
	handlers := map[string]http.Handler{
		TokenServiceCreateAccessTokenProcedure: connect.NewUnaryHandler(TokenServiceCreateAccessTokenProcedure, svc.CreateAccessToken, opts...),
		TokenServiceCreateAuthTokenProcedure:   connect.NewUnaryHandler(TokenServiceCreateAuthTokenProcedure, svc.CreateAuthToken, opts...),
		TokenServiceReadAccessTokenProcedure:   connect.NewUnaryHandler(TokenServiceReadAccessTokenProcedure, svc.ReadAccessToken, opts...),
		TokenServiceListAuthTokenProcedure:     connect.NewUnaryHandler(TokenServiceListAuthTokenProcedure, svc.ListAuthToken, opts...),
		TokenServiceListTokenByUserProcedure:   connect.NewUnaryHandler(TokenServiceListTokenByUserProcedure, svc.ListTokenByUser, opts...),
		TokenServiceUpdateAccessTokenProcedure: connect.NewUnaryHandler(TokenServiceUpdateAccessTokenProcedure, svc.UpdateAccessToken, opts...),
		TokenServiceUpdateAuthTokenProcedure:   connect.NewUnaryHandler(TokenServiceUpdateAuthTokenProcedure, svc.UpdateAuthToken, opts...),
		TokenServiceDeleteAccessTokenProcedure: connect.NewUnaryHandler(TokenServiceDeleteAccessTokenProcedure, svc.DeleteAccessToken, opts...),
		TokenServiceDeleteAuthTokenProcedure:   connect.NewUnaryHandler(TokenServiceDeleteAuthTokenProcedure, svc.DeleteAuthToken, opts...),
		TokenServiceDeleteTokenByUserProcedure: connect.NewUnaryHandler(TokenServiceDeleteTokenByUserProcedure, svc.DeleteTokenByUser, opts...),
	}
	return "/" + TokenServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := handlers[r.URL.Path]; ok {
			h.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
}
