package rpc

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// AuthServiceClient is the client side of rmcs.auth.v1.AuthService.
type AuthServiceClient interface {
	UserLoginKey(context.Context, *connect.Request[UserKeyRequest]) (*connect.Response[LoginKeyResponse], error)
	ApiLoginKey(context.Context, *connect.Request[ApiKeyRequest]) (*connect.Response[LoginKeyResponse], error)
	UserLogin(context.Context, *connect.Request[UserLoginRequest]) (*connect.Response[UserLoginResponse], error)
	ApiLogin(context.Context, *connect.Request[ApiLoginRequest]) (*connect.Response[ApiLoginResponse], error)
	UserRefresh(context.Context, *connect.Request[UserRefreshRequest]) (*connect.Response[UserRefreshResponse], error)
	UserLogout(context.Context, *connect.Request[UserLogoutRequest]) (*connect.Response[UserLogoutResponse], error)
}

// NewAuthServiceClient builds a client for the service at baseURL. The CBOR
// codec is always registered; opts may add interceptors and other options.
func NewAuthServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) AuthServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{WithCodec()}, opts...)
	return &authServiceClient{
		userLoginKey: connect.NewClient[UserKeyRequest, LoginKeyResponse](httpClient, baseURL+AuthServiceUserLoginKeyProcedure, opts...),
		apiLoginKey:  connect.NewClient[ApiKeyRequest, LoginKeyResponse](httpClient, baseURL+AuthServiceApiLoginKeyProcedure, opts...),
		userLogin:    connect.NewClient[UserLoginRequest, UserLoginResponse](httpClient, baseURL+AuthServiceUserLoginProcedure, opts...),
		apiLogin:     connect.NewClient[ApiLoginRequest, ApiLoginResponse](httpClient, baseURL+AuthServiceApiLoginProcedure, opts...),
		userRefresh:  connect.NewClient[UserRefreshRequest, UserRefreshResponse](httpClient, baseURL+AuthServiceUserRefreshProcedure, opts...),
		userLogout:   connect.NewClient[UserLogoutRequest, UserLogoutResponse](httpClient, baseURL+AuthServiceUserLogoutProcedure, opts...),
	}
}

type authServiceClient struct {
	userLoginKey *connect.Client[UserKeyRequest, LoginKeyResponse]
	apiLoginKey  *connect.Client[ApiKeyRequest, LoginKeyResponse]
	userLogin    *connect.Client[UserLoginRequest, UserLoginResponse]
	apiLogin     *connect.Client[ApiLoginRequest, ApiLoginResponse]
	userRefresh  *connect.Client[UserRefreshRequest, UserRefreshResponse]
	userLogout   *connect.Client[UserLogoutRequest, UserLogoutResponse]
}

func (c *authServiceClient) UserLoginKey(ctx context.Context, req *connect.Request[UserKeyRequest]) (*connect.Response[LoginKeyResponse], error) {
	return c.userLoginKey.CallUnary(ctx, req)
}

func (c *authServiceClient) ApiLoginKey(ctx context.Context, req *connect.Request[ApiKeyRequest]) (*connect.Response[LoginKeyResponse], error) {
	return c.apiLoginKey.CallUnary(ctx, req)
}

func (c *authServiceClient) UserLogin(ctx context.Context, req *connect.Request[UserLoginRequest]) (*connect.Response[UserLoginResponse], error) {
	return c.userLogin.CallUnary(ctx, req)
}

func (c *authServiceClient) ApiLogin(ctx context.Context, req *connect.Request[ApiLoginRequest]) (*connect.Response[ApiLoginResponse], error) {
	return c.apiLogin.CallUnary(ctx, req)
}

func (c *authServiceClient) UserRefresh(ctx context.Context, req *connect.Request[UserRefreshRequest]) (*connect.Response[UserRefreshResponse], error) {
	return c.userRefresh.CallUnary(ctx, req)
}

func (c *authServiceClient) UserLogout(ctx context.Context, req *connect.Request[UserLogoutRequest]) (*connect.Response[UserLogoutResponse], error) {
	return c.userLogout.CallUnary(ctx, req)
}

// AuthServiceHandler is implemented by the server.
type AuthServiceHandler interface {
	UserLoginKey(context.Context, *connect.Request[UserKeyRequest]) (*connect.Response[LoginKeyResponse], error)
	ApiLoginKey(context.Context, *connect.Request[ApiKeyRequest]) (*connect.Response[LoginKeyResponse], error)
	UserLogin(context.Context, *connect.Request[UserLoginRequest]) (*connect.Response[UserLoginResponse], error)
	ApiLogin(context.Context, *connect.Request[ApiLoginRequest]) (*connect.Response[ApiLoginResponse], error)
	UserRefresh(context.Context, *connect.Request[UserRefreshRequest]) (*connect.Response[UserRefreshResponse], error)
	UserLogout(context.Context, *connect.Request[UserLogoutRequest]) (*connect.Response[UserLogoutResponse], error)
}

// NewAuthServiceHandler returns the path prefix to mount and the handler
// serving every AuthService procedure below it.
func NewAuthServiceHandler(svc AuthServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{WithCodec()}, opts...)
	userLoginKey := connect.NewUnaryHandler(AuthServiceUserLoginKeyProcedure, svc.UserLoginKey, opts...)
	apiLoginKey := connect.NewUnaryHandler(AuthServiceApiLoginKeyProcedure, svc.ApiLoginKey, opts...)
	userLogin := connect.NewUnaryHandler(AuthServiceUserLoginProcedure, svc.UserLogin, opts...)
	apiLogin := connect.NewUnaryHandler(AuthServiceApiLoginProcedure, svc.ApiLogin, opts...)
	userRefresh := connect.NewUnaryHandler(AuthServiceUserRefreshProcedure, svc.UserRefresh, opts...)
	userLogout := connect.NewUnaryHandler(AuthServiceUserLogoutProcedure, svc.UserLogout, opts...)
	return "/" + AuthServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case AuthServiceUserLoginKeyProcedure:
			userLoginKey.ServeHTTP(w, r)
		case AuthServiceApiLoginKeyProcedure:
			apiLoginKey.ServeHTTP(w, r)
		case AuthServiceUserLoginProcedure:
			userLogin.ServeHTTP(w, r)
		case AuthServiceApiLoginProcedure:
			apiLogin.ServeHTTP(w, r)
		case AuthServiceUserRefreshProcedure:
			userRefresh.ServeHTTP(w, r)
		case AuthServiceUserLogoutProcedure:
			userLogout.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}
