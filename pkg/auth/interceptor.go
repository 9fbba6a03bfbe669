package auth

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

const (
	AuthorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
)

// AuthorizationInterceptor 为每个出站调用附加同一个 bearer token。
// 除令牌外不持有任何状态，也从不刷新或重试，可被任意数量的并发调用共享。
type AuthorizationInterceptor struct {
	header string
}

var _ connect.Interceptor = AuthorizationInterceptor{}

func NewAuthorizationInterceptor(token string) AuthorizationInterceptor {
	return AuthorizationInterceptor{header: bearerPrefix + token}
}

// ClientOption installs the interceptor on a connect client.
func (i AuthorizationInterceptor) ClientOption() connect.ClientOption {
	return connect.WithInterceptors(i)
}

func (i AuthorizationInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			req.Header().Set(AuthorizationHeader, i.header)
		}
		return next(ctx, req)
	}
}

func (i AuthorizationInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		conn := next(ctx, spec)
		conn.RequestHeader().Set(AuthorizationHeader, i.header)
		return conn
	}
}

func (i AuthorizationInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header.
func BearerToken(h http.Header) (string, bool) {
	v := h.Get(AuthorizationHeader)
	if !strings.HasPrefix(v, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(v, bearerPrefix))
	return token, token != ""
}
