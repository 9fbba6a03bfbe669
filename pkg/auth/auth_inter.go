package auth

import (
	"context"

	"github.com/nhirsama/rmcs-client/pkg/id"
)

// ClientAuthenticator 定义了客户端针对认证服务执行登录协议的接口
type ClientAuthenticator interface {
	UserLogin(ctx context.Context, username string, password *Credential) (*Session, error)
	ApiLogin(ctx context.Context, apiID id.ID, password *Credential) (*ApiKey, error)
	UserRefresh(ctx context.Context, apiID id.ID, accessToken, refreshToken string) (TokenPair, error)
	UserLogout(ctx context.Context, s *Session) error
}

// TransportKeyProvider 是握手的服务端一半：为每个主体发放短期公钥，
// 并解开用该公钥加密的密码
type TransportKeyProvider interface {
	Issue(principal string) ([]byte, error)
	Open(principal string, ciphertext []byte, p Padding) ([]byte, error)
}

// TokenPair 是一次刷新的结果
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}
