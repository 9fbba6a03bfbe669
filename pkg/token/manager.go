// Package token 通过 TokenService 管理访问令牌的整个生命周期。
package token

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"connectrpc.com/connect"
	"github.com/nhirsama/rmcs-client/pkg/auth"
	"github.com/nhirsama/rmcs-client/pkg/id"
	"github.com/nhirsama/rmcs-client/pkg/rpc"
)

// AccessToken is a token record as the server stores it. IP is invalid when
// the token is not bound to an address.
type AccessToken struct {
	AccessID     id.ID
	UserID       id.ID
	RefreshToken string
	AuthToken    string
	Expire       time.Time
	IP           netip.Addr
}

// Issued identifies a newly created token.
type Issued struct {
	AccessID     id.ID
	RefreshToken string
	AuthToken    string
}

// Rotated carries the strings that replaced the previous ones.
type Rotated struct {
	RefreshToken string
	AuthToken    string
}

// Update lists the fields to change. Zero values leave a field as it is;
// the refresh string is rotated regardless.
type Update struct {
	Expire time.Time
	IP     netip.Addr
}

// Manager 封装 TokenServiceClient，该客户端应当已挂载会话的
// AuthorizationInterceptor。
type Manager struct {
	client rpc.TokenServiceClient
	logger *slog.Logger
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func NewManager(client rpc.TokenServiceClient, opts ...Option) *Manager {
	m := &Manager{client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "token")
	return m
}

// CreateAccessToken issues one token for userID. An empty authToken asks
// the server to start a new group.
func (m *Manager) CreateAccessToken(ctx context.Context, userID id.ID, authToken string, expire time.Time, ip netip.Addr) (Issued, error) {
	if userID.IsZero() {
		return Issued{}, fmt.Errorf("%w: user id is required", auth.ErrInvalidArgument)
	}
	res, err := m.client.CreateAccessToken(ctx, connect.NewRequest(&rpc.TokenSchema{
		UserID:    userID,
		AuthToken: authToken,
		Expire:    rpc.EncodeTime(expire),
		IP:        rpc.EncodeIP(ip),
	}))
	if err != nil {
		return Issued{}, auth.FromRPC(err)
	}
	m.logger.LogAttrs(ctx, slog.LevelDebug, "token created", slog.String("access_id", res.Msg.AccessID.String()))
	return issuedFrom(res.Msg), nil
}

// CreateAuthToken 签发 number 个共享同一 auth 字符串的兄弟令牌。
func (m *Manager) CreateAuthToken(ctx context.Context, userID id.ID, expire time.Time, ip netip.Addr, number int) ([]Issued, error) {
	if userID.IsZero() {
		return nil, fmt.Errorf("%w: user id is required", auth.ErrInvalidArgument)
	}
	if number < 1 {
		return nil, fmt.Errorf("%w: number must be at least 1, got %d", auth.ErrInvalidArgument, number)
	}
	res, err := m.client.CreateAuthToken(ctx, connect.NewRequest(&rpc.AuthTokenCreate{
		UserID: userID,
		Expire: rpc.EncodeTime(expire),
		IP:     rpc.EncodeIP(ip),
		Number: uint32(number),
	}))
	if err != nil {
		return nil, auth.FromRPC(err)
	}
	if len(res.Msg.Tokens) != number {
		return nil, fmt.Errorf("%w: asked for %d tokens, got %d", auth.ErrProtocol, number, len(res.Msg.Tokens))
	}
	out := make([]Issued, 0, number)
	for i := range res.Msg.Tokens {
		out = append(out, issuedFrom(&res.Msg.Tokens[i]))
	}
	return out, nil
}

func (m *Manager) ReadAccessToken(ctx context.Context, accessID id.ID) (AccessToken, error) {
	res, err := m.client.ReadAccessToken(ctx, connect.NewRequest(&rpc.AccessID{AccessID: accessID}))
	if err != nil {
		return AccessToken{}, auth.FromRPC(err)
	}
	return fromSchema(res.Msg.Result)
}

// ListAuthToken returns every token in the group named by authToken.
func (m *Manager) ListAuthToken(ctx context.Context, authToken string) ([]AccessToken, error) {
	res, err := m.client.ListAuthToken(ctx, connect.NewRequest(&rpc.AuthToken{AuthToken: authToken}))
	if err != nil {
		return nil, auth.FromRPC(err)
	}
	return fromSchemas(res.Msg.Results)
}

func (m *Manager) ListTokenByUser(ctx context.Context, userID id.ID) ([]AccessToken, error) {
	res, err := m.client.ListTokenByUser(ctx, connect.NewRequest(&rpc.UserID{UserID: userID}))
	if err != nil {
		return nil, auth.FromRPC(err)
	}
	return fromSchemas(res.Msg.Results)
}

// UpdateAccessToken applies u to one token and rotates its refresh string.
func (m *Manager) UpdateAccessToken(ctx context.Context, accessID id.ID, u Update) (Rotated, error) {
	if accessID.IsZero() {
		return Rotated{}, fmt.Errorf("%w: access id is required", auth.ErrInvalidArgument)
	}
	res, err := m.client.UpdateAccessToken(ctx, connect.NewRequest(&rpc.TokenUpdate{
		AccessID: accessID,
		Expire:   rpc.EncodeTime(u.Expire),
		IP:       rpc.EncodeIP(u.IP),
	}))
	if err != nil {
		return Rotated{}, auth.FromRPC(err)
	}
	return rotatedFrom(res.Msg)
}

// UpdateAuthToken 把 u 应用到组内每个令牌并逐个轮换 refresh 字符串，
// 返回值中的 refresh 字符串属于第一个令牌。
func (m *Manager) UpdateAuthToken(ctx context.Context, authToken string, u Update) (Rotated, error) {
	if authToken == "" {
		return Rotated{}, fmt.Errorf("%w: auth token is required", auth.ErrInvalidArgument)
	}
	res, err := m.client.UpdateAuthToken(ctx, connect.NewRequest(&rpc.TokenUpdate{
		AuthToken: authToken,
		Expire:    rpc.EncodeTime(u.Expire),
		IP:        rpc.EncodeIP(u.IP),
	}))
	if err != nil {
		return Rotated{}, auth.FromRPC(err)
	}
	return rotatedFrom(res.Msg)
}

func (m *Manager) DeleteAccessToken(ctx context.Context, accessID id.ID) error {
	if _, err := m.client.DeleteAccessToken(ctx, connect.NewRequest(&rpc.AccessID{AccessID: accessID})); err != nil {
		return auth.FromRPC(err)
	}
	m.logger.LogAttrs(ctx, slog.LevelDebug, "token revoked", slog.String("access_id", accessID.String()))
	return nil
}

func (m *Manager) DeleteAuthToken(ctx context.Context, authToken string) error {
	if _, err := m.client.DeleteAuthToken(ctx, connect.NewRequest(&rpc.AuthToken{AuthToken: authToken})); err != nil {
		return auth.FromRPC(err)
	}
	m.logger.LogAttrs(ctx, slog.LevelDebug, "token group revoked")
	return nil
}

// DeleteTokenByUser revokes every token owned by userID.
func (m *Manager) DeleteTokenByUser(ctx context.Context, userID id.ID) error {
	if _, err := m.client.DeleteTokenByUser(ctx, connect.NewRequest(&rpc.UserID{UserID: userID})); err != nil {
		return auth.FromRPC(err)
	}
	m.logger.LogAttrs(ctx, slog.LevelDebug, "user tokens revoked", slog.String("user_id", userID.String()))
	return nil
}

func issuedFrom(r *rpc.TokenCreateResponse) Issued {
	return Issued{AccessID: r.AccessID, RefreshToken: r.RefreshToken, AuthToken: r.AuthToken}
}

func rotatedFrom(r *rpc.TokenUpdateResponse) (Rotated, error) {
	if r.RefreshToken == "" {
		return Rotated{}, fmt.Errorf("%w: update response without refresh token", auth.ErrProtocol)
	}
	return Rotated{RefreshToken: r.RefreshToken, AuthToken: r.AuthToken}, nil
}

func fromSchema(s rpc.TokenSchema) (AccessToken, error) {
	ip, err := rpc.DecodeIP(s.IP)
	if err != nil {
		return AccessToken{}, fmt.Errorf("%w: %w", auth.ErrProtocol, err)
	}
	return AccessToken{
		AccessID:     s.AccessID,
		UserID:       s.UserID,
		RefreshToken: s.RefreshToken,
		AuthToken:    s.AuthToken,
		Expire:       rpc.DecodeTime(s.Expire),
		IP:           ip,
	}, nil
}

func fromSchemas(in []rpc.TokenSchema) ([]AccessToken, error) {
	out := make([]AccessToken, 0, len(in))
	for _, s := range in {
		t, err := fromSchema(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
