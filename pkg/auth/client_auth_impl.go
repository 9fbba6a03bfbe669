package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"connectrpc.com/connect"
	"github.com/awnumar/memguard"
	"github.com/nhirsama/rmcs-client/pkg/id"
	"github.com/nhirsama/rmcs-client/pkg/rpc"
)

// HandshakeState names the steps of a login. A login only moves forward;
// any failure ends it in StateFailed and a retry starts again from
// StateStart.
type HandshakeState int

const (
	StateStart HandshakeState = iota
	StateKeyRequested
	StateSecretEncrypted
	StateAwaitingServerResponse
	StateDecrypting
	StateAuthenticated
	StateFailed
)

func (s HandshakeState) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateKeyRequested:
		return "key-requested"
	case StateSecretEncrypted:
		return "secret-encrypted"
	case StateAwaitingServerResponse:
		return "awaiting-server-response"
	case StateDecrypting:
		return "decrypting"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handshake implements ClientAuthenticator over an AuthServiceClient.
type Handshake struct {
	client  rpc.AuthServiceClient
	keyBits int
	padding Padding
	logger  *slog.Logger
	now     func() time.Time
}

var _ ClientAuthenticator = (*Handshake)(nil)

type HandshakeOption func(*Handshake)

// WithKeyBits sets the size of the ephemeral keys generated for API logins.
func WithKeyBits(bits int) HandshakeOption {
	return func(h *Handshake) { h.keyBits = bits }
}

// WithPadding selects the padding used in both directions. The server must
// support it.
func WithPadding(p Padding) HandshakeOption {
	return func(h *Handshake) { h.padding = p }
}

func WithLogger(logger *slog.Logger) HandshakeOption {
	return func(h *Handshake) { h.logger = logger }
}

func WithClock(now func() time.Time) HandshakeOption {
	return func(h *Handshake) { h.now = now }
}

func NewHandshake(client rpc.AuthServiceClient, opts ...HandshakeOption) *Handshake {
	h := &Handshake{
		client:  client,
		keyBits: DefaultKeyBits,
		padding: PaddingPKCS1v15,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "handshake")
	return h
}

// attempt tracks the state of one login so failures can say where they
// happened.
type attempt struct {
	kind      string
	principal string
	state     HandshakeState
	logger    *slog.Logger
}

func (h *Handshake) begin(kind, principal string) *attempt {
	return &attempt{kind: kind, principal: principal, state: StateStart, logger: h.logger}
}

func (a *attempt) advance(ctx context.Context, next HandshakeState) error {
	if err := ctx.Err(); err != nil {
		return a.fail(ctx, fmt.Errorf("%w: %w", ErrTransport, err))
	}
	a.state = next
	a.logger.LogAttrs(ctx, slog.LevelDebug, "handshake step",
		slog.String("kind", a.kind),
		slog.String("principal", a.principal),
		slog.String("state", next.String()),
	)
	return nil
}

func (a *attempt) fail(ctx context.Context, err error) error {
	at := a.state
	a.state = StateFailed
	a.logger.LogAttrs(ctx, slog.LevelDebug, "handshake failed",
		slog.String("kind", a.kind),
		slog.String("principal", a.principal),
		slog.String("at", at.String()),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("handshake %s: %w", at, err)
}

// UserLogin authenticates a user. password is consumed and destroyed on
// every path.
func (h *Handshake) UserLogin(ctx context.Context, username string, password *Credential) (*Session, error) {
	defer password.Destroy()
	a := h.begin("user", username)

	keyRes, err := h.client.UserLoginKey(ctx, connect.NewRequest(&rpc.UserKeyRequest{Username: username}))
	if err != nil {
		return nil, a.fail(ctx, FromRPC(err))
	}
	if err := a.advance(ctx, StateKeyRequested); err != nil {
		return nil, err
	}
	serverKey, err := ImportPublicKey(keyRes.Msg.PublicKey)
	if err != nil {
		return nil, a.fail(ctx, err)
	}
	sealed, err := password.seal(serverKey, h.padding)
	if err != nil {
		return nil, a.fail(ctx, err)
	}
	if err := a.advance(ctx, StateSecretEncrypted); err != nil {
		return nil, err
	}

	if err := a.advance(ctx, StateAwaitingServerResponse); err != nil {
		return nil, err
	}
	res, err := h.client.UserLogin(ctx, connect.NewRequest(&rpc.UserLoginRequest{
		Username: username,
		Password: sealed,
		Padding:  uint8(h.padding),
	}))
	if err != nil {
		return nil, a.fail(ctx, FromRPC(err))
	}
	if err := a.advance(ctx, StateDecrypting); err != nil {
		return nil, err
	}

	msg := res.Msg
	if msg.UserID.IsZero() || msg.AuthToken == "" {
		return nil, a.fail(ctx, fmt.Errorf("%w: login response without user or auth token", ErrProtocol))
	}
	tokens := make([]ApiToken, 0, len(msg.AccessTokens))
	for _, t := range msg.AccessTokens {
		tokens = append(tokens, ApiToken{
			ApiID:        t.ApiID,
			AccessID:     t.AccessID,
			AccessToken:  t.AccessToken,
			RefreshToken: t.RefreshToken,
			Expire:       rpc.DecodeTime(t.Expire),
		})
	}
	a.state = StateAuthenticated
	h.logger.LogAttrs(ctx, slog.LevelInfo, "user login",
		slog.String("username", username),
		slog.String("user_id", msg.UserID.String()),
		slog.Int("tokens", len(tokens)),
	)
	return NewSession(msg.UserID, msg.AuthToken, tokens, h.now()), nil
}

// ApiKey 保存 API 登录得到的 access key 与 root key，Destroy 之前一直位于
// 锁定内存中。
type ApiKey struct {
	ApiID      id.ID
	Procedures []string
	key        *memguard.LockedBuffer
	root       *memguard.LockedBuffer
}

func lockedBytes(b *memguard.LockedBuffer) []byte {
	if b == nil || !b.IsAlive() {
		return nil
	}
	return b.Bytes()
}

// AccessKey returns the key bytes. The slice is invalid after Destroy.
func (k *ApiKey) AccessKey() []byte {
	return lockedBytes(k.key)
}

// RootKey returns nil when the server holds no root key for the API.
func (k *ApiKey) RootKey() []byte {
	return lockedBytes(k.root)
}

func (k *ApiKey) Destroy() {
	for _, b := range []*memguard.LockedBuffer{k.key, k.root} {
		if b != nil {
			b.Destroy()
		}
	}
}

// ApiLogin authenticates an API principal. The server returns the access
// key sealed with a keypair generated for this call only.
func (h *Handshake) ApiLogin(ctx context.Context, apiID id.ID, password *Credential) (*ApiKey, error) {
	defer password.Destroy()
	a := h.begin("api", apiID.String())

	keyRes, err := h.client.ApiLoginKey(ctx, connect.NewRequest(&rpc.ApiKeyRequest{ApiID: apiID}))
	if err != nil {
		return nil, a.fail(ctx, FromRPC(err))
	}
	if err := a.advance(ctx, StateKeyRequested); err != nil {
		return nil, err
	}
	serverKey, err := ImportPublicKey(keyRes.Msg.PublicKey)
	if err != nil {
		return nil, a.fail(ctx, err)
	}
	sealed, err := password.seal(serverKey, h.padding)
	if err != nil {
		return nil, a.fail(ctx, err)
	}

	pair, err := GenerateKeyPair(h.keyBits)
	if err != nil {
		return nil, a.fail(ctx, err)
	}
	defer pair.Destroy()
	ownKey, err := pair.ExportPublicKey()
	if err != nil {
		return nil, a.fail(ctx, fmt.Errorf("%w: %w", ErrKeyGeneration, err))
	}
	if err := a.advance(ctx, StateSecretEncrypted); err != nil {
		return nil, err
	}

	if err := a.advance(ctx, StateAwaitingServerResponse); err != nil {
		return nil, err
	}
	res, err := h.client.ApiLogin(ctx, connect.NewRequest(&rpc.ApiLoginRequest{
		ApiID:     apiID,
		Password:  sealed,
		PublicKey: ownKey,
		Padding:   uint8(h.padding),
	}))
	if err != nil {
		return nil, a.fail(ctx, FromRPC(err))
	}
	if err := a.advance(ctx, StateDecrypting); err != nil {
		return nil, err
	}

	plain, err := pair.Decrypt(res.Msg.AccessKey, h.padding)
	if err != nil {
		return nil, a.fail(ctx, err)
	}
	key := &ApiKey{
		ApiID:      apiID,
		Procedures: res.Msg.Procedures,
		key:        memguard.NewBufferFromBytes(plain),
	}
	if len(res.Msg.RootKey) > 0 {
		root, err := pair.Decrypt(res.Msg.RootKey, h.padding)
		if err != nil {
			key.Destroy()
			return nil, a.fail(ctx, err)
		}
		key.root = memguard.NewBufferFromBytes(root)
	}
	a.state = StateAuthenticated
	h.logger.LogAttrs(ctx, slog.LevelInfo, "api login",
		slog.String("api_id", apiID.String()),
		slog.Int("procedures", len(res.Msg.Procedures)),
		slog.Bool("root_key", key.root != nil),
	)
	return key, nil
}

// UserRefresh exchanges a refresh token for a new token pair.
func (h *Handshake) UserRefresh(ctx context.Context, apiID id.ID, accessToken, refreshToken string) (TokenPair, error) {
	if accessToken == "" || refreshToken == "" {
		return TokenPair{}, fmt.Errorf("%w: access and refresh token are required", ErrInvalidArgument)
	}
	res, err := h.client.UserRefresh(ctx, connect.NewRequest(&rpc.UserRefreshRequest{
		ApiID:        apiID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}))
	if err != nil {
		return TokenPair{}, FromRPC(err)
	}
	if res.Msg.AccessToken == "" || res.Msg.RefreshToken == "" {
		return TokenPair{}, fmt.Errorf("%w: refresh response without tokens", ErrProtocol)
	}
	return TokenPair{AccessToken: res.Msg.AccessToken, RefreshToken: res.Msg.RefreshToken}, nil
}

// UserLogout revokes every token issued with the session's auth token.
func (h *Handshake) UserLogout(ctx context.Context, s *Session) error {
	if s == nil {
		return errors.New("auth: nil session")
	}
	_, err := h.client.UserLogout(ctx, connect.NewRequest(&rpc.UserLogoutRequest{
		UserID:    s.UserID(),
		AuthToken: s.AuthToken(),
	}))
	if err != nil {
		return FromRPC(err)
	}
	h.logger.LogAttrs(ctx, slog.LevelInfo, "user logout", slog.String("user_id", s.UserID().String()))
	return nil
}
