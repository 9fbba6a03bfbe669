package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"connectrpc.com/connect"
	"github.com/nhirsama/rmcs-client/internal/store"
	"github.com/nhirsama/rmcs-client/pkg/auth"
	"github.com/nhirsama/rmcs-client/pkg/id"
	"github.com/nhirsama/rmcs-client/pkg/policy"
	"github.com/nhirsama/rmcs-client/pkg/rpc"
)

// AuthService serves the login handshake, refresh and logout.
type AuthService struct {
	opts    Options
	bearer  *Bearer
	limiter *loginLimiter
	audit   *auditLogger
	logger  *slog.Logger
}

var _ rpc.AuthServiceHandler = (*AuthService)(nil)

func NewAuthService(opts Options) *AuthService {
	opts.defaults()
	return &AuthService{
		opts:    opts,
		bearer:  NewBearer(opts.Directory, opts.Store, opts.Now),
		limiter: newLoginLimiter(opts.Now),
		audit:   newAuditLogger(opts.Logger, opts.Metrics, opts.Now),
		logger:  opts.Logger.With("component", "auth"),
	}
}

// Sweep drops stale rate-limit records.
func (s *AuthService) Sweep() {
	s.limiter.sweep()
}

func userPrincipal(name string) string { return "user:" + name }
func apiPrincipal(apiID id.ID) string  { return "api:" + apiID.String() }

func (s *AuthService) UserLoginKey(ctx context.Context, req *connect.Request[rpc.UserKeyRequest]) (*connect.Response[rpc.LoginKeyResponse], error) {
	if req.Msg.Username == "" {
		return nil, invalidArgument("username is required")
	}
	der, err := s.opts.Keys.Issue(userPrincipal(req.Msg.Username))
	if err != nil {
		return nil, mapError(err)
	}
	return connect.NewResponse(&rpc.LoginKeyResponse{PublicKey: der}), nil
}

func (s *AuthService) ApiLoginKey(ctx context.Context, req *connect.Request[rpc.ApiKeyRequest]) (*connect.Response[rpc.LoginKeyResponse], error) {
	if req.Msg.ApiID.IsZero() {
		return nil, invalidArgument("api id is required")
	}
	der, err := s.opts.Keys.Issue(apiPrincipal(req.Msg.ApiID))
	if err != nil {
		return nil, mapError(err)
	}
	return connect.NewResponse(&rpc.LoginKeyResponse{PublicKey: der}), nil
}

// openSecret decrypts the sealed password and checks it against hash. An
// unknown principal is reported exactly like a wrong password.
func (s *AuthService) openSecret(principal string, sealed []byte, padding uint8, hash string, known bool) error {
	p := auth.Padding(padding)
	if !p.Valid() {
		return invalidArgument("unsupported padding")
	}
	plain, err := s.opts.Keys.Open(principal, sealed, p)
	if err != nil {
		return err
	}
	defer clear(plain)
	if !known {
		return errBadCredentials
	}
	ok, err := VerifyPassword(hash, plain, s.opts.HashLimits)
	if err != nil {
		return err
	}
	if !ok {
		return errBadCredentials
	}
	return nil
}

func (s *AuthService) checkLimit(ctx context.Context, principal, peer string) error {
	if blocked, retry := s.limiter.check(principal); blocked {
		s.audit.log(ctx, AuditLoginRateLimited, peer,
			slog.String("principal", principal),
			slog.Duration("retry_after", retry),
		)
		return fmt.Errorf("%w (retry after %s)", errRateLimited, retry.Round(time.Second))
	}
	return nil
}

func (s *AuthService) loginFailed(ctx context.Context, principal, peer string, err error) error {
	if errors.Is(err, errBadCredentials) {
		s.limiter.recordFailure(principal)
	}
	s.audit.log(ctx, AuditLoginFailure, peer,
		slog.String("principal", principal),
		slog.String("reason", err.Error()),
	)
	return mapError(err)
}

func (s *AuthService) UserLogin(ctx context.Context, req *connect.Request[rpc.UserLoginRequest]) (*connect.Response[rpc.UserLoginResponse], error) {
	name := req.Msg.Username
	if name == "" {
		return nil, invalidArgument("username is required")
	}
	principal := userPrincipal(name)
	peer := req.Peer().Addr
	if err := s.checkLimit(ctx, principal, peer); err != nil {
		return nil, mapError(err)
	}

	user, known := s.opts.Directory.UserByName(name)
	if err := s.openSecret(principal, req.Msg.Password, req.Msg.Padding, user.PasswordHash, known); err != nil {
		return nil, s.loginFailed(ctx, principal, peer, err)
	}
	s.limiter.recordSuccess(principal)

	now := s.opts.Now()
	authToken := newSecret()
	res := &rpc.UserLoginResponse{UserID: user.ID, AuthToken: authToken}
	for _, role := range s.opts.Directory.Roles(user) {
		if !role.Multi {
			if err := s.supersede(ctx, user.ID, role.ApiID); err != nil {
				return nil, mapError(err)
			}
		}
		rec := store.Record{
			AccessID:     id.New(),
			UserID:       user.ID,
			ApiID:        role.ApiID,
			RefreshToken: newSecret(),
			AuthToken:    authToken,
			Expire:       role.RefreshExpiry(now),
			IP:           role.BindIP(peerAddr(peer)),
			Created:      now,
		}
		if err := s.opts.Store.Create(rec); err != nil {
			return nil, mapError(err)
		}
		access, expire, err := s.mint(rec, role, now)
		if err != nil {
			return nil, mapError(err)
		}
		res.AccessTokens = append(res.AccessTokens, rpc.AccessTokenMap{
			ApiID:        role.ApiID,
			AccessToken:  access,
			RefreshToken: rec.RefreshToken,
			AccessID:     rec.AccessID,
			Expire:       rpc.EncodeTime(expire),
		})
		s.opts.Events.Publish(TokenEvent{Event: AuditTokenIssued, AccessID: rec.AccessID, UserID: user.ID, ApiID: role.ApiID, At: now})
	}

	s.audit.log(ctx, AuditLoginSuccess, peer,
		slog.String("principal", principal),
		slog.String("user_id", user.ID.String()),
		slog.Int("tokens", len(res.AccessTokens)),
	)
	return connect.NewResponse(res), nil
}

// supersede revokes the user's existing tokens for apiID, for roles that
// allow a single session.
func (s *AuthService) supersede(ctx context.Context, userID, apiID id.ID) error {
	existing, err := s.opts.Store.ListByUser(userID)
	if err != nil {
		return err
	}
	for _, rec := range existing {
		if rec.ApiID != apiID {
			continue
		}
		if err := s.opts.Store.Delete(rec.AccessID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		s.opts.Events.Publish(TokenEvent{Event: AuditTokenRevoked, AccessID: rec.AccessID, UserID: userID, ApiID: apiID, At: s.opts.Now()})
		s.logger.LogAttrs(ctx, slog.LevelDebug, "superseded session", slog.String("access_id", rec.AccessID.String()))
	}
	return nil
}

// mint issues the access token for rec. It expires after the role's access
// duration or with the session, whichever comes first.
func (s *AuthService) mint(rec store.Record, role policy.Role, now time.Time) (string, time.Time, error) {
	expire := role.AccessExpiry(now)
	if rec.Expire.Before(expire) {
		expire = rec.Expire
	}
	token, err := s.bearer.Mint(Claims{
		AccessID: rec.AccessID,
		UserID:   rec.UserID,
		ApiID:    rec.ApiID,
		RoleID:   role.ID,
		Expire:   rpc.EncodeTime(expire),
	})
	return token, expire, err
}

func (s *AuthService) ApiLogin(ctx context.Context, req *connect.Request[rpc.ApiLoginRequest]) (*connect.Response[rpc.ApiLoginResponse], error) {
	apiID := req.Msg.ApiID
	if apiID.IsZero() {
		return nil, invalidArgument("api id is required")
	}
	principal := apiPrincipal(apiID)
	peer := req.Peer().Addr
	if err := s.checkLimit(ctx, principal, peer); err != nil {
		return nil, mapError(err)
	}

	api, known := s.opts.Directory.Api(apiID)
	if err := s.openSecret(principal, req.Msg.Password, req.Msg.Padding, api.PasswordHash, known); err != nil {
		return nil, s.loginFailed(ctx, principal, peer, err)
	}
	s.limiter.recordSuccess(principal)

	clientKey, err := auth.ImportPublicKey(req.Msg.PublicKey)
	if err != nil {
		return nil, mapError(err)
	}
	padding := auth.Padding(req.Msg.Padding)
	res := &rpc.ApiLoginResponse{Procedures: api.Procedures}
	if res.AccessKey, err = auth.Encrypt(api.AccessKey, clientKey, padding); err != nil {
		return nil, mapError(err)
	}
	if len(api.RootKey) > 0 {
		if res.RootKey, err = auth.Encrypt(api.RootKey, clientKey, padding); err != nil {
			return nil, mapError(err)
		}
	}
	s.audit.log(ctx, AuditApiLogin, peer, slog.String("api_id", apiID.String()))
	return connect.NewResponse(res), nil
}

func (s *AuthService) UserRefresh(ctx context.Context, req *connect.Request[rpc.UserRefreshRequest]) (*connect.Response[rpc.UserRefreshResponse], error) {
	res, err := s.refresh(ctx, req)
	s.opts.Metrics.recordRefresh(err)
	if err != nil {
		return nil, mapError(err)
	}
	return connect.NewResponse(res), nil
}

func (s *AuthService) refresh(ctx context.Context, req *connect.Request[rpc.UserRefreshRequest]) (*rpc.UserRefreshResponse, error) {
	msg := req.Msg
	if msg.AccessToken == "" || msg.RefreshToken == "" {
		return nil, invalidArgument("access and refresh token are required")
	}
	claims, err := s.bearer.Parse(msg.AccessToken)
	if err != nil {
		return nil, err
	}
	if claims.ApiID != msg.ApiID {
		return nil, errScope
	}
	role, ok := s.opts.Directory.RoleFor(claims.UserID, claims.ApiID)
	if !ok {
		return nil, errNoRole
	}
	peer := peerAddr(req.Peer().Addr)
	now := s.opts.Now()

	rec, err := s.opts.Store.Update(claims.AccessID, func(r *store.Record) error {
		if !now.Before(r.Expire) {
			return errSessionExpired
		}
		if !s.opts.Rotation.Accepts(msg.RefreshToken, r.RefreshToken, r.PreviousRefresh, r.RotatedAt, now) {
			return errRefreshRejected
		}
		if !role.AllowsFrom(r.IP, peer) {
			return errAddress
		}
		r.PreviousRefresh = r.RefreshToken
		r.RefreshToken = newSecret()
		r.RotatedAt = now
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, errTokenRevoked
	}
	if err != nil {
		return nil, err
	}

	access, _, err := s.mint(rec, role, now)
	if err != nil {
		return nil, err
	}
	s.audit.log(ctx, AuditTokenRotated, req.Peer().Addr, slog.String("access_id", rec.AccessID.String()))
	s.opts.Events.Publish(TokenEvent{Event: AuditTokenRotated, AccessID: rec.AccessID, UserID: rec.UserID, ApiID: rec.ApiID, At: now})
	return &rpc.UserRefreshResponse{AccessToken: access, RefreshToken: rec.RefreshToken}, nil
}

func (s *AuthService) UserLogout(ctx context.Context, req *connect.Request[rpc.UserLogoutRequest]) (*connect.Response[rpc.UserLogoutResponse], error) {
	msg := req.Msg
	if msg.UserID.IsZero() || msg.AuthToken == "" {
		return nil, invalidArgument("user id and auth token are required")
	}
	group, err := s.opts.Store.ListByAuthToken(msg.AuthToken)
	if err != nil {
		return nil, mapError(err)
	}
	if len(group) == 0 || group[0].UserID != msg.UserID {
		return nil, rpc.NewNotFoundError("auth token", msg.UserID.String())
	}
	n, err := s.opts.Store.DeleteByAuthToken(msg.AuthToken)
	if errors.Is(err, store.ErrNotFound) {
		return nil, rpc.NewNotFoundError("auth token", msg.UserID.String())
	}
	if err != nil {
		return nil, mapError(err)
	}
	now := s.opts.Now()
	for _, rec := range group {
		s.opts.Events.Publish(TokenEvent{Event: AuditTokenRevoked, AccessID: rec.AccessID, UserID: rec.UserID, ApiID: rec.ApiID, At: now})
	}
	s.audit.log(ctx, AuditLogout, req.Peer().Addr,
		slog.String("user_id", msg.UserID.String()),
		slog.Int("revoked", n),
	)
	return connect.NewResponse(&rpc.UserLogoutResponse{}), nil
}
