package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"connectrpc.com/connect"
	"github.com/nhirsama/rmcs-client/internal/store"
	"github.com/nhirsama/rmcs-client/pkg/id"
	"github.com/nhirsama/rmcs-client/pkg/rpc"
)

// maxBatch caps CreateAuthToken.
const maxBatch = 100

// TokenService manages token records on behalf of callers holding a bearer
// token for the auth API. Mount it with Interceptor.
type TokenService struct {
	opts   Options
	bearer *Bearer
	audit  *auditLogger
}

var _ rpc.TokenServiceHandler = (*TokenService)(nil)

func NewTokenService(opts Options) *TokenService {
	opts.defaults()
	return &TokenService{
		opts:   opts,
		bearer: NewBearer(opts.Directory, opts.Store, opts.Now),
		audit:  newAuditLogger(opts.Logger, opts.Metrics, opts.Now),
	}
}

// Interceptor authorizes every call against the auth API.
func (s *TokenService) Interceptor() connect.Interceptor {
	return s.bearer.Interceptor(s.opts.AuthApi)
}

func (s *TokenService) publish(event AuditEvent, rec store.Record) {
	s.opts.Events.Publish(TokenEvent{Event: event, AccessID: rec.AccessID, UserID: rec.UserID, ApiID: rec.ApiID, At: s.opts.Now()})
}

func (s *TokenService) issue(ctx context.Context, peer string, userID id.ID, authToken string, expire time.Time, ipRaw []byte) (store.Record, error) {
	ip, err := rpc.DecodeIP(ipRaw)
	if err != nil {
		return store.Record{}, invalidArgument(err.Error())
	}
	now := s.opts.Now()
	rec := store.Record{
		AccessID:     id.New(),
		UserID:       userID,
		ApiID:        s.opts.AuthApi,
		RefreshToken: newSecret(),
		AuthToken:    authToken,
		Expire:       expire,
		IP:           ip,
		Created:      now,
	}
	if err := s.opts.Store.Create(rec); err != nil {
		return store.Record{}, err
	}
	s.publish(AuditTokenIssued, rec)
	s.audit.log(ctx, AuditTokenIssued, peer,
		slog.String("access_id", rec.AccessID.String()),
		slog.String("user_id", userID.String()),
	)
	return rec, nil
}

func (s *TokenService) checkCreate(userID id.ID, expire int64) (time.Time, error) {
	if userID.IsZero() {
		return time.Time{}, invalidArgument("user id is required")
	}
	t := rpc.DecodeTime(expire)
	if !t.After(s.opts.Now()) {
		return time.Time{}, invalidArgument("expire must be in the future")
	}
	return t, nil
}

func (s *TokenService) CreateAccessToken(ctx context.Context, req *connect.Request[rpc.TokenSchema]) (*connect.Response[rpc.TokenCreateResponse], error) {
	res, err := s.createAccessToken(ctx, req)
	s.opts.Metrics.recordTokenOp("create_access_token", err)
	if err != nil {
		return nil, mapError(err)
	}
	return connect.NewResponse(res), nil
}

func (s *TokenService) createAccessToken(ctx context.Context, req *connect.Request[rpc.TokenSchema]) (*rpc.TokenCreateResponse, error) {
	expire, err := s.checkCreate(req.Msg.UserID, req.Msg.Expire)
	if err != nil {
		return nil, err
	}
	authToken := req.Msg.AuthToken
	if authToken == "" {
		authToken = newSecret()
	}
	rec, err := s.issue(ctx, req.Peer().Addr, req.Msg.UserID, authToken, expire, req.Msg.IP)
	if err != nil {
		return nil, err
	}
	return &rpc.TokenCreateResponse{AccessID: rec.AccessID, RefreshToken: rec.RefreshToken, AuthToken: rec.AuthToken}, nil
}

func (s *TokenService) CreateAuthToken(ctx context.Context, req *connect.Request[rpc.AuthTokenCreate]) (*connect.Response[rpc.AuthTokenCreateResponse], error) {
	res, err := s.createAuthToken(ctx, req)
	s.opts.Metrics.recordTokenOp("create_auth_token", err)
	if err != nil {
		return nil, mapError(err)
	}
	return connect.NewResponse(res), nil
}

func (s *TokenService) createAuthToken(ctx context.Context, req *connect.Request[rpc.AuthTokenCreate]) (*rpc.AuthTokenCreateResponse, error) {
	msg := req.Msg
	if msg.Number < 1 || msg.Number > maxBatch {
		return nil, invalidArgument("number must be between 1 and 100")
	}
	expire, err := s.checkCreate(msg.UserID, msg.Expire)
	if err != nil {
		return nil, err
	}
	authToken := newSecret()
	res := &rpc.AuthTokenCreateResponse{Tokens: make([]rpc.TokenCreateResponse, 0, msg.Number)}
	for range msg.Number {
		rec, err := s.issue(ctx, req.Peer().Addr, msg.UserID, authToken, expire, msg.IP)
		if err != nil {
			return nil, err
		}
		res.Tokens = append(res.Tokens, rpc.TokenCreateResponse{AccessID: rec.AccessID, RefreshToken: rec.RefreshToken, AuthToken: rec.AuthToken})
	}
	return res, nil
}

func toSchema(r store.Record) rpc.TokenSchema {
	return rpc.TokenSchema{
		AccessID:     r.AccessID,
		UserID:       r.UserID,
		RefreshToken: r.RefreshToken,
		AuthToken:    r.AuthToken,
		Expire:       rpc.EncodeTime(r.Expire),
		IP:           rpc.EncodeIP(r.IP),
	}
}

func toSchemas(rs []store.Record) []rpc.TokenSchema {
	out := make([]rpc.TokenSchema, 0, len(rs))
	for _, r := range rs {
		out = append(out, toSchema(r))
	}
	return out
}

func (s *TokenService) ReadAccessToken(ctx context.Context, req *connect.Request[rpc.AccessID]) (*connect.Response[rpc.TokenReadResponse], error) {
	rec, err := s.opts.Store.Get(req.Msg.AccessID)
	s.opts.Metrics.recordTokenOp("read_access_token", err)
	if errors.Is(err, store.ErrNotFound) {
		return nil, rpc.NewNotFoundError("access token", req.Msg.AccessID.String())
	}
	if err != nil {
		return nil, mapError(err)
	}
	return connect.NewResponse(&rpc.TokenReadResponse{Result: toSchema(rec)}), nil
}

func (s *TokenService) ListAuthToken(ctx context.Context, req *connect.Request[rpc.AuthToken]) (*connect.Response[rpc.TokenListResponse], error) {
	if req.Msg.AuthToken == "" {
		return nil, invalidArgument("auth token is required")
	}
	rs, err := s.opts.Store.ListByAuthToken(req.Msg.AuthToken)
	s.opts.Metrics.recordTokenOp("list_auth_token", err)
	if err != nil {
		return nil, mapError(err)
	}
	return connect.NewResponse(&rpc.TokenListResponse{Results: toSchemas(rs)}), nil
}

func (s *TokenService) ListTokenByUser(ctx context.Context, req *connect.Request[rpc.UserID]) (*connect.Response[rpc.TokenListResponse], error) {
	rs, err := s.opts.Store.ListByUser(req.Msg.UserID)
	s.opts.Metrics.recordTokenOp("list_token_by_user", err)
	if err != nil {
		return nil, mapError(err)
	}
	return connect.NewResponse(&rpc.TokenListResponse{Results: toSchemas(rs)}), nil
}

// rotate returns the update applied to every record touched by an update
// call: a new refresh string, plus expire and ip when they are set.
func (s *TokenService) rotate(msg *rpc.TokenUpdate) (func(*store.Record) error, error) {
	ip, err := rpc.DecodeIP(msg.IP)
	if err != nil {
		return nil, invalidArgument(err.Error())
	}
	expire := rpc.DecodeTime(msg.Expire)
	now := s.opts.Now()
	return func(r *store.Record) error {
		r.PreviousRefresh = r.RefreshToken
		r.RefreshToken = newSecret()
		r.RotatedAt = now
		if !expire.IsZero() {
			r.Expire = expire
		}
		if ip.IsValid() {
			r.IP = ip
		}
		return nil
	}, nil
}

func (s *TokenService) UpdateAccessToken(ctx context.Context, req *connect.Request[rpc.TokenUpdate]) (*connect.Response[rpc.TokenUpdateResponse], error) {
	if req.Msg.AccessID.IsZero() {
		return nil, invalidArgument("access id is required")
	}
	fn, err := s.rotate(req.Msg)
	if err != nil {
		return nil, err
	}
	rec, err := s.opts.Store.Update(req.Msg.AccessID, fn)
	s.opts.Metrics.recordTokenOp("update_access_token", err)
	if errors.Is(err, store.ErrNotFound) {
		return nil, rpc.NewNotFoundError("access token", req.Msg.AccessID.String())
	}
	if err != nil {
		return nil, mapError(err)
	}
	s.publish(AuditTokenRotated, rec)
	s.audit.log(ctx, AuditTokenRotated, req.Peer().Addr, slog.String("access_id", rec.AccessID.String()))
	return connect.NewResponse(&rpc.TokenUpdateResponse{RefreshToken: rec.RefreshToken, AuthToken: rec.AuthToken}), nil
}

func (s *TokenService) UpdateAuthToken(ctx context.Context, req *connect.Request[rpc.TokenUpdate]) (*connect.Response[rpc.TokenUpdateResponse], error) {
	if req.Msg.AuthToken == "" {
		return nil, invalidArgument("auth token is required")
	}
	fn, err := s.rotate(req.Msg)
	if err != nil {
		return nil, err
	}
	group, err := s.opts.Store.UpdateByAuthToken(req.Msg.AuthToken, fn)
	s.opts.Metrics.recordTokenOp("update_auth_token", err)
	if errors.Is(err, store.ErrNotFound) {
		return nil, rpc.NewNotFoundError("auth token", "")
	}
	if err != nil {
		return nil, mapError(err)
	}
	for _, rec := range group {
		s.publish(AuditTokenRotated, rec)
	}
	s.audit.log(ctx, AuditTokenRotated, req.Peer().Addr, slog.Int("tokens", len(group)))
	return connect.NewResponse(&rpc.TokenUpdateResponse{RefreshToken: group[0].RefreshToken, AuthToken: group[0].AuthToken}), nil
}

func (s *TokenService) DeleteAccessToken(ctx context.Context, req *connect.Request[rpc.AccessID]) (*connect.Response[rpc.TokenChangeResponse], error) {
	rec, err := s.opts.Store.Get(req.Msg.AccessID)
	if err == nil {
		err = s.opts.Store.Delete(req.Msg.AccessID)
	}
	s.opts.Metrics.recordTokenOp("delete_access_token", err)
	if errors.Is(err, store.ErrNotFound) {
		return nil, rpc.NewNotFoundError("access token", req.Msg.AccessID.String())
	}
	if err != nil {
		return nil, mapError(err)
	}
	s.publish(AuditTokenRevoked, rec)
	s.audit.log(ctx, AuditTokenRevoked, req.Peer().Addr, slog.String("access_id", rec.AccessID.String()))
	return connect.NewResponse(&rpc.TokenChangeResponse{}), nil
}

func (s *TokenService) DeleteAuthToken(ctx context.Context, req *connect.Request[rpc.AuthToken]) (*connect.Response[rpc.TokenChangeResponse], error) {
	group, err := s.opts.Store.ListByAuthToken(req.Msg.AuthToken)
	if err != nil {
		return nil, mapError(err)
	}
	n, err := s.opts.Store.DeleteByAuthToken(req.Msg.AuthToken)
	s.opts.Metrics.recordTokenOp("delete_auth_token", err)
	if errors.Is(err, store.ErrNotFound) {
		return nil, rpc.NewNotFoundError("auth token", "")
	}
	if err != nil {
		return nil, mapError(err)
	}
	for _, rec := range group {
		s.publish(AuditTokenRevoked, rec)
	}
	s.audit.log(ctx, AuditTokenRevoked, req.Peer().Addr, slog.Int("tokens", n))
	return connect.NewResponse(&rpc.TokenChangeResponse{}), nil
}

func (s *TokenService) DeleteTokenByUser(ctx context.Context, req *connect.Request[rpc.UserID]) (*connect.Response[rpc.TokenChangeResponse], error) {
	if req.Msg.UserID.IsZero() {
		return nil, invalidArgument("user id is required")
	}
	group, err := s.opts.Store.ListByUser(req.Msg.UserID)
	if err != nil {
		return nil, mapError(err)
	}
	n, err := s.opts.Store.DeleteByUser(req.Msg.UserID)
	s.opts.Metrics.recordTokenOp("delete_token_by_user", err)
	if err != nil {
		return nil, mapError(err)
	}
	for _, rec := range group {
		s.publish(AuditTokenRevoked, rec)
	}
	s.audit.log(ctx, AuditTokenRevoked, req.Peer().Addr,
		slog.String("user_id", req.Msg.UserID.String()),
		slog.Int("tokens", n),
	)
	return connect.NewResponse(&rpc.TokenChangeResponse{}), nil
}
