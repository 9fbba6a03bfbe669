package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"connectrpc.com/connect"
	"github.com/nhirsama/rmcs-client/internal/store"
	"github.com/nhirsama/rmcs-client/pkg/auth"
	"github.com/nhirsama/rmcs-client/pkg/id"
	"github.com/nhirsama/rmcs-client/pkg/rpc"
	"github.com/oklog/ulid/v2"
)

// Claims is the payload of a bearer token. The token is
// base64url(CBOR(claims) || HMAC-SHA256(claims)) keyed with the access key
// of the API it is scoped to.
type Claims struct {
	ID       string `cbor:"1,keyasint"`
	AccessID id.ID  `cbor:"2,keyasint"`
	UserID   id.ID  `cbor:"3,keyasint"`
	ApiID    id.ID  `cbor:"4,keyasint"`
	RoleID   id.ID  `cbor:"5,keyasint"`
	Expire   int64  `cbor:"6,keyasint"`
}

var (
	errMissingBearer = errors.New("missing bearer token")
	errInvalidToken  = errors.New("invalid bearer token")
	errTokenExpired  = errors.New("bearer token expired")
	errTokenRevoked  = errors.New("bearer token revoked")
	errScope         = errors.New("bearer token not valid for this service")
	errProcedure     = errors.New("procedure not permitted for this role")
	errAddress       = errors.New("token bound to another address")
)

// Bearer mints and checks bearer tokens.
type Bearer struct {
	dir   *Directory
	store store.Store
	now   func() time.Time
}

func NewBearer(dir *Directory, s store.Store, now func() time.Time) *Bearer {
	if now == nil {
		now = time.Now
	}
	return &Bearer{dir: dir, store: s, now: now}
}

func (b *Bearer) key(apiID id.ID) ([]byte, error) {
	a, ok := b.dir.Api(apiID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown api %s", errInvalidToken, apiID)
	}
	return a.AccessKey, nil
}

// Mint signs c. A fresh ULID makes every minted token distinct.
func (b *Bearer) Mint(c Claims) (string, error) {
	c.ID = ulid.Make().String()
	key, err := b.key(c.ApiID)
	if err != nil {
		return "", err
	}
	payload, err := rpc.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding claims: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(payload)), nil
}

// Parse checks the signature of token and returns its claims. Expiry is
// not checked; refresh accepts expired access tokens.
func (b *Bearer) Parse(token string) (Claims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) <= sha256.Size {
		return Claims{}, errInvalidToken
	}
	payload, sig := raw[:len(raw)-sha256.Size], raw[len(raw)-sha256.Size:]

	var c Claims
	if err := rpc.Unmarshal(payload, &c); err != nil {
		return Claims{}, errInvalidToken
	}
	key, err := b.key(c.ApiID)
	if err != nil {
		return Claims{}, err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Claims{}, errInvalidToken
	}
	return c, nil
}

// Authorize validates token for a call to procedure on apiID made from
// peer. The backing record must still exist, so revoked tokens stop
// working at once.
func (b *Bearer) Authorize(token string, apiID id.ID, procedure string, peer netip.Addr) (Claims, error) {
	c, err := b.Parse(token)
	if err != nil {
		return Claims{}, err
	}
	now := b.now()
	if !now.Before(rpc.DecodeTime(c.Expire)) {
		return Claims{}, errTokenExpired
	}
	if c.ApiID != apiID {
		return Claims{}, errScope
	}
	rec, err := b.store.Get(c.AccessID)
	if errors.Is(err, store.ErrNotFound) {
		return Claims{}, errTokenRevoked
	}
	if err != nil {
		return Claims{}, err
	}
	if !now.Before(rec.Expire) {
		return Claims{}, errTokenExpired
	}
	role, ok := b.dir.Role(c.RoleID)
	if !ok {
		return Claims{}, errScope
	}
	if !role.AllowsFrom(rec.IP, peer) {
		return Claims{}, errAddress
	}
	if !role.Permits(procedure) {
		return Claims{}, errProcedure
	}
	return c, nil
}

type claimsKey struct{}

func withClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFrom returns the claims of the authorized caller.
func ClaimsFrom(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}

// Interceptor rejects handler calls that do not carry a bearer token valid
// for apiID.
func (b *Bearer) Interceptor(apiID id.ID) connect.Interceptor {
	return connect.UnaryInterceptorFunc(func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if req.Spec().IsClient {
				return next(ctx, req)
			}
			token, ok := auth.BearerToken(req.Header())
			if !ok {
				return nil, mapError(errMissingBearer)
			}
			c, err := b.Authorize(token, apiID, req.Spec().Procedure, peerAddr(req.Peer().Addr))
			if err != nil {
				return nil, mapError(err)
			}
			return next(withClaims(ctx, c), req)
		}
	})
}

// peerAddr parses the "host:port" string connect reports for the peer.
func peerAddr(addr string) netip.Addr {
	if ap, err := netip.ParseAddrPort(addr); err == nil {
		return ap.Addr().Unmap()
	}
	if a, err := netip.ParseAddr(addr); err == nil {
		return a.Unmap()
	}
	return netip.Addr{}
}
