package token_test

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/nhirsama/rmcs-client/internal/client"
	"github.com/nhirsama/rmcs-client/internal/server/servertest"
	"github.com/nhirsama/rmcs-client/pkg"
	"github.com/nhirsama/rmcs-client/pkg/auth"
	"github.com/nhirsama/rmcs-client/pkg/id"
	"github.com/nhirsama/rmcs-client/pkg/rpc"
	"github.com/nhirsama/rmcs-client/pkg/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, mutate ...func(*pkg.ServerConfig)) (*token.Manager, *auth.Session) {
	t.Helper()
	f := servertest.Start(t, mutate...)
	cfg := pkg.DefaultClientConfig()
	cfg.ServerURL = f.URL
	conn, err := client.NewServerConnection(cfg)
	require.NoError(t, err)
	s, err := conn.Login(context.Background(), servertest.Admin, auth.NewCredential(f.Password))
	require.NoError(t, err)
	m, err := conn.Tokens(s, f.AuthApi)
	require.NoError(t, err)
	return m, s
}

func TestCreateAuthTokenBatch(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()
	expire := time.Now().Add(time.Hour)

	issued, err := m.CreateAuthToken(ctx, s.UserID(), expire, netip.Addr{}, 3)
	require.NoError(t, err)
	require.Len(t, issued, 3)

	seen := make(map[id.ID]bool)
	for _, i := range issued {
		assert.False(t, seen[i.AccessID])
		seen[i.AccessID] = true
		assert.Equal(t, issued[0].AuthToken, i.AuthToken)
		assert.NotEmpty(t, i.RefreshToken)
	}

	list, err := m.ListAuthToken(ctx, issued[0].AuthToken)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	all, err := m.ListTokenByUser(ctx, s.UserID())
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestCreateMixedBatchForUser(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	expire := time.Now().Add(time.Hour)
	user := id.New()

	single, err := m.CreateAccessToken(ctx, user, "", expire, netip.Addr{})
	require.NoError(t, err)
	batch, err := m.CreateAuthToken(ctx, user, expire, netip.Addr{}, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	ids := map[id.ID]bool{single.AccessID: true}
	refresh := map[string]bool{single.RefreshToken: true}
	for _, b := range batch {
		ids[b.AccessID] = true
		refresh[b.RefreshToken] = true
	}
	assert.Len(t, ids, 3)
	assert.Len(t, refresh, 3)

	list, err := m.ListTokenByUser(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for _, tok := range list {
		assert.True(t, ids[tok.AccessID])
		assert.Equal(t, user, tok.UserID)
	}
}

func TestCreateAccessTokenJoinsGroup(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()
	expire := time.Now().Add(time.Hour)
	ip := netip.MustParseAddr("10.0.0.7")

	first, err := m.CreateAccessToken(ctx, s.UserID(), "", expire, ip)
	require.NoError(t, err)
	assert.NotEmpty(t, first.AuthToken)
	second, err := m.CreateAccessToken(ctx, s.UserID(), first.AuthToken, expire, netip.Addr{})
	require.NoError(t, err)
	assert.Equal(t, first.AuthToken, second.AuthToken)

	got, err := m.ReadAccessToken(ctx, first.AccessID)
	require.NoError(t, err)
	assert.Equal(t, s.UserID(), got.UserID)
	assert.Equal(t, ip, got.IP)
	assert.WithinDuration(t, expire, got.Expire, time.Millisecond)

	_, err = m.CreateAccessToken(ctx, s.UserID(), "", time.Now().Add(-time.Minute), netip.Addr{})
	assert.ErrorIs(t, err, auth.ErrInvalidArgument)
}

func TestUpdateRotatesRefresh(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()

	issued, err := m.CreateAuthToken(ctx, s.UserID(), time.Now().Add(time.Hour), netip.Addr{}, 2)
	require.NoError(t, err)

	rotated, err := m.UpdateAccessToken(ctx, issued[0].AccessID, token.Update{})
	require.NoError(t, err)
	assert.NotEqual(t, issued[0].RefreshToken, rotated.RefreshToken)
	assert.Equal(t, issued[0].AuthToken, rotated.AuthToken)

	again, err := m.UpdateAccessToken(ctx, issued[0].AccessID, token.Update{})
	require.NoError(t, err)
	assert.NotEqual(t, rotated.RefreshToken, again.RefreshToken)

	group, err := m.UpdateAuthToken(ctx, issued[0].AuthToken, token.Update{})
	require.NoError(t, err)
	assert.Equal(t, issued[0].AuthToken, group.AuthToken)
	list, err := m.ListAuthToken(ctx, issued[0].AuthToken)
	require.NoError(t, err)
	for _, tok := range list {
		assert.NotEqual(t, issued[1].RefreshToken, tok.RefreshToken)
	}
}

// An address-bound token moved to a new address keeps its id and gets a new
// refresh string.
func TestUpdateMovesAddress(t *testing.T) {
	m, s := newManager(t, func(cfg *pkg.ServerConfig) {
		servertest.AdminRole(cfg).IPLock = true
	})
	ctx := context.Background()
	from := netip.MustParseAddr("192.168.0.1")
	to := netip.MustParseAddr("192.168.0.100")

	issued, err := m.CreateAccessToken(ctx, s.UserID(), "", time.Now().Add(time.Hour), from)
	require.NoError(t, err)

	before, err := m.ReadAccessToken(ctx, issued.AccessID)
	require.NoError(t, err)
	assert.Equal(t, from, before.IP)
	assert.Equal(t, []byte{192, 168, 0, 1}, rpc.EncodeIP(before.IP))
	assert.Equal(t, issued.RefreshToken, before.RefreshToken)

	rotated, err := m.UpdateAccessToken(ctx, issued.AccessID, token.Update{IP: to})
	require.NoError(t, err)
	assert.NotEqual(t, issued.RefreshToken, rotated.RefreshToken)

	got, err := m.ReadAccessToken(ctx, issued.AccessID)
	require.NoError(t, err)
	assert.Equal(t, issued.AccessID, got.AccessID)
	assert.Equal(t, to, got.IP)
	assert.Equal(t, rotated.RefreshToken, got.RefreshToken)
}

func TestDeleteRevokes(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()
	expire := time.Now().Add(time.Hour)

	issued, err := m.CreateAuthToken(ctx, s.UserID(), expire, netip.Addr{}, 3)
	require.NoError(t, err)

	require.NoError(t, m.DeleteAccessToken(ctx, issued[0].AccessID))
	_, err = m.ReadAccessToken(ctx, issued[0].AccessID)
	require.ErrorIs(t, err, auth.ErrNotFound)
	var nf *auth.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "access token", nf.Resource)
	assert.Equal(t, issued[0].AccessID.String(), nf.Key)
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	require.NoError(t, m.DeleteAuthToken(ctx, issued[0].AuthToken))
	list, err := m.ListAuthToken(ctx, issued[0].AuthToken)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.ErrorIs(t, m.DeleteAuthToken(ctx, issued[0].AuthToken), auth.ErrNotFound)

	other := id.New()
	_, err = m.CreateAuthToken(ctx, other, expire, netip.Addr{}, 2)
	require.NoError(t, err)
	owned, err := m.ListTokenByUser(ctx, other)
	require.NoError(t, err)
	require.Len(t, owned, 2)

	require.NoError(t, m.DeleteTokenByUser(ctx, other))
	list, err = m.ListTokenByUser(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, list)
	for _, tok := range owned {
		_, err := m.ReadAccessToken(ctx, tok.AccessID)
		assert.ErrorIs(t, err, auth.ErrNotFound, tok.AccessID.String())
	}
}

func TestRevokedBearerRejected(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()

	require.Len(t, s.Tokens(), 1)
	own := s.Tokens()[0]
	require.NoError(t, m.DeleteAccessToken(ctx, own.AccessID))

	_, err := m.ListTokenByUser(ctx, s.UserID())
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

type shortBatch struct {
	rpc.TokenServiceClient
}

func (shortBatch) CreateAuthToken(ctx context.Context, req *connect.Request[rpc.AuthTokenCreate]) (*connect.Response[rpc.AuthTokenCreateResponse], error) {
	return connect.NewResponse(&rpc.AuthTokenCreateResponse{
		Tokens: []rpc.TokenCreateResponse{{AccessID: id.New(), RefreshToken: "r", AuthToken: "a"}},
	}), nil
}

func TestCreateAuthTokenValidation(t *testing.T) {
	m := token.NewManager(shortBatch{})
	ctx := context.Background()
	expire := time.Now().Add(time.Hour)

	_, err := m.CreateAuthToken(ctx, id.New(), expire, netip.Addr{}, 0)
	assert.ErrorIs(t, err, auth.ErrInvalidArgument)
	_, err = m.CreateAuthToken(ctx, id.Nil, expire, netip.Addr{}, 1)
	assert.ErrorIs(t, err, auth.ErrInvalidArgument)
	_, err = m.CreateAuthToken(ctx, id.New(), expire, netip.Addr{}, 3)
	assert.ErrorIs(t, err, auth.ErrProtocol)
}
