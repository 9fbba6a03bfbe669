package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/nhirsama/rmcs-client/internal/store"
	"github.com/nhirsama/rmcs-client/pkg/auth"
	"github.com/nhirsama/rmcs-client/pkg/id"
	"github.com/nhirsama/rmcs-client/pkg/policy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testHash = HashParams{MemoryKiB: 64, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

type fixture struct {
	dir     *Directory
	authApi Api
	role    policy.Role
	user    User
}

func newFixture(t *testing.T, ipLock bool) fixture {
	t.Helper()
	hash, err := HashPassword([]byte("Adm1n_P4s5w0rd"), testHash)
	require.NoError(t, err)

	authApi := Api{ID: id.New(), Name: "auth", PasswordHash: hash, AccessKey: []byte("0123456789abcdef0123456789abcdef")}
	role := policy.Role{
		ID:              id.New(),
		ApiID:           authApi.ID,
		Name:            "admin",
		Multi:           true,
		IPLock:          ipLock,
		AccessDuration:  time.Hour,
		RefreshDuration: 24 * time.Hour,
		Procedures:      []string{"/rmcs.auth.v1.TokenService/ReadAccessToken"},
	}
	user := User{ID: id.New(), Name: "admin", PasswordHash: hash, Roles: []id.ID{role.ID}}
	dir, err := NewDirectory([]Api{authApi}, []policy.Role{role}, []User{user})
	require.NoError(t, err)
	return fixture{dir: dir, authApi: authApi, role: role, user: user}
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword([]byte("p\u00e4ssword"), testHash)
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$v=19$m=64,t=1,p=1$")

	ok, err := VerifyPassword(hash, []byte("p\u00e4ssword"), testHash)
	require.NoError(t, err)
	assert.True(t, ok)

	// Precomposed and decomposed forms hash the same.
	ok, err = VerifyPassword(hash, []byte("pa\u0308ssword"), testHash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword(hash, []byte("password"), testHash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = VerifyPassword("$argon2i$v=19$m=64,t=1,p=1$c2FsdA$a2V5", []byte("x"), testHash)
	assert.ErrorIs(t, err, ErrInvalidHash)

	expensive, err := HashPassword([]byte("x"), HashParams{MemoryKiB: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)
	_, err = VerifyPassword(expensive, []byte("x"), testHash)
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestDirectoryValidation(t *testing.T) {
	f := newFixture(t, false)

	u, ok := f.dir.UserByName("admin")
	require.True(t, ok)
	assert.Equal(t, f.user.ID, u.ID)

	r, ok := f.dir.RoleFor(f.user.ID, f.authApi.ID)
	require.True(t, ok)
	assert.Equal(t, f.role.ID, r.ID)
	_, ok = f.dir.RoleFor(f.user.ID, id.New())
	assert.False(t, ok)

	_, err := NewDirectory(nil, []policy.Role{f.role}, nil)
	assert.ErrorIs(t, err, ErrDirectory)

	_, err = NewDirectory([]Api{{ID: id.New(), AccessKey: []byte("short")}}, nil, nil)
	assert.ErrorIs(t, err, ErrDirectory)

	_, err = NewDirectory([]Api{{ID: id.New(), AccessKey: f.authApi.AccessKey, RootKey: []byte("short")}}, nil, nil)
	assert.ErrorIs(t, err, ErrDirectory)

	_, err = NewDirectory([]Api{f.authApi}, []policy.Role{f.role}, []User{{ID: id.New(), Name: "x", Roles: []id.ID{id.New()}}})
	assert.ErrorIs(t, err, ErrDirectory)

	second := f.role
	second.ID = id.New()
	_, err = NewDirectory([]Api{f.authApi}, []policy.Role{f.role, second},
		[]User{{ID: id.New(), Name: "x", Roles: []id.ID{f.role.ID, second.ID}}})
	assert.ErrorIs(t, err, ErrDirectory)
}

func TestDirectoryProfiles(t *testing.T) {
	f := newFixture(t, false)

	require.NoError(t, f.dir.AddProfiles(
		Profile{RoleID: f.role.ID, Name: "email", Mode: policy.SingleRequired},
		Profile{RoleID: f.role.ID, Name: "phone", Mode: policy.MultipleOptional},
	))
	profiles := f.dir.Profiles(f.role.ID)
	require.Len(t, profiles, 2)
	assert.True(t, profiles[0].Mode.Required())
	assert.True(t, profiles[1].Mode.Multiple())

	assert.ErrorIs(t, f.dir.AddProfiles(Profile{RoleID: f.role.ID, Name: "email"}), ErrDirectory)
	assert.ErrorIs(t, f.dir.AddProfiles(Profile{RoleID: id.New(), Name: "other"}), ErrDirectory)
	assert.ErrorIs(t, f.dir.AddProfiles(Profile{RoleID: f.role.ID, Name: "bad", Mode: policy.ProfileMode(9)}), policy.ErrUnknownProfileMode)
	assert.Empty(t, f.dir.Profiles(id.New()))
}

func mintFor(t *testing.T, b *Bearer, s store.Store, f fixture, ip netip.Addr, now time.Time) (store.Record, string) {
	t.Helper()
	rec := store.Record{
		AccessID:     id.New(),
		UserID:       f.user.ID,
		ApiID:        f.authApi.ID,
		RefreshToken: newSecret(),
		AuthToken:    newSecret(),
		Expire:       now.Add(time.Hour),
		IP:           ip,
		Created:      now,
	}
	require.NoError(t, s.Create(rec))
	token, err := b.Mint(Claims{
		AccessID: rec.AccessID,
		UserID:   rec.UserID,
		ApiID:    rec.ApiID,
		RoleID:   f.role.ID,
		Expire:   now.Add(time.Minute).UnixMicro(),
	})
	require.NoError(t, err)
	return rec, token
}

func TestBearerAuthorize(t *testing.T) {
	f := newFixture(t, true)
	s := store.NewMemory()
	now := time.Now()
	b := NewBearer(f.dir, s, func() time.Time { return now })
	const read = "/rmcs.auth.v1.TokenService/ReadAccessToken"
	home := netip.MustParseAddr("192.168.0.1")

	rec, token := mintFor(t, b, s, f, home, now)

	c, err := b.Authorize(token, f.authApi.ID, read, home)
	require.NoError(t, err)
	assert.Equal(t, rec.AccessID, c.AccessID)
	assert.NotEmpty(t, c.ID)

	_, err = b.Authorize(token, f.authApi.ID, read, netip.MustParseAddr("192.168.0.100"))
	assert.ErrorIs(t, err, errAddress)

	_, err = b.Authorize(token, f.authApi.ID, "/rmcs.auth.v1.TokenService/DeleteTokenByUser", home)
	assert.ErrorIs(t, err, errProcedure)

	_, err = b.Authorize(token, id.New(), read, home)
	assert.ErrorIs(t, err, errScope)

	tampered := []byte(token)
	tampered[len(tampered)/2] ^= 'A' ^ 'B'
	_, err = b.Authorize(string(tampered), f.authApi.ID, read, home)
	assert.Error(t, err)

	now = now.Add(2 * time.Minute)
	_, err = b.Authorize(token, f.authApi.ID, read, home)
	assert.ErrorIs(t, err, errTokenExpired)
	now = now.Add(-2 * time.Minute)

	require.NoError(t, s.Delete(rec.AccessID))
	_, err = b.Authorize(token, f.authApi.ID, read, home)
	assert.ErrorIs(t, err, errTokenRevoked)
}

func TestBearerTokensAreUnique(t *testing.T) {
	f := newFixture(t, false)
	b := NewBearer(f.dir, store.NewMemory(), nil)
	c := Claims{AccessID: id.New(), UserID: f.user.ID, ApiID: f.authApi.ID, RoleID: f.role.ID, Expire: time.Now().Add(time.Hour).UnixMicro()}

	first, err := b.Mint(c)
	require.NoError(t, err)
	second, err := b.Mint(c)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	parsed, err := b.Parse(first)
	require.NoError(t, err)
	assert.Equal(t, c.AccessID, parsed.AccessID)

	_, err = b.Parse("not-a-token")
	assert.ErrorIs(t, err, errInvalidToken)
}

func TestAuditNamesCaller(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	a := newAuditLogger(logger, nil, time.Now)

	c := Claims{AccessID: id.New(), UserID: id.New()}
	ctx := withClaims(context.Background(), c)
	eventID := a.log(ctx, AuditTokenRevoked, "10.0.0.1:4000")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, eventID, entry["event_id"])
	assert.Equal(t, c.UserID.String(), entry["caller_user_id"])
	assert.Equal(t, c.AccessID.String(), entry["caller_access_id"])

	buf.Reset()
	a.log(context.Background(), AuditLoginFailure, "10.0.0.1:4000")
	entry = nil
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "caller_user_id")
}

func TestPeerAddr(t *testing.T) {
	assert.Equal(t, netip.MustParseAddr("192.168.0.1"), peerAddr("192.168.0.1:5000"))
	assert.Equal(t, netip.MustParseAddr("192.168.0.1"), peerAddr("[::ffff:192.168.0.1]:5000"))
	assert.Equal(t, netip.MustParseAddr("::1"), peerAddr("[::1]:80"))
	assert.False(t, peerAddr("pipe").IsValid())
}

func TestLoginLimiter(t *testing.T) {
	now := time.Now()
	l := newLoginLimiter(func() time.Time { return now })

	for range maxFailures - 1 {
		l.recordFailure("user:admin")
	}
	blocked, _ := l.check("user:admin")
	assert.False(t, blocked)

	l.recordFailure("user:admin")
	blocked, retry := l.check("user:admin")
	assert.True(t, blocked)
	assert.Equal(t, baseLockout, retry)

	l.recordFailure("user:admin")
	_, retry = l.check("user:admin")
	assert.Equal(t, 2*baseLockout, retry)

	now = now.Add(attemptExpiry + time.Second)
	l.sweep()
	blocked, _ = l.check("user:admin")
	assert.False(t, blocked)

	l.recordFailure("user:other")
	l.recordSuccess("user:other")
	assert.Empty(t, l.attempts)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err  error
		code connect.Code
	}{
		{errBadCredentials, connect.CodeUnauthenticated},
		{errRefreshRejected, connect.CodeUnauthenticated},
		{errTokenRevoked, connect.CodeUnauthenticated},
		{errAddress, connect.CodePermissionDenied},
		{errScope, connect.CodePermissionDenied},
		{errRateLimited, connect.CodeResourceExhausted},
		{auth.ErrTransportKeyMissing, connect.CodeFailedPrecondition},
		{auth.ErrDecrypt, connect.CodeInvalidArgument},
		{store.ErrNotFound, connect.CodeNotFound},
		{errors.New("disk on fire"), connect.CodeInternal},
	}
	for _, c := range cases {
		assert.Equal(t, c.code, connect.CodeOf(mapError(c.err)), "%v", c.err)
	}

	internal := mapError(errors.New("disk on fire"))
	assert.NotContains(t, internal.Error(), "disk")
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.recordAudit(AuditLoginFailure)
	m.recordAudit(AuditLoginFailure)
	m.recordRefresh(nil)
	m.recordTokenOp("read_access_token", errors.New("x"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.audit.WithLabelValues(string(AuditLoginFailure))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refresh.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenOps.WithLabelValues("read_access_token", "error")))

	var nilMetrics *Metrics
	nilMetrics.recordAudit(AuditLogout)
}
