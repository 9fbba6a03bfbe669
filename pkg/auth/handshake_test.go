package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/nhirsama/rmcs-client/pkg/id"
	"github.com/nhirsama/rmcs-client/pkg/rpc"
)

// fakeAuthServer is a minimal AuthService backed by TransportKeys.
type fakeAuthServer struct {
	keys      *TransportKeys
	password  string
	userID    id.ID
	apiID     id.ID
	accessKey []byte
	rootKey   []byte

	// serverKey, when set, is returned instead of an issued key.
	serverKey []byte

	logins     atomic.Int32
	lastHeader atomic.Value
}

func newFakeAuthServer(t *testing.T) *fakeAuthServer {
	t.Helper()
	keys := NewTransportKeys(testKeyBits, time.Minute)
	t.Cleanup(keys.Close)
	return &fakeAuthServer{
		keys:      keys,
		password:  "Adm1n_P4s5w0rd",
		userID:    id.New(),
		apiID:     id.New(),
		accessKey: []byte("api-access-key-0123456789"),
		rootKey:   []byte("api-root-key-0123456789"),
	}
}

func (f *fakeAuthServer) issue(principal string) (*connect.Response[rpc.LoginKeyResponse], error) {
	if f.serverKey != nil {
		return connect.NewResponse(&rpc.LoginKeyResponse{PublicKey: f.serverKey}), nil
	}
	der, err := f.keys.Issue(principal)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&rpc.LoginKeyResponse{PublicKey: der}), nil
}

func (f *fakeAuthServer) open(principal string, sealed []byte, padding uint8) error {
	plain, err := f.keys.Open(principal, sealed, Padding(padding))
	if errors.Is(err, ErrTransportKeyMissing) {
		return connect.NewError(connect.CodeFailedPrecondition, err)
	}
	if err != nil {
		return connect.NewError(connect.CodeInvalidArgument, err)
	}
	if subtle.ConstantTimeCompare(plain, []byte(f.password)) != 1 {
		return connect.NewError(connect.CodeUnauthenticated, errors.New("wrong username or password"))
	}
	return nil
}

func (f *fakeAuthServer) UserLoginKey(_ context.Context, req *connect.Request[rpc.UserKeyRequest]) (*connect.Response[rpc.LoginKeyResponse], error) {
	return f.issue("user:" + req.Msg.Username)
}

func (f *fakeAuthServer) ApiLoginKey(_ context.Context, req *connect.Request[rpc.ApiKeyRequest]) (*connect.Response[rpc.LoginKeyResponse], error) {
	return f.issue("api:" + req.Msg.ApiID.String())
}

func (f *fakeAuthServer) UserLogin(_ context.Context, req *connect.Request[rpc.UserLoginRequest]) (*connect.Response[rpc.UserLoginResponse], error) {
	f.logins.Add(1)
	if err := f.open("user:"+req.Msg.Username, req.Msg.Password, req.Msg.Padding); err != nil {
		return nil, err
	}
	return connect.NewResponse(&rpc.UserLoginResponse{
		UserID:    f.userID,
		AuthToken: "auth-" + req.Msg.Username,
		AccessTokens: []rpc.AccessTokenMap{{
			ApiID:        f.apiID,
			AccessID:     id.New(),
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			Expire:       rpc.EncodeTime(time.Now().Add(time.Hour)),
		}},
	}), nil
}

func (f *fakeAuthServer) ApiLogin(_ context.Context, req *connect.Request[rpc.ApiLoginRequest]) (*connect.Response[rpc.ApiLoginResponse], error) {
	f.logins.Add(1)
	if err := f.open("api:"+req.Msg.ApiID.String(), req.Msg.Password, req.Msg.Padding); err != nil {
		return nil, err
	}
	pub, err := ImportPublicKey(req.Msg.PublicKey)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	res := &rpc.ApiLoginResponse{Procedures: []string{rpc.TokenServiceReadAccessTokenProcedure}}
	if res.AccessKey, err = Encrypt(f.accessKey, pub, Padding(req.Msg.Padding)); err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if f.rootKey != nil {
		if res.RootKey, err = Encrypt(f.rootKey, pub, Padding(req.Msg.Padding)); err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
	}
	return connect.NewResponse(res), nil
}

func (f *fakeAuthServer) UserRefresh(_ context.Context, req *connect.Request[rpc.UserRefreshRequest]) (*connect.Response[rpc.UserRefreshResponse], error) {
	if req.Msg.RefreshToken != "refresh-1" {
		return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("refresh token rejected"))
	}
	return connect.NewResponse(&rpc.UserRefreshResponse{AccessToken: "access-2", RefreshToken: "refresh-2"}), nil
}

func (f *fakeAuthServer) UserLogout(_ context.Context, req *connect.Request[rpc.UserLogoutRequest]) (*connect.Response[rpc.UserLogoutResponse], error) {
	f.lastHeader.Store(req.Header().Get(AuthorizationHeader))
	if req.Msg.UserID != f.userID {
		return nil, rpc.NewNotFoundError("user", req.Msg.UserID.String())
	}
	return connect.NewResponse(&rpc.UserLogoutResponse{}), nil
}

func startFake(t *testing.T, f *fakeAuthServer, opts ...connect.ClientOption) rpc.AuthServiceClient {
	t.Helper()
	path, handler := rpc.NewAuthServiceHandler(f)
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return rpc.NewAuthServiceClient(srv.Client(), srv.URL, opts...)
}

func TestUserLogin(t *testing.T) {
	for _, p := range []Padding{PaddingPKCS1v15, PaddingOAEP} {
		t.Run(p.String(), func(t *testing.T) {
			f := newFakeAuthServer(t)
			issued := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
			h := NewHandshake(startFake(t, f), WithPadding(p), WithClock(func() time.Time { return issued }))

			cred := NewCredential(f.password)
			s, err := h.UserLogin(context.Background(), "admin", cred)
			if err != nil {
				t.Fatalf("UserLogin failed: %v", err)
			}
			if cred.Len() != 0 {
				t.Fatal("credential not destroyed after login")
			}
			if s.UserID() != f.userID || s.AuthToken() != "auth-admin" || !s.IssuedAt().Equal(issued) {
				t.Fatalf("unexpected session %+v", s)
			}
			tok, ok := s.Token(f.apiID)
			if !ok {
				t.Fatal("session has no token for the API")
			}
			if tok.AccessToken == "" || tok.RefreshToken == "" || !tok.Expire.After(time.Now()) {
				t.Fatalf("unexpected token %+v", tok)
			}
			if f.keys.Pending() != 0 {
				t.Fatal("transport key left behind after login")
			}
		})
	}
}

func TestUserLoginWrongPassword(t *testing.T) {
	f := newFakeAuthServer(t)
	h := NewHandshake(startFake(t, f))

	_, err := h.UserLogin(context.Background(), "admin", NewCredential("wrong"))
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if connect.CodeOf(err) != connect.CodeUnauthenticated {
		t.Fatalf("connect error dropped from chain: %v", err)
	}
	if !strings.Contains(err.Error(), StateAwaitingServerResponse.String()) {
		t.Fatalf("error does not name the failing step: %v", err)
	}
}

func TestUserLoginMalformedServerKey(t *testing.T) {
	f := newFakeAuthServer(t)
	f.serverKey = []byte("definitely not DER")
	h := NewHandshake(startFake(t, f))

	cred := NewCredential(f.password)
	_, err := h.UserLogin(context.Background(), "admin", cred)
	if !errors.Is(err, ErrKeyImport) {
		t.Fatalf("expected ErrKeyImport, got %v", err)
	}
	if f.logins.Load() != 0 {
		t.Fatal("login request sent despite invalid server key")
	}
	if cred.Len() != 0 {
		t.Fatal("credential survived failed login")
	}
}

func TestUserLoginSecretTooLong(t *testing.T) {
	f := newFakeAuthServer(t)
	h := NewHandshake(startFake(t, f))

	_, err := h.UserLogin(context.Background(), "admin", NewCredential(strings.Repeat("x", 200)))
	if !errors.Is(err, ErrEncrypt) {
		t.Fatalf("expected ErrEncrypt, got %v", err)
	}
	if f.logins.Load() != 0 {
		t.Fatal("login request sent for unencryptable secret")
	}
}

func TestUserLoginUnknownTransportKey(t *testing.T) {
	f := newFakeAuthServer(t)
	other := mustKeyPair(t)
	defer other.Destroy()
	f.serverKey, _ = other.ExportPublicKey()
	h := NewHandshake(startFake(t, f))

	_, err := h.UserLogin(context.Background(), "admin", NewCredential(f.password))
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestUserLoginCanceled(t *testing.T) {
	f := newFakeAuthServer(t)
	h := NewHandshake(startFake(t, f))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cred := NewCredential(f.password)
	_, err := h.UserLogin(ctx, "admin", cred)
	if !errors.Is(err, ErrTransport) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled transport error, got %v", err)
	}
	if cred.Len() != 0 {
		t.Fatal("credential survived canceled login")
	}
}

func TestApiLogin(t *testing.T) {
	for _, p := range []Padding{PaddingPKCS1v15, PaddingOAEP} {
		t.Run(p.String(), func(t *testing.T) {
			f := newFakeAuthServer(t)
			h := NewHandshake(startFake(t, f), WithKeyBits(testKeyBits), WithPadding(p))

			key, err := h.ApiLogin(context.Background(), f.apiID, NewCredential(f.password))
			if err != nil {
				t.Fatalf("ApiLogin failed: %v", err)
			}
			if string(key.AccessKey()) != string(f.accessKey) {
				t.Fatalf("AccessKey() = %q", key.AccessKey())
			}
			if string(key.RootKey()) != string(f.rootKey) {
				t.Fatalf("RootKey() = %q", key.RootKey())
			}
			if len(key.Procedures) != 1 || key.ApiID != f.apiID {
				t.Fatalf("unexpected key metadata %+v", key)
			}
			key.Destroy()
			if key.AccessKey() != nil || key.RootKey() != nil {
				t.Fatal("key material readable after Destroy")
			}
		})
	}
}

func TestApiLoginWithoutRootKey(t *testing.T) {
	f := newFakeAuthServer(t)
	f.rootKey = nil
	h := NewHandshake(startFake(t, f), WithKeyBits(testKeyBits))

	key, err := h.ApiLogin(context.Background(), f.apiID, NewCredential(f.password))
	if err != nil {
		t.Fatalf("ApiLogin failed: %v", err)
	}
	defer key.Destroy()
	if key.RootKey() != nil {
		t.Fatalf("RootKey() = %q, want nil", key.RootKey())
	}
	if string(key.AccessKey()) != string(f.accessKey) {
		t.Fatalf("AccessKey() = %q", key.AccessKey())
	}
}

func TestLoginWithDestroyedCredential(t *testing.T) {
	f := newFakeAuthServer(t)
	h := NewHandshake(startFake(t, f), WithKeyBits(testKeyBits))

	cred := NewCredential(f.password)
	cred.Destroy()
	if _, err := h.UserLogin(context.Background(), "admin", cred); !errors.Is(err, ErrEncrypt) {
		t.Fatalf("expected ErrEncrypt, got %v", err)
	}
	if n := f.logins.Load(); n != 0 {
		t.Fatalf("server saw %d login attempts", n)
	}
}

func TestApiLoginRejectsWrongPassword(t *testing.T) {
	f := newFakeAuthServer(t)
	h := NewHandshake(startFake(t, f), WithKeyBits(testKeyBits))

	if _, err := h.ApiLogin(context.Background(), f.apiID, NewCredential("nope")); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestSessionRefreshLeavesOriginal(t *testing.T) {
	f := newFakeAuthServer(t)
	h := NewHandshake(startFake(t, f))

	s, err := h.UserLogin(context.Background(), "admin", NewCredential(f.password))
	if err != nil {
		t.Fatal(err)
	}
	next, err := s.Refresh(context.Background(), h, f.apiID)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	old, _ := s.Token(f.apiID)
	renewed, _ := next.Token(f.apiID)
	if old.RefreshToken != "refresh-1" || renewed.RefreshToken != "refresh-2" || renewed.AccessToken != "access-2" {
		t.Fatalf("old=%+v renewed=%+v", old, renewed)
	}
	if renewed.AccessID != old.AccessID {
		t.Fatal("refresh changed the access id")
	}

	if _, err := next.Refresh(context.Background(), h, f.apiID); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for stale refresh token, got %v", err)
	}
	if _, err := s.Refresh(context.Background(), h, id.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown API, got %v", err)
	}
}

func TestUserRefreshValidatesInput(t *testing.T) {
	h := NewHandshake(startFake(t, newFakeAuthServer(t)))
	if _, err := h.UserRefresh(context.Background(), id.New(), "", "r"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestInterceptorAttachesBearer(t *testing.T) {
	f := newFakeAuthServer(t)
	plain := NewHandshake(startFake(t, f))
	s, err := plain.UserLogin(context.Background(), "admin", NewCredential(f.password))
	if err != nil {
		t.Fatal(err)
	}

	ic, err := s.Interceptor(f.apiID)
	if err != nil {
		t.Fatal(err)
	}
	h := NewHandshake(startFake(t, f, ic.ClientOption()))
	if err := h.UserLogout(context.Background(), s); err != nil {
		t.Fatalf("UserLogout failed: %v", err)
	}
	if got := f.lastHeader.Load(); got != "Bearer access-1" {
		t.Fatalf("Authorization = %v", got)
	}

	if _, err := s.Interceptor(id.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLogoutUnknownUserIsNotFound(t *testing.T) {
	f := newFakeAuthServer(t)
	h := NewHandshake(startFake(t, f))

	err := h.UserLogout(context.Background(), NewSession(id.New(), "auth", nil, time.Now()))
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected *NotFoundError, got %v", err)
	}
	if nf.Resource != "user" {
		t.Fatalf("Resource = %q", nf.Resource)
	}
}

func TestFromRPC(t *testing.T) {
	cases := []struct {
		code connect.Code
		want error
	}{
		{connect.CodeUnauthenticated, ErrUnauthenticated},
		{connect.CodePermissionDenied, ErrPermissionDenied},
		{connect.CodeNotFound, ErrNotFound},
		{connect.CodeInvalidArgument, ErrInvalidArgument},
		{connect.CodeFailedPrecondition, ErrProtocol},
		{connect.CodeResourceExhausted, ErrRateLimited},
		{connect.CodeUnavailable, ErrTransport},
	}
	for _, c := range cases {
		err := FromRPC(connect.NewError(c.code, errors.New("boom")))
		if !errors.Is(err, c.want) {
			t.Errorf("%v: got %v, want %v", c.code, err, c.want)
		}
	}
	if FromRPC(nil) != nil {
		t.Error("FromRPC(nil) != nil")
	}
	if err := FromRPC(context.DeadlineExceeded); !errors.Is(err, ErrTransport) {
		t.Errorf("deadline: got %v", err)
	}
}
