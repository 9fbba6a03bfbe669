// Package servertest starts an in-process reference server for tests.
package servertest

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/nhirsama/rmcs-client/internal/server"
	"github.com/nhirsama/rmcs-client/internal/service"
	"github.com/nhirsama/rmcs-client/pkg"
	"github.com/nhirsama/rmcs-client/pkg/auth"
	"github.com/nhirsama/rmcs-client/pkg/id"
)

// Hash is a cheap argon2 cost for tests.
var Hash = service.HashParams{MemoryKiB: 64, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

const Admin = "admin"

type Fixture struct {
	Server   *server.Server
	HTTP     *httptest.Server
	URL      string
	Config   *pkg.ServerConfig
	Password string
	AuthApi  id.ID
}

// Start bootstraps an in-memory server. Each mutate runs on the bootstrapped
// configuration before the server is built.
func Start(t testing.TB, mutate ...func(*pkg.ServerConfig)) *Fixture {
	t.Helper()
	cfg := pkg.DefaultServerConfig()
	cfg.Store = "memory"
	cfg.TransportKeyBits = auth.MinKeyBits
	password, err := server.Bootstrap(cfg, Hash)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	for _, m := range mutate {
		m(cfg)
	}

	srv, err := server.New(cfg,
		server.WithHashLimits(Hash),
		server.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return &Fixture{
		Server:   srv,
		HTTP:     ts,
		URL:      ts.URL,
		Config:   cfg,
		Password: password,
		AuthApi:  cfg.AuthApi,
	}
}

// HashPassword hashes with the test cost.
func HashPassword(t testing.TB, password string) string {
	t.Helper()
	h, err := service.HashPassword([]byte(password), Hash)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return h
}

// AddApi appends an API with the given password and fixed access and root keys.
func AddApi(t testing.TB, cfg *pkg.ServerConfig, name, password string) pkg.ApiConfig {
	t.Helper()
	a := pkg.ApiConfig{
		ID:           id.New(),
		Name:         name,
		PasswordHash: HashPassword(t, password),
		AccessKey:    []byte(name + "-access-key-0123456789"),
		RootKey:      []byte(name + "-root-key-0123456789"),
		Procedures:   []string{"/" + name + ".v1.Service/Get"},
	}
	cfg.Apis = append(cfg.Apis, a)
	return a
}

// AdminRole returns the bootstrapped admin role.
func AdminRole(cfg *pkg.ServerConfig) *pkg.RoleConfig {
	return &cfg.Roles[0]
}
