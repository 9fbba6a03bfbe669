// Package server hosts the reference auth server: the AuthService and
// TokenService connect handlers, a token event stream and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nhirsama/rmcs-client/internal/service"
	"github.com/nhirsama/rmcs-client/internal/store"
	"github.com/nhirsama/rmcs-client/pkg"
	"github.com/nhirsama/rmcs-client/pkg/auth"
	"github.com/nhirsama/rmcs-client/pkg/policy"
	"github.com/nhirsama/rmcs-client/pkg/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/r3labs/sse/v2"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// EventStream is the SSE stream token events are published on.
const EventStream = "tokens"

const sweepInterval = time.Minute

type Server struct {
	cfg       *pkg.ServerConfig
	store     store.Store
	keys      *auth.TransportKeys
	authSvc   *service.AuthService
	tokenSvc  *service.TokenService
	bearer    *service.Bearer
	sseServer *sse.Server
	registry  *prometheus.Registry
	logger    *slog.Logger
	handler   http.Handler
}

type Option func(*options)

type options struct {
	logger     *slog.Logger
	store      store.Store
	hashLimits service.HashParams
	now        func() time.Time
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStore overrides the store selected by the configuration.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithHashLimits sets the highest argon2 cost accepted from the directory.
func WithHashLimits(p service.HashParams) Option {
	return func(o *options) { o.hashLimits = p }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds a server from a validated configuration.
func New(cfg *pkg.ServerConfig, opts ...Option) (*Server, error) {
	o := options{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rotation, err := cfg.RotationPolicy()
	if err != nil {
		return nil, err
	}
	dir, err := directoryFrom(cfg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		store:    o.store,
		registry: prometheus.NewRegistry(),
		logger:   o.logger.With("component", "server"),
	}
	if s.store == nil {
		if s.store, err = openStore(cfg); err != nil {
			return nil, err
		}
	}
	for _, r := range cfg.Roles {
		profiles := dir.Profiles(r.ID)
		fields := make([]string, 0, len(profiles))
		for _, p := range profiles {
			fields = append(fields, p.Name+":"+p.Mode.String())
		}
		s.logger.Debug("角色已加载", "role", r.Name, "multi", r.Multi, "ip_lock", r.IPLock, "profiles", fields)
	}
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s.sseServer = sse.New()
	s.sseServer.EventTTL = time.Hour
	s.sseServer.BufferSize = 64
	s.sseServer.AutoReplay = false
	s.sseServer.CreateStream(EventStream)

	s.keys = auth.NewTransportKeys(cfg.TransportKeyBits, time.Duration(cfg.TransportKeyTTL))
	svcOpts := service.Options{
		Store:      s.store,
		Directory:  dir,
		Keys:       s.keys,
		AuthApi:    cfg.AuthApi,
		Rotation:   rotation,
		HashLimits: o.hashLimits,
		Events:     &ssePublisher{server: s.sseServer, logger: s.logger},
		Metrics:    service.NewMetrics(s.registry),
		Logger:     o.logger,
		Now:        o.now,
	}
	s.authSvc = service.NewAuthService(svcOpts)
	s.tokenSvc = service.NewTokenService(svcOpts)
	s.bearer = service.NewBearer(dir, s.store, o.now)
	s.handler = h2c.NewHandler(s.routes(), &http2.Server{})
	return s, nil
}

func directoryFrom(cfg *pkg.ServerConfig) (*service.Directory, error) {
	apis := make([]service.Api, 0, len(cfg.Apis))
	for _, a := range cfg.Apis {
		apis = append(apis, service.Api{
			ID:           a.ID,
			Name:         a.Name,
			PasswordHash: a.PasswordHash,
			AccessKey:    a.AccessKey,
			RootKey:      a.RootKey,
			Procedures:   a.Procedures,
		})
	}
	roles := make([]policy.Role, 0, len(cfg.Roles))
	for _, r := range cfg.Roles {
		roles = append(roles, r.Role())
	}
	users := make([]service.User, 0, len(cfg.Users))
	for _, u := range cfg.Users {
		users = append(users, service.User{ID: u.ID, Name: u.Name, PasswordHash: u.PasswordHash, Roles: u.Roles})
	}
	dir, err := service.NewDirectory(apis, roles, users)
	if err != nil {
		return nil, err
	}
	for _, p := range cfg.Profiles {
		if err := dir.AddProfiles(service.Profile{RoleID: p.RoleID, Name: p.Name, Mode: p.Mode}); err != nil {
			return nil, err
		}
	}
	return dir, nil
}

func openStore(cfg *pkg.ServerConfig) (store.Store, error) {
	if cfg.Store == "memory" {
		return store.NewMemory(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("无法创建目录 %s: %w", cfg.DataDir, err)
	}
	path := filepath.Join(cfg.DataDir, "tokens.db")
	s, err := store.OpenBolt(path, nil)
	if err != nil {
		return nil, fmt.Errorf("打开令牌存储失败 %s: %w", path, err)
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	authPath, authHandler := rpc.NewAuthServiceHandler(s.authSvc)
	r.Handle(authPath+"*", authHandler)

	tokenPath, tokenHandler := rpc.NewTokenServiceHandler(s.tokenSvc, connect.WithInterceptors(s.tokenSvc.Interceptor()))
	r.Handle(tokenPath+"*", tokenHandler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.HandleFunc("/events", s.serveEvents)
	return r
}

// Handler returns the server's root handler, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Registry exposes the server's metrics registry.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// serveEvents streams token events to holders of an auth API bearer token.
// Browsers cannot set headers on an EventSource, so the token may also be
// passed as the token query parameter.
func (s *Server) serveEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	token, ok := auth.BearerToken(r.Header)
	if !ok {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var peer netip.Addr
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		peer = ap.Addr()
	}
	if _, err := s.bearer.Authorize(token, s.cfg.AuthApi, "/events", peer); err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	q.Set("stream", EventStream)
	r.URL.RawQuery = q.Encode()
	s.sseServer.ServeHTTP(w, r)
}

// Run serves on cfg.Listen until ctx is canceled, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("服务端启动", "addr", s.cfg.Listen, "store", s.cfg.Store)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.authSvc.Sweep()
		case err := <-errCh:
			s.logger.Error("服务启动失败", "err", err)
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			// sse 连接不会自行结束，先关闭事件流再等待 HTTP 请求退出
			s.sseServer.Close()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			s.logger.Info("服务端已停止")
			return nil
		}
	}
}

// Close releases the event stream, the transport keys and the store.
func (s *Server) Close() error {
	s.sseServer.Close()
	s.keys.Close()
	return s.store.Close()
}

// ssePublisher forwards token events to the SSE stream as JSON.
type ssePublisher struct {
	server *sse.Server
	logger *slog.Logger
}

func (p *ssePublisher) Publish(ev service.TokenEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("encode token event", "err", err)
		return
	}
	p.server.TryPublish(EventStream, &sse.Event{Event: []byte(ev.Event), Data: data})
}
