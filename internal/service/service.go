// Package service 实现参考服务端的 AuthService 与 TokenService 处理器。
package service

import (
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/nhirsama/rmcs-client/internal/store"
	"github.com/nhirsama/rmcs-client/pkg/auth"
	"github.com/nhirsama/rmcs-client/pkg/id"
	"github.com/nhirsama/rmcs-client/pkg/policy"
)

// Options 把服务与其依赖连接起来。Store、Directory、Keys 与 AuthApi 必填。
type Options struct {
	Store     store.Store
	Directory *Directory
	Keys      auth.TransportKeyProvider
	// AuthApi is the API whose bearer tokens the TokenService accepts.
	AuthApi    id.ID
	Rotation   policy.RotationPolicy
	HashLimits HashParams
	Events     Publisher
	Metrics    *Metrics
	Logger     *slog.Logger
	Now        func() time.Time
}

func (o *Options) defaults() {
	if o.Events == nil {
		o.Events = discard{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.HashLimits == (HashParams{}) {
		o.HashLimits = DefaultHashParams
	}
}

// newSecret returns a random URL-safe string used for refresh and auth
// tokens.
func newSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
