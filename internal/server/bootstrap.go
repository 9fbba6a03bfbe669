package server

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/nhirsama/rmcs-client/internal/service"
	"github.com/nhirsama/rmcs-client/pkg"
	"github.com/nhirsama/rmcs-client/pkg/id"
)

// Bootstrap 为空配置生成认证 API、admin 角色和 admin 用户。返回的明文密码
// 只在此时可见，配置中只保存其哈希。已有 API 的配置不会被修改。
func Bootstrap(cfg *pkg.ServerConfig, params service.HashParams) (password string, err error) {
	if len(cfg.Apis) > 0 {
		return "", nil
	}

	secret := make([]byte, 18)
	rand.Read(secret)
	password = base64.RawURLEncoding.EncodeToString(secret)
	hash, err := service.HashPassword([]byte(password), params)
	if err != nil {
		return "", fmt.Errorf("生成密码哈希失败: %w", err)
	}

	accessKey, rootKey := make([]byte, 32), make([]byte, 32)
	rand.Read(accessKey)
	rand.Read(rootKey)

	apiID, roleID, userID := id.New(), id.New(), id.New()
	cfg.AuthApi = apiID
	cfg.Apis = []pkg.ApiConfig{{
		ID:           apiID,
		Name:         "auth",
		PasswordHash: hash,
		AccessKey:    accessKey,
		RootKey:      rootKey,
	}}
	cfg.Roles = []pkg.RoleConfig{{
		ID:              roleID,
		ApiID:           apiID,
		Name:            "admin",
		Multi:           true,
		AccessDuration:  pkg.Duration(15 * time.Minute),
		RefreshDuration: pkg.Duration(7 * 24 * time.Hour),
	}}
	cfg.Users = []pkg.UserConfig{{
		ID:           userID,
		Name:         "admin",
		PasswordHash: hash,
		Roles:        []id.ID{roleID},
	}}
	return password, nil
}
