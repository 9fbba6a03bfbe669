package pkg

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nhirsama/rmcs-client/pkg/auth"
	"github.com/nhirsama/rmcs-client/pkg/id"
	"github.com/nhirsama/rmcs-client/pkg/policy"
)

var ErrConfig = errors.New("config: invalid configuration")

// Duration 在 JSON 中以 "30s"、"1h" 这样的字符串表示
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// ClientConfig 存放客户端配置
type ClientConfig struct {
	ServerURL      string   `json:"server_url"`
	Username       string   `json:"username,omitempty"`
	ApiID          id.ID    `json:"api_id,omitzero"`
	KeyBits        int      `json:"key_bits"`
	Padding        string   `json:"padding"`
	Timeout        Duration `json:"timeout"`
	KeyringService string   `json:"keyring_service"`
}

func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		ServerURL:      "http://localhost:9975",
		KeyBits:        auth.DefaultKeyBits,
		Padding:        auth.PaddingPKCS1v15.String(),
		Timeout:        Duration(10 * time.Second),
		KeyringService: "rmcs",
	}
}

// ApplyEnv 用 RMCS_* 环境变量覆盖文件中的值
func (c *ClientConfig) ApplyEnv() {
	c.ServerURL = EnvString("RMCS_SERVER_URL", c.ServerURL)
	c.Username = EnvString("RMCS_USERNAME", c.Username)
	if v := EnvString("RMCS_API_ID", ""); v != "" {
		if apiID, err := id.Parse(v); err == nil {
			c.ApiID = apiID
		}
	}
	c.KeyBits = EnvInt("RMCS_KEY_BITS", c.KeyBits)
	c.Padding = EnvString("RMCS_PADDING", c.Padding)
	c.Timeout = Duration(EnvDuration("RMCS_TIMEOUT", time.Duration(c.Timeout)))
	c.KeyringService = EnvString("RMCS_KEYRING_SERVICE", c.KeyringService)
}

func (c *ClientConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("%w: server_url is required", ErrConfig)
	}
	if c.KeyBits < auth.MinKeyBits || c.KeyBits > auth.MaxKeyBits {
		return fmt.Errorf("%w: key_bits %d outside [%d, %d]", ErrConfig, c.KeyBits, auth.MinKeyBits, auth.MaxKeyBits)
	}
	if _, err := auth.ParsePadding(c.Padding); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrConfig)
	}
	return nil
}

type ApiConfig struct {
	ID           id.ID    `json:"id"`
	Name         string   `json:"name"`
	PasswordHash string   `json:"password_hash"`
	AccessKey    []byte   `json:"access_key"`
	RootKey      []byte   `json:"root_key,omitempty"`
	Procedures   []string `json:"procedures,omitempty"`
}

type RoleConfig struct {
	ID              id.ID    `json:"id"`
	ApiID           id.ID    `json:"api_id"`
	Name            string   `json:"name"`
	Multi           bool     `json:"multi"`
	IPLock          bool     `json:"ip_lock"`
	AccessDuration  Duration `json:"access_duration"`
	RefreshDuration Duration `json:"refresh_duration"`
	Procedures      []string `json:"procedures,omitempty"`
}

func (r RoleConfig) Role() policy.Role {
	return policy.Role{
		ID:              r.ID,
		ApiID:           r.ApiID,
		Name:            r.Name,
		Multi:           r.Multi,
		IPLock:          r.IPLock,
		AccessDuration:  time.Duration(r.AccessDuration),
		RefreshDuration: time.Duration(r.RefreshDuration),
		Procedures:      r.Procedures,
	}
}

// ProfileConfig 是角色上的一个资料字段
type ProfileConfig struct {
	RoleID id.ID              `json:"role_id"`
	Name   string             `json:"name"`
	Mode   policy.ProfileMode `json:"mode"`
}

type UserConfig struct {
	ID           id.ID   `json:"id"`
	Name         string  `json:"name"`
	PasswordHash string  `json:"password_hash"`
	Roles        []id.ID `json:"roles"`
}

// ServerConfig 存放参考服务端配置
type ServerConfig struct {
	Listen           string          `json:"listen"`
	DataDir          string          `json:"data_dir"`
	Store            string          `json:"store"`
	TransportKeyBits int             `json:"transport_key_bits"`
	TransportKeyTTL  Duration        `json:"transport_key_ttl"`
	Rotation         string          `json:"rotation"`
	RotationGrace    Duration        `json:"rotation_grace"`
	AuthApi          id.ID           `json:"auth_api"`
	Apis             []ApiConfig     `json:"apis"`
	Roles            []RoleConfig    `json:"roles"`
	Profiles         []ProfileConfig `json:"profiles,omitempty"`
	Users            []UserConfig    `json:"users"`
}

func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Listen:           ":9975",
		DataDir:          "./data",
		Store:            "bbolt",
		TransportKeyBits: auth.DefaultKeyBits,
		TransportKeyTTL:  Duration(auth.DefaultTransportKeyTTL),
		Rotation:         policy.RotationSingleUse.String(),
		RotationGrace:    Duration(policy.DefaultRotationGrace),
	}
}

func (c *ServerConfig) ApplyEnv() {
	c.Listen = EnvString("RMCS_LISTEN", c.Listen)
	c.DataDir = EnvString("RMCS_DATA_DIR", c.DataDir)
	c.Store = EnvString("RMCS_STORE", c.Store)
	c.TransportKeyBits = EnvInt("RMCS_TRANSPORT_KEY_BITS", c.TransportKeyBits)
	c.TransportKeyTTL = Duration(EnvDuration("RMCS_TRANSPORT_KEY_TTL", time.Duration(c.TransportKeyTTL)))
	c.Rotation = EnvString("RMCS_ROTATION", c.Rotation)
	c.RotationGrace = Duration(EnvDuration("RMCS_ROTATION_GRACE", time.Duration(c.RotationGrace)))
}

// RotationPolicy 解析 rotation 与 rotation_grace
func (c *ServerConfig) RotationPolicy() (policy.RotationPolicy, error) {
	mode, err := policy.ParseRotation(c.Rotation)
	if err != nil {
		return policy.RotationPolicy{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return policy.RotationPolicy{Mode: mode, Grace: time.Duration(c.RotationGrace)}, nil
}

func (c *ServerConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%w: listen is required", ErrConfig)
	}
	switch c.Store {
	case "memory":
	case "bbolt":
		if c.DataDir == "" {
			return fmt.Errorf("%w: data_dir is required for the bbolt store", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", ErrConfig, c.Store)
	}
	if c.TransportKeyBits < auth.MinKeyBits || c.TransportKeyBits > auth.MaxKeyBits {
		return fmt.Errorf("%w: transport_key_bits %d outside [%d, %d]", ErrConfig, c.TransportKeyBits, auth.MinKeyBits, auth.MaxKeyBits)
	}
	if c.TransportKeyTTL <= 0 {
		return fmt.Errorf("%w: transport_key_ttl must be positive", ErrConfig)
	}
	if _, err := c.RotationPolicy(); err != nil {
		return err
	}
	if c.AuthApi.IsZero() {
		return fmt.Errorf("%w: auth_api is required", ErrConfig)
	}
	found := false
	for _, a := range c.Apis {
		if a.ID == c.AuthApi {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: auth_api %s is not among apis", ErrConfig, c.AuthApi)
	}
	for _, p := range c.Profiles {
		if p.Name == "" || p.RoleID.IsZero() {
			return fmt.Errorf("%w: profile needs a role_id and a name", ErrConfig)
		}
	}
	return nil
}

// JSONConfigLoader 实现从 JSON 文件加载配置
type JSONConfigLoader struct {
	DataDir  string
	FileName string
}

// NewJSONConfigLoader 创建一个新的 JSONConfigLoader
func NewJSONConfigLoader(fileName string) *JSONConfigLoader {
	return &JSONConfigLoader{
		DataDir:  "./data",
		FileName: fileName,
	}
}

func (l *JSONConfigLoader) Path() string {
	return filepath.Join(l.DataDir, l.FileName)
}

// Load 读取配置到 cfg。文件不存在时先把 cfg 中的默认值写入磁盘，
// 返回的 created 为 true。
func (l *JSONConfigLoader) Load(cfg any) (created bool, err error) {
	configPath := l.Path()

	// 确保目录存在
	if err := os.MkdirAll(l.DataDir, 0o700); err != nil {
		return false, fmt.Errorf("无法创建目录 %s: %w", l.DataDir, err)
	}

	data, err := os.ReadFile(configPath)
	if errors.Is(err, os.ErrNotExist) {
		return true, l.Save(cfg)
	}
	if err != nil {
		return false, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return false, fmt.Errorf("解析 JSON 失败: %w", err)
	}
	return false, nil
}

// Save 保存配置到文件
func (l *JSONConfigLoader) Save(cfg any) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	if err := os.WriteFile(l.Path(), data, 0o600); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}

// LoadClientConfig 读取 client.json，应用环境变量并校验
func LoadClientConfig(l *JSONConfigLoader) (*ClientConfig, error) {
	cfg := DefaultClientConfig()
	if _, err := l.Load(cfg); err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadServerConfig 读取 server.json 并应用环境变量。目录为空时由调用方
// 初始化，所以这里不做校验。
func LoadServerConfig(l *JSONConfigLoader) (*ServerConfig, bool, error) {
	cfg := DefaultServerConfig()
	created, err := l.Load(cfg)
	if err != nil {
		return nil, false, err
	}
	cfg.ApplyEnv()
	return cfg, created, nil
}
