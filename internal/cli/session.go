package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nhirsama/rmcs-client/internal/client"
	"github.com/nhirsama/rmcs-client/pkg"
	"github.com/nhirsama/rmcs-client/pkg/auth"
	"github.com/nhirsama/rmcs-client/pkg/id"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	usernameFlag string
	apiFlag      string
)

// clientEnv 是客户端命令共用的配置、连接与会话缓存
type clientEnv struct {
	cfg   *pkg.ClientConfig
	conn  *client.ServerConnection
	cache *client.SessionCache
}

func newClientEnv() (*clientEnv, error) {
	cfg, err := pkg.LoadClientConfig(loader("client.json"))
	if err != nil {
		return nil, err
	}
	if usernameFlag != "" {
		cfg.Username = usernameFlag
	}
	conn, err := client.NewServerConnection(cfg, client.WithLogger(slog.Default()))
	if err != nil {
		return nil, err
	}
	cache, err := client.OpenSessionCache(cfg.KeyringService)
	if err != nil {
		return nil, err
	}
	return &clientEnv{cfg: cfg, conn: conn, cache: cache}, nil
}

func (e *clientEnv) username() (string, error) {
	if e.cfg.Username == "" {
		return "", errors.New("username is required (--username or client.json)")
	}
	return e.cfg.Username, nil
}

func (e *clientEnv) session() (*auth.Session, error) {
	name, err := e.username()
	if err != nil {
		return nil, err
	}
	s, err := e.cache.Load(e.conn.BaseURL(), name)
	if errors.Is(err, client.ErrNoSession) {
		return nil, fmt.Errorf("no session for %s, run rmcs login first", name)
	}
	return s, err
}

// apiID 返回 --api 指定的 API，否则使用配置中的 api_id
func (e *clientEnv) apiID() (id.ID, error) {
	if apiFlag != "" {
		return id.Parse(apiFlag)
	}
	if e.cfg.ApiID.IsZero() {
		return id.Nil, errors.New("api id is required (--api or client.json)")
	}
	return e.cfg.ApiID, nil
}

func (e *clientEnv) timeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(e.cfg.Timeout))
}

// readSecret 在终端上关闭回显读取密码，非终端时读取标准输入的一行
func readSecret(prompt string) ([]byte, error) {
	if v := os.Getenv("RMCS_PASSWORD"); v != "" {
		return []byte(v), nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadBytes('\n')
		if err != nil && len(line) == 0 {
			return nil, fmt.Errorf("reading password: %w", err)
		}
		return bytes.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	return b, nil
}

func readPassword(prompt string) (*auth.Credential, error) {
	b, err := readSecret(prompt)
	if err != nil {
		return nil, err
	}
	return auth.NewCredentialBytes(b), nil
}

func printSession(cmd *cobra.Command, s *auth.Session) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "user_id\t%s\n", s.UserID())
	for _, t := range s.Tokens() {
		fmt.Fprintf(out, "api %s\taccess_id %s\texpires %s\n", t.ApiID, t.AccessID, t.Expire.Local().Format(time.RFC3339))
	}
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in as a user and cache the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newClientEnv()
		if err != nil {
			return err
		}
		name, err := env.username()
		if err != nil {
			return err
		}
		password, err := readPassword("Password: ")
		if err != nil {
			return err
		}
		ctx, cancel := env.timeout()
		defer cancel()
		s, err := env.conn.Login(ctx, name, password)
		if err != nil {
			return err
		}
		if err := env.cache.Save(env.conn.BaseURL(), name, s); err != nil {
			return err
		}
		printSession(cmd, s)
		return nil
	},
}

var apiLoginCmd = &cobra.Command{
	Use:   "api-login",
	Short: "Log in as an API and print its access key",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newClientEnv()
		if err != nil {
			return err
		}
		apiID, err := env.apiID()
		if err != nil {
			return err
		}
		password, err := readPassword("API password: ")
		if err != nil {
			return err
		}
		ctx, cancel := env.timeout()
		defer cancel()
		key, err := env.conn.ApiLogin(ctx, apiID, password)
		if err != nil {
			return err
		}
		defer key.Destroy()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "access_key\t%s\n", base64.StdEncoding.EncodeToString(key.AccessKey()))
		if root := key.RootKey(); root != nil {
			fmt.Fprintf(out, "root_key\t%s\n", base64.StdEncoding.EncodeToString(root))
		}
		for _, p := range key.Procedures {
			fmt.Fprintf(out, "procedure\t%s\n", p)
		}
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rotate the cached session's token for an API",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newClientEnv()
		if err != nil {
			return err
		}
		s, err := env.session()
		if err != nil {
			return err
		}
		apiID, err := env.apiID()
		if err != nil {
			return err
		}
		ctx, cancel := env.timeout()
		defer cancel()
		next, err := env.conn.Refresh(ctx, s, apiID)
		if err != nil {
			return err
		}
		if err := env.cache.Save(env.conn.BaseURL(), env.cfg.Username, next); err != nil {
			return err
		}
		printSession(cmd, next)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke the cached session and forget it",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newClientEnv()
		if err != nil {
			return err
		}
		s, err := env.session()
		if err != nil {
			return err
		}
		ctx, cancel := env.timeout()
		defer cancel()
		if err := env.conn.Logout(ctx, s); err != nil && !errors.Is(err, auth.ErrNotFound) {
			return err
		}
		return env.cache.Delete(env.conn.BaseURL(), env.cfg.Username)
	},
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, apiLoginCmd, refreshCmd, logoutCmd} {
		c.Flags().StringVarP(&usernameFlag, "username", "u", "", "User name, overrides client.json")
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{apiLoginCmd, refreshCmd} {
		c.Flags().StringVar(&apiFlag, "api", "", "API id, overrides client.json")
	}
}
