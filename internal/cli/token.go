package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/nhirsama/rmcs-client/pkg/id"
	"github.com/nhirsama/rmcs-client/pkg/token"
	"github.com/spf13/cobra"
)

var tokenFlags struct {
	user   string
	auth   string
	ip     string
	expire time.Duration
	number int
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage access tokens",
}

// manager 使用缓存会话中 --api 对应的令牌访问 TokenService
func manager() (*token.Manager, *clientEnv, error) {
	env, err := newClientEnv()
	if err != nil {
		return nil, nil, err
	}
	s, err := env.session()
	if err != nil {
		return nil, nil, err
	}
	apiID, err := env.apiID()
	if err != nil {
		return nil, nil, err
	}
	m, err := env.conn.Tokens(s, apiID)
	if err != nil {
		return nil, nil, err
	}
	return m, env, nil
}

func parseIP() (netip.Addr, error) {
	if tokenFlags.ip == "" {
		return netip.Addr{}, nil
	}
	return netip.ParseAddr(tokenFlags.ip)
}

func parseUser() (id.ID, error) {
	if tokenFlags.user == "" {
		return id.Nil, errors.New("--user is required")
	}
	return id.Parse(tokenFlags.user)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue tokens for a user; --number > 1 issues a group",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUser()
		if err != nil {
			return err
		}
		ip, err := parseIP()
		if err != nil {
			return err
		}
		m, env, err := manager()
		if err != nil {
			return err
		}
		ctx, cancel := env.timeout()
		defer cancel()
		expire := time.Now().Add(tokenFlags.expire)
		if tokenFlags.number > 1 {
			issued, err := m.CreateAuthToken(ctx, userID, expire, ip, tokenFlags.number)
			if err != nil {
				return err
			}
			return printJSON(cmd, issued)
		}
		issued, err := m.CreateAccessToken(ctx, userID, tokenFlags.auth, expire, ip)
		if err != nil {
			return err
		}
		return printJSON(cmd, issued)
	},
}

var tokenGetCmd = &cobra.Command{
	Use:   "get <access-id>",
	Short: "Show one token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accessID, err := id.Parse(args[0])
		if err != nil {
			return err
		}
		m, env, err := manager()
		if err != nil {
			return err
		}
		ctx, cancel := env.timeout()
		defer cancel()
		t, err := m.ReadAccessToken(ctx, accessID)
		if err != nil {
			return err
		}
		return printJSON(cmd, t)
	},
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tokens of a group (--auth) or a user (--user)",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, env, err := manager()
		if err != nil {
			return err
		}
		ctx, cancel := env.timeout()
		defer cancel()
		var list []token.AccessToken
		if tokenFlags.auth != "" {
			list, err = m.ListAuthToken(ctx, tokenFlags.auth)
		} else {
			userID, perr := parseUser()
			if perr != nil {
				return perr
			}
			list, err = m.ListTokenByUser(ctx, userID)
		}
		if err != nil {
			return err
		}
		return printJSON(cmd, list)
	},
}

var tokenUpdateCmd = &cobra.Command{
	Use:   "update [access-id]",
	Short: "Rotate a token, or every token of a group with --auth",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ip, err := parseIP()
		if err != nil {
			return err
		}
		var u token.Update
		u.IP = ip
		if cmd.Flags().Changed("expire") {
			u.Expire = time.Now().Add(tokenFlags.expire)
		}
		m, env, err := manager()
		if err != nil {
			return err
		}
		ctx, cancel := env.timeout()
		defer cancel()
		var rotated token.Rotated
		switch {
		case len(args) == 1:
			accessID, perr := id.Parse(args[0])
			if perr != nil {
				return perr
			}
			rotated, err = m.UpdateAccessToken(ctx, accessID, u)
		case tokenFlags.auth != "":
			rotated, err = m.UpdateAuthToken(ctx, tokenFlags.auth, u)
		default:
			return errors.New("an access id or --auth is required")
		}
		if err != nil {
			return err
		}
		return printJSON(cmd, rotated)
	},
}

var tokenDeleteCmd = &cobra.Command{
	Use:   "delete [access-id]",
	Short: "Revoke a token, a group (--auth) or all tokens of a user (--user)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, env, err := manager()
		if err != nil {
			return err
		}
		ctx, cancel := env.timeout()
		defer cancel()
		switch {
		case len(args) == 1:
			accessID, perr := id.Parse(args[0])
			if perr != nil {
				return perr
			}
			err = m.DeleteAccessToken(ctx, accessID)
		case tokenFlags.auth != "":
			err = m.DeleteAuthToken(ctx, tokenFlags.auth)
		case tokenFlags.user != "":
			userID, perr := parseUser()
			if perr != nil {
				return perr
			}
			err = m.DeleteTokenByUser(ctx, userID)
		default:
			return errors.New("an access id, --auth or --user is required")
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "revoked")
		return nil
	},
}

func init() {
	tokenCmd.PersistentFlags().StringVarP(&usernameFlag, "username", "u", "", "User name of the cached session")
	tokenCmd.PersistentFlags().StringVar(&apiFlag, "api", "", "Auth API id, overrides client.json")
	tokenCmd.PersistentFlags().StringVar(&tokenFlags.user, "user", "", "User id")
	tokenCmd.PersistentFlags().StringVar(&tokenFlags.auth, "auth", "", "Auth token shared by a group")

	for _, c := range []*cobra.Command{tokenCreateCmd, tokenUpdateCmd} {
		c.Flags().StringVar(&tokenFlags.ip, "ip", "", "Bind the token to this address")
		c.Flags().DurationVar(&tokenFlags.expire, "expire", 24*time.Hour, "Lifetime from now")
	}
	tokenCreateCmd.Flags().IntVarP(&tokenFlags.number, "number", "n", 1, "Number of tokens to issue in one group")

	tokenCmd.AddCommand(tokenCreateCmd, tokenGetCmd, tokenListCmd, tokenUpdateCmd, tokenDeleteCmd)
	rootCmd.AddCommand(tokenCmd)
}
