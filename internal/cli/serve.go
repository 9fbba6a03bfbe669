package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nhirsama/rmcs-client/internal/server"
	"github.com/nhirsama/rmcs-client/internal/service"
	"github.com/nhirsama/rmcs-client/pkg"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reference auth server",
	RunE: func(cmd *cobra.Command, args []string) error {
		l := loader("server.json")
		cfg, _, err := pkg.LoadServerConfig(l)
		if err != nil {
			return err
		}

		password, err := server.Bootstrap(cfg, service.DefaultHashParams)
		if err != nil {
			return err
		}
		if password != "" {
			if err := l.Save(cfg); err != nil {
				return err
			}
			// 明文密码只显示这一次
			fmt.Fprintf(os.Stderr, "已初始化 %s\n用户 admin 与认证 API %s 的密码: %s\n", l.Path(), cfg.AuthApi, password)
		}
		if cfg.DataDir == "" {
			cfg.DataDir = dataDir
		}

		srv, err := server.New(cfg)
		if err != nil {
			return err
		}
		defer srv.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
