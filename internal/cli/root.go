package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/nhirsama/rmcs-client/pkg"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var dataDir string

var rootCmd = &cobra.Command{
	Use:           "rmcs",
	Short:         "Client for the rmcs auth service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		slog.SetDefault(newLogger())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", pkg.EnvString("RMCS_DATA_DIR", "./data"), "Directory holding client.json and server.json")
}

// newLogger 根据 RMCS_LOG_LEVEL 和 RMCS_LOG_FORMAT 构造日志。未指定格式时，
// 终端输出文本，重定向时输出 JSON。
func newLogger() *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(pkg.EnvString("RMCS_LOG_LEVEL", "info")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: lvl}

	format := strings.ToLower(pkg.EnvString("RMCS_LOG_FORMAT", ""))
	if format == "" {
		format = "json"
		if term.IsTerminal(int(os.Stderr.Fd())) {
			format = "text"
		}
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func loader(file string) *pkg.JSONConfigLoader {
	l := pkg.NewJSONConfigLoader(file)
	l.DataDir = dataDir
	return l
}

// Execute Run 执行根命令
func Execute() {
	// 简单的 i18n 处理
	// 检查环境变量 LANG 是否包含 zh (例如 zh_CN.UTF-8)
	lang := os.Getenv("LANG")
	if strings.Contains(lang, "zh") {
		rootCmd.Short = "rmcs 认证服务客户端"

		// 动态更新子命令的描述
		serveCmd.Short = "启动参考认证服务端"
		loginCmd.Short = "用户登录并缓存会话"
		apiLoginCmd.Short = "API 登录并获取访问密钥"
		refreshCmd.Short = "轮换会话中的令牌"
		logoutCmd.Short = "注销并清除缓存的会话"
		tokenCmd.Short = "管理访问令牌"
		eventsCmd.Short = "订阅令牌事件"
		hashCmd.Short = "生成密码哈希"
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
