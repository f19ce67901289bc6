package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	envFile string
	rootCmd = &cobra.Command{
		Use:   "servercheck",
		Short: "服务器可用性检测工具",
		Long: `servercheck 按分组管理一组网络端点（ping / tcp / http），
并发检测所有端点并记录状态、延迟和失败原因，支持定时刷新、cron 触发和 Webhook 告警。`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// 全局flags
	rootCmd.PersistentFlags().StringVarP(&envFile, "env", "e", "", "环境变量文件路径 (默认读取当前目录的 .env)")
}
