package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"servercheck/internal/model"
	"servercheck/internal/monitor"
)

var (
	checkJSON       bool
	checkFailOnDown bool

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "立即检测所有端点",
		Long:  "并发检测所有端点一次，输出结果并保存到存储后退出",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := InitSystem(ctx); err != nil {
				return fmt.Errorf("系统初始化失败: %w", err)
			}
			defer func() { err = multierr.Append(err, CloseSystem()) }()

			scheduler, err := newScheduler(ctx)
			if err != nil {
				return err
			}
			defer scheduler.Close()

			if scheduler.State().Count() == 0 {
				fmt.Println("没有可检测的端点，请先使用 endpoint add 或 endpoint import 添加")
				return nil
			}

			report := scheduler.RunRound(ctx, monitor.TriggerManual)
			groups := scheduler.State().Snapshot()

			if checkJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(map[string]interface{}{
					"last_checked": scheduler.State().LastCheckedText(),
					"groups":       groups,
				}); err != nil {
					return err
				}
			} else {
				printGroups(cmd.OutOrStdout(), groups)
				fmt.Fprintf(cmd.OutOrStdout(), "\n最近检测: %s  正常: %d  异常: %d\n",
					scheduler.State().LastCheckedText(), report.Up, report.Down)
			}

			if checkFailOnDown && report.Down > 0 {
				return fmt.Errorf("%d 个端点异常", report.Down)
			}
			return nil
		},
	}
)

// printGroups 以表格形式输出端点状态
func printGroups(out io.Writer, groups []model.Group) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "分组\tID\t名称\t类型\t目标\t状态\t延迟\t原因")
	for _, g := range groups {
		for _, ep := range g.Endpoints {
			target := ep.Host
			if ep.Port > 0 {
				target = fmt.Sprintf("%s:%d", ep.Host, ep.Port)
			}
			latency := "-"
			if ep.ResponseTime != nil {
				latency = fmt.Sprintf("%.0f ms", *ep.ResponseTime)
			}
			reason := ep.Reason()
			if reason == "" {
				reason = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				g.Name, ep.ID, ep.Name, ep.Type, target, ep.Status, latency, reason)
		}
	}
	tw.Flush()
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "以 JSON 输出")
	checkCmd.Flags().BoolVar(&checkFailOnDown, "fail-on-down", false, "存在异常端点时以非零状态退出")
}
