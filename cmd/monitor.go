package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"servercheck/internal/api"
	"servercheck/internal/logger"
	"servercheck/internal/schedule"
	"servercheck/internal/webhook"
)

var (
	apiPort   int
	enableWeb bool

	monitorCmd = &cobra.Command{
		Use:   "monitor",
		Short: "监控管理命令",
		Long:  "启动或停止端点检测服务",
	}

	monitorStartCmd = &cobra.Command{
		Use:   "start",
		Short: "启动检测服务",
		Long:  "启动端点检测服务，按刷新间隔和 cron 触发器定期检测所有端点，状态变化时回调 Webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// 初始化系统
			if err := InitSystem(ctx); err != nil {
				return fmt.Errorf("系统初始化失败: %w", err)
			}
			cfg := GetConfig()

			scheduler, err := newScheduler(ctx)
			if err != nil {
				return err
			}

			// Webhook 告警
			hook := webhook.NewClient(cfg.Webhook)
			scheduler.OnRound(hook.HandleRound)
			if hook.Enabled() {
				logger.Infof("Webhook: %s", cfg.Webhook.URL)
			}

			// 定时触发器：存储中的 + 环境变量中的
			scheduleManager := schedule.NewManager(scheduler, GetStore())
			if err := scheduleManager.Load(ctx); err != nil {
				logger.Warnf("加载定时触发器失败: %v", err)
			}
			for _, spec := range cfg.CronSpecs {
				if _, err := scheduleManager.AddSpec(ctx, "CRON_SPECS", spec, true); err != nil {
					logger.Warnf("忽略无效的 CRON_SPECS 项 %q: %v", spec, err)
				}
			}
			scheduleManager.Start()
			logger.Infof("定时触发调度器已启动，共 %d 个触发器", scheduleManager.Count())

			// 启动 API
			var apiServer *api.Server
			if enableWeb {
				port := cfg.APIPort
				if cmd.Flags().Changed("port") {
					port = apiPort
				}
				apiServer = api.NewServer(api.Options{
					Scheduler: scheduler,
					Schedules: scheduleManager,
					Store:     GetStore(),
					Webhook:   hook,
					Port:      port,
				})
				if err := apiServer.Start(); err != nil {
					logger.Warnf("启动 API 服务失败: %v", err)
				}
			}

			// 启动检测
			if err := scheduler.Start(ctx); err != nil {
				return fmt.Errorf("启动检测失败: %w", err)
			}

			logger.Info("检测服务运行中，按 Ctrl+C 停止...")
			<-ctx.Done()
			logger.Info("收到停止信号，正在关闭...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			var errs error
			if apiServer != nil {
				errs = multierr.Append(errs, apiServer.Stop(shutdownCtx))
			}
			scheduleManager.Stop()
			errs = multierr.Append(errs, scheduler.Stop())
			scheduler.Close()
			hook.Wait()
			errs = multierr.Append(errs, CloseSystem())

			if errs != nil {
				return fmt.Errorf("关闭时出错: %w", errs)
			}
			return nil
		},
	}

	monitorStopCmd = &cobra.Command{
		Use:   "stop",
		Short: "停止检测服务",
		Long:  "停止正在运行的端点检测服务",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("停止检测服务...")
			fmt.Println("请使用 Ctrl+C 或 kill 命令停止检测进程")
		},
	}
)

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.AddCommand(monitorStartCmd)
	monitorCmd.AddCommand(monitorStopCmd)

	monitorStartCmd.Flags().BoolVarP(&enableWeb, "web", "w", true, "启用 API 服务")
	monitorStartCmd.Flags().IntVarP(&apiPort, "port", "p", 8080, "API 服务端口 (默认读取 API_PORT)")
}
