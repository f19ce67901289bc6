package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"servercheck/internal/config"
	"servercheck/internal/model"
	"servercheck/internal/monitor"
)

var (
	epGroup   string
	epName    string
	epType    string
	epPort    int
	importAll bool

	endpointCmd = &cobra.Command{
		Use:   "endpoint",
		Short: "端点管理命令",
	}

	endpointAddCmd = &cobra.Command{
		Use:   "add <host>",
		Short: "添加端点",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withState(cmd.Context(), func(state *monitor.StateManager) error {
				ep, err := state.AddEndpoint(epGroup, model.Endpoint{
					Name: epName,
					Type: model.CheckType(epType),
					Host: args[0],
					Port: epPort,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "已添加: %s (%s %s) ID=%s\n", ep.Name, ep.Type, ep.Host, ep.ID)
				return nil
			})
		},
	}

	endpointListCmd = &cobra.Command{
		Use:   "list",
		Short: "列出端点及最近一次检测结果",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withState(cmd.Context(), func(state *monitor.StateManager) error {
				printGroups(cmd.OutOrStdout(), state.Snapshot())
				return errNoChange
			})
		},
	}

	endpointRemoveCmd = &cobra.Command{
		Use:   "remove <id>",
		Short: "删除端点（分组变空时一并删除）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withState(cmd.Context(), func(state *monitor.StateManager) error {
				if err := state.DeleteEndpoint(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "已删除: %s\n", args[0])
				return nil
			})
		},
	}

	endpointImportCmd = &cobra.Command{
		Use:   "import <file|url>",
		Short: "从 YAML 文件或 URL 导入端点",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groups, err := config.LoadEndpointFile(args[0])
			if err != nil {
				return err
			}
			return withState(cmd.Context(), func(state *monitor.StateManager) error {
				if importAll {
					state.Load(nil)
				}
				count := 0
				for _, g := range groups {
					created, err := state.AddGroup(g.Name)
					if err != nil {
						return err
					}
					for _, ep := range g.Endpoints {
						ep.ID = ""
						if _, err := state.AddEndpoint(created.ID, ep); err != nil {
							return err
						}
						count++
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "已导入 %d 个分组，%d 个端点\n", len(groups), count)
				return nil
			})
		},
	}

	groupCmd = &cobra.Command{
		Use:   "group",
		Short: "分组管理命令",
	}

	groupAddCmd = &cobra.Command{
		Use:   "add <name>",
		Short: "新建分组",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withState(cmd.Context(), func(state *monitor.StateManager) error {
				g, err := state.AddGroup(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "已创建分组: %s ID=%s\n", g.Name, g.ID)
				return nil
			})
		},
	}

	groupRenameCmd = &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "重命名分组",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withState(cmd.Context(), func(state *monitor.StateManager) error {
				return state.RenameGroup(args[0], args[1])
			})
		},
	}
)

// errNoChange 只读操作，无需保存
var errNoChange = errors.New("no change")

// withState 加载端点列表，执行修改后保存
func withState(ctx context.Context, fn func(state *monitor.StateManager) error) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := InitSystem(ctx); err != nil {
		return fmt.Errorf("系统初始化失败: %w", err)
	}
	defer func() { err = multierr.Append(err, CloseSystem()) }()

	state, err := loadState(ctx)
	if err != nil {
		return err
	}

	if err := fn(state); err != nil {
		if errors.Is(err, errNoChange) {
			return nil
		}
		return err
	}
	return saveState(ctx, state)
}

func init() {
	rootCmd.AddCommand(endpointCmd)
	endpointCmd.AddCommand(endpointAddCmd, endpointListCmd, endpointRemoveCmd, endpointImportCmd)
	rootCmd.AddCommand(groupCmd)
	groupCmd.AddCommand(groupAddCmd, groupRenameCmd)

	endpointAddCmd.Flags().StringVarP(&epGroup, "group", "g", "", "分组ID (默认第一个分组)")
	endpointAddCmd.Flags().StringVarP(&epName, "name", "n", "", "名称 (默认使用主机地址)")
	endpointAddCmd.Flags().StringVarP(&epType, "type", "t", "ping", "检测类型: ping/tcp/http")
	endpointAddCmd.Flags().IntVarP(&epPort, "port", "p", 0, "端口 (tcp/http，默认 80)")
	endpointImportCmd.Flags().BoolVar(&importAll, "replace", false, "导入前清空现有端点")
}
